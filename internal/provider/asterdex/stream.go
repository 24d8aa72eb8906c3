package asterdex

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"perpscope/internal/stream"
)

// subscribeChunk bounds tokens per SUBSCRIBE frame; the gateway rejects
// oversized messages.
const subscribeChunk = 40

// StreamSpec describes the combined-stream protocol: explicit SUBSCRIBE
// frames per instrument, server pings answered at the websocket layer,
// miniTicker payloads carrying last price.
func (c *Client) StreamSpec() stream.Spec {
	return stream.Spec{
		URL:             c.StreamURL,
		SubscribeFrames: subscribeFrames,
		HeartbeatFrame:  nil, // ws ping control frames
		HeartbeatEvery:  3 * time.Minute,
		Parse:           parseFrame,
	}
}

// StreamsAll is false: only subscribed symbols are pushed, so the sync
// manager subscribes the top volume tier.
func (c *Client) StreamsAll() bool { return false }

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func subscribeFrames(ids []string) [][]byte {
	var frames [][]byte
	for i := 0; i < len(ids); i += subscribeChunk {
		end := i + subscribeChunk
		if end > len(ids) {
			end = len(ids)
		}
		params := make([]string, 0, end-i)
		for _, id := range ids[i:end] {
			params = append(params, strings.ToLower(symbolFromID(id))+"@miniTicker")
		}
		frame, _ := json.Marshal(subscribeMsg{
			Method: "SUBSCRIBE",
			Params: params,
			ID:     i/subscribeChunk + 1,
		})
		frames = append(frames, frame)
	}
	return frames
}

// combinedFrame is the envelope of the /stream endpoint.
type combinedFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

// parseFrame extracts the price from a miniTicker push. Subscription
// acks, heartbeats and malformed frames return nil.
func parseFrame(msg []byte) []stream.Update {
	var frame combinedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil
	}
	if !strings.HasSuffix(frame.Stream, "@miniTicker") || frame.Data.Symbol == "" {
		return nil
	}
	price, err := strconv.ParseFloat(frame.Data.Close, 64)
	if err != nil || price <= 0 {
		return nil
	}
	return []stream.Update{{ID: scopedID(frame.Data.Symbol), Price: price}}
}
