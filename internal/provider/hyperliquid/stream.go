package hyperliquid

import (
	"encoding/json"
	"strconv"
	"time"

	"perpscope/internal/stream"
)

// StreamSpec describes the allMids subscription: one frame subscribes
// the entire universe, pings are application-level JSON.
func (c *Client) StreamSpec() stream.Spec {
	return stream.Spec{
		URL:             c.StreamURL,
		SubscribeFrames: subscribeFrames,
		HeartbeatFrame: func() []byte {
			return []byte(`{"method":"ping"}`)
		},
		HeartbeatEvery: 50 * time.Second,
		Parse:          parseFrame,
	}
}

// StreamsAll is true: allMids pushes every coin regardless of the
// subscription set, so tiering only drives indicator priority here.
func (c *Client) StreamsAll() bool { return true }

func subscribeFrames(_ []string) [][]byte {
	frame, _ := json.Marshal(map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	})
	return [][]byte{frame}
}

// wsFrame is the envelope of every push message.
type wsFrame struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// parseFrame turns an allMids push into per-coin price updates. Pong
// frames and subscription acks fall through the channel check.
func parseFrame(msg []byte) []stream.Update {
	var frame wsFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil
	}
	if frame.Channel != "allMids" || len(frame.Data.Mids) == 0 {
		return nil
	}
	out := make([]stream.Update, 0, len(frame.Data.Mids))
	for coin, mid := range frame.Data.Mids {
		price, err := strconv.ParseFloat(mid, 64)
		if err != nil || price <= 0 {
			continue
		}
		out = append(out, stream.Update{ID: scopedID(coin), Price: price})
	}
	return out
}
