package hyperliquid

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"perpscope/internal/model"
)

// candleRow is one candleSnapshot row. Times are unix millis.
type candleRow struct {
	T int64  `json:"t"` // open time
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
}

type candleReq struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// Candles fetches the most recent `limit` bars by converting the count
// into an explicit [start, end] range; the info endpoint has no limit
// parameter.
func (c *Client) Candles(ctx context.Context, id string, interval model.Interval, limit int) ([]model.Candle, error) {
	end := time.Now()
	start := end.Add(-time.Duration(limit) * intervalDuration(interval))
	return c.CandlesRange(ctx, id, interval, start, end)
}

// CandlesRange fetches bars between start and end, oldest-first.
func (c *Client) CandlesRange(ctx context.Context, id string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	coin := coinFromID(id)
	var rows []candleRow
	err := c.postInfo(ctx, map[string]interface{}{
		"type": "candleSnapshot",
		"req": candleReq{
			Coin:      coin,
			Interval:  string(interval),
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid candles %s: %w", coin, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("hyperliquid candles %s: no data", coin)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Candle{
			OpenTime: time.UnixMilli(r.T).UTC(),
			Open:     parseFloat(r.O),
			High:     parseFloat(r.H),
			Low:      parseFloat(r.L),
			Close:    parseFloat(r.C),
			Volume:   parseFloat(r.V),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func intervalDuration(interval model.Interval) time.Duration {
	switch interval {
	case model.Interval1m:
		return time.Minute
	case model.Interval1h:
		return time.Hour
	case model.Interval4h:
		return 4 * time.Hour
	case model.Interval1d:
		return 24 * time.Hour
	case model.Interval1w:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// coinFromID strips the provider scope: "hyperliquid:BTC" → "BTC".
func coinFromID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}
