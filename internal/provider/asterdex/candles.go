package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"perpscope/internal/model"
)

// Candles fetches the most recent `limit` bars for the instrument.
// The /klines payload is the Binance-style nested array:
// [0] openTime, [1] O, [2] H, [3] L, [4] C, [5] baseVolume,
// [6] closeTime, [7] quoteVolume, ...
func (c *Client) Candles(ctx context.Context, id string, interval model.Interval, limit int) ([]model.Candle, error) {
	return c.klines(ctx, map[string]string{
		"symbol":   symbolFromID(id),
		"interval": string(interval),
		"limit":    strconv.Itoa(limit),
	})
}

// CandlesRange fetches bars between start and end inclusive.
func (c *Client) CandlesRange(ctx context.Context, id string, interval model.Interval, start, end time.Time) ([]model.Candle, error) {
	return c.klines(ctx, map[string]string{
		"symbol":    symbolFromID(id),
		"interval":  string(interval),
		"startTime": strconv.FormatInt(start.UnixMilli(), 10),
		"endTime":   strconv.FormatInt(end.UnixMilli(), 10),
	})
}

func (c *Client) klines(ctx context.Context, params map[string]string) ([]model.Candle, error) {
	var raw [][]json.Number
	if err := c.fetchJSON(ctx, c.buildURL("/klines", params), &raw); err != nil {
		return nil, fmt.Errorf("asterdex klines %s: %w", params["symbol"], err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("asterdex klines %s: no data", params["symbol"])
	}

	out := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 8 {
			continue
		}
		ms, _ := row[0].Int64()
		o, _ := numToFloat(row[1])
		h, _ := numToFloat(row[2])
		l, _ := numToFloat(row[3])
		cl, _ := numToFloat(row[4])
		qv, _ := numToFloat(row[7])
		if qv == 0 {
			if bv, err := numToFloat(row[5]); err == nil {
				qv = bv * cl
			}
		}
		out = append(out, model.Candle{
			OpenTime: time.UnixMilli(ms).UTC(),
			Open:     o,
			High:     h,
			Low:      l,
			Close:    cl,
			Volume:   qv,
		})
	}
	return out, nil
}
