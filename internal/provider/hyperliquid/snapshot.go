package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"perpscope/internal/model"
)

// metaAndAssetCtxs responds with a two-element array:
// [ {universe: [{name, ...}]}, [ {markPx, prevDayPx, dayNtlVlm,
// funding, openInterest}, ... ] ], positions aligned by index.
type meta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type assetCtx struct {
	MarkPx       string `json:"markPx"`
	PrevDayPx    string `json:"prevDayPx"`
	DayNtlVlm    string `json:"dayNtlVlm"`
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
}

// FetchAll pulls the whole perp universe in one metaAndAssetCtxs call.
func (c *Client) FetchAll(ctx context.Context) ([]model.Instrument, error) {
	var resp []json.RawMessage
	if err := c.postInfo(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &resp); err != nil {
		return nil, fmt.Errorf("hyperliquid snapshot: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("hyperliquid snapshot: unexpected shape")
	}

	var m meta
	if err := json.Unmarshal(resp[0], &m); err != nil {
		return nil, fmt.Errorf("hyperliquid snapshot meta: %w", err)
	}
	var rawCtxs []json.RawMessage
	if err := json.Unmarshal(resp[1], &rawCtxs); err != nil {
		return nil, fmt.Errorf("hyperliquid snapshot ctxs: %w", err)
	}

	out := make([]model.Instrument, 0, len(m.Universe))
	for i, asset := range m.Universe {
		if i >= len(rawCtxs) {
			break
		}
		var cx assetCtx
		if err := json.Unmarshal(rawCtxs[i], &cx); err != nil {
			continue
		}
		price := parseFloat(cx.MarkPx)
		if price <= 0 {
			continue
		}
		prev := parseFloat(cx.PrevDayPx)
		change := 0.0
		if prev > 0 {
			change = (price - prev) / prev * 100
		}

		out = append(out, model.Instrument{
			ID:           scopedID(asset.Name),
			Provider:     providerName,
			Symbol:       asset.Name,
			Price:        price,
			Change24h:    change,
			QuoteVolume:  parseFloat(cx.DayNtlVlm),
			FundingRate:  parseFloat(cx.Funding),
			OpenInterest: parseFloat(cx.OpenInterest),
			PrevPrice24h: prev,
			Raw:          rawCtxs[i],
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
