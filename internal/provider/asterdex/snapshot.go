package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"perpscope/internal/model"
)

// tickerStats is one /ticker/24hr row. Prices come as strings.
type tickerStats struct {
	Symbol             string      `json:"symbol"`
	PriceChangePercent json.Number `json:"priceChangePercent"`
	QuoteVolume        json.Number `json:"quoteVolume"`
	OpenPrice          json.Number `json:"openPrice"`
	LastPrice          json.Number `json:"lastPrice"`
}

// premiumIndexRow is one /premiumIndex row; carries the live funding
// rate for every symbol in a single call.
type premiumIndexRow struct {
	Symbol          string      `json:"symbol"`
	LastFundingRate json.Number `json:"lastFundingRate"`
}

// FetchAll pulls the full 24h ticker cross-section plus the bulk funding
// feed and normalizes each row into the canonical Instrument shape.
// Rows with a non-positive last price are discarded.
func (c *Client) FetchAll(ctx context.Context) ([]model.Instrument, error) {
	var raws []json.RawMessage
	if err := c.fetchJSON(ctx, c.buildURL("/ticker/24hr", nil), &raws); err != nil {
		return nil, fmt.Errorf("asterdex snapshot: %w", err)
	}

	funding := c.fetchFunding(ctx)

	out := make([]model.Instrument, 0, len(raws))
	for _, raw := range raws {
		var ts tickerStats
		if err := json.Unmarshal(raw, &ts); err != nil {
			continue
		}
		if !strings.HasSuffix(ts.Symbol, "USDT") && !strings.HasSuffix(ts.Symbol, "USD") {
			continue
		}

		last, err := numToFloat(ts.LastPrice)
		if err != nil || last <= 0 {
			continue
		}
		pct, _ := numToFloat(ts.PriceChangePercent)
		vol, _ := numToFloat(ts.QuoteVolume)
		open, _ := numToFloat(ts.OpenPrice)

		inst := model.Instrument{
			ID:           scopedID(ts.Symbol),
			Provider:     providerName,
			Symbol:       baseSymbol(ts.Symbol),
			Price:        last,
			Change24h:    pct,
			QuoteVolume:  vol,
			PrevPrice24h: open,
			FundingRate:  funding[ts.Symbol],
			Raw:          raw,
		}
		out = append(out, inst)
	}
	return out, nil
}

// fetchFunding returns symbol → last funding rate. Best-effort: a
// failure just leaves funding rates at zero for this cycle.
func (c *Client) fetchFunding(ctx context.Context) map[string]float64 {
	var rows []premiumIndexRow
	if err := c.fetchJSON(ctx, c.buildURL("/premiumIndex", nil), &rows); err != nil {
		log.Printf("[asterdex] funding fetch: %v", err)
		return nil
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		if f, err := numToFloat(r.LastFundingRate); err == nil {
			out[r.Symbol] = f
		}
	}
	return out
}

// baseSymbol strips the quote suffix: "BTCUSDT" → "BTC".
func baseSymbol(symbol string) string {
	for _, quote := range []string{"USDT", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}
