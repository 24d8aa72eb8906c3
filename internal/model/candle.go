package model

import "time"

// Interval enumerates the candle bar sizes the candle-history endpoints
// accept. Wire values match the provider query parameter.
type Interval string

const (
	Interval1m Interval = "1m"
	Interval1h Interval = "1h"
	Interval4h Interval = "4h"
	Interval1d Interval = "1d"
	Interval1w Interval = "1w"
)

// Candle is one OHLCV bar returned by a provider's candle-history
// endpoint. Providers return bars oldest-first; the engine preserves
// that ordering everywhere.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"` // quote volume where the provider carries it
}

// Closes extracts the close-price series from a bar slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
