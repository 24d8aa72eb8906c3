package model

import (
	"encoding/json"
	"time"
)

// Instrument represents one tradeable perpetual contract as seen by a
// single provider. ID is provider-scoped ("asterdex:BTCUSDT") so the same
// base symbol on two providers never collides.
type Instrument struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Symbol       string  `json:"symbol"`       // base symbol, e.g. "BTC"
	Price        float64 `json:"price"`
	Change24h    float64 `json:"change_24h"`   // percent
	QuoteVolume  float64 `json:"quote_volume"` // 24h notional in quote units
	FundingRate  float64 `json:"funding_rate,omitempty"`
	OpenInterest float64 `json:"open_interest,omitempty"`

	// PrevPrice24h is the reference price 24h ago, kept so stream price
	// pushes can recompute Change24h without a snapshot round-trip.
	PrevPrice24h float64 `json:"prev_price_24h,omitempty"`

	// Raw is the provider payload as received, retained for downstream
	// derivation. Opaque to the engine; never mutated after normalization.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Status describes the sync engine's connection state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusError      Status = "error"
)

// StatusInfo pairs a Status with the time of the last successful update
// from either the stream or the snapshot poller.
type StatusInfo struct {
	Status     Status    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
}
