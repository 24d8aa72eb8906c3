package model

import "time"

// IndicatorRecord holds the computed technical state for one instrument.
// A record is created on first successful fetch and overwritten wholesale
// on each refresh — there is no partial merge. Fields the fetch could not
// derive stay nil and render as placeholders upstream.
type IndicatorRecord struct {
	ID string `json:"id"`

	RSI7   *float64 `json:"rsi7"`   // daily, period 7
	RSI14  *float64 `json:"rsi14"`  // daily, period 14
	RSIW7  *float64 `json:"rsi_w7"` // weekly, period 7
	RSIW14 *float64 `json:"rsi_w14"`

	Change1h *float64 `json:"change_1h"`
	Change4h *float64 `json:"change_4h"`
	Change7d *float64 `json:"change_7d"`

	Sparkline24h []float64 `json:"sparkline_24h,omitempty"` // hourly closes
	Sparkline7d  []float64 `json:"sparkline_7d,omitempty"`  // daily closes

	LastUpdated time.Time `json:"last_updated"`
}

// Float returns a pointer to v, for populating optional record fields.
func Float(v float64) *float64 { return &v }
