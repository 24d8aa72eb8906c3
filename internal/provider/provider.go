// Package provider defines the contracts the sync and indicator engines
// consume: a bulk snapshot pull, a candle-history source and a push
// stream spec. Each exchange adapter lives in its own subpackage.
package provider

import (
	"context"
	"time"

	"perpscope/internal/model"
	"perpscope/internal/stream"
)

// Snapshotter fetches one full cross-sectional snapshot of all
// instruments from the provider's bulk endpoint. Implementations drop
// entries with non-positive prices; a transport error yields (nil, err)
// and callers treat it as "no update this cycle", never as an empty
// market.
type Snapshotter interface {
	Name() string
	FetchAll(ctx context.Context) ([]model.Instrument, error)
}

// CandleSource fetches OHLCV history for one instrument. Rows come back
// oldest-first. The id is provider-scoped, as published by the sync
// manager.
type CandleSource interface {
	Candles(ctx context.Context, id string, interval model.Interval, limit int) ([]model.Candle, error)
	CandlesRange(ctx context.Context, id string, interval model.Interval, start, end time.Time) ([]model.Candle, error)
}

// Source is the full provider surface the sync manager composes.
type Source interface {
	Snapshotter

	// StreamSpec returns the push-protocol description for this provider.
	StreamSpec() stream.Spec

	// StreamsAll reports whether the push channel carries every
	// instrument regardless of subscription. When true, tiering affects
	// indicator priority only, not stream inclusion.
	StreamsAll() bool
}
