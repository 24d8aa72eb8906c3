package cache

import (
	"context"
	"encoding/json"
	"time"

	"perpscope/internal/model"
)

// Cache keys. Data keys are wiped by the version gate; preference keys
// survive it.
const (
	KeyIndicators = "indicators"
	KeyCapRanks   = "caprank"
	KeyLogos      = "logos"

	KeyFavorites = "favorites"
	KeyLayout    = "layout"
	KeyFilters   = "filters"

	KeyVersion = "app_version"
)

// dataKeys are the market-data caches invalidated on a version bump.
// Indicator keys are namespaced per provider and handled separately.
var dataKeys = []string{KeyIndicators, KeyCapRanks, KeyLogos}

// IndicatorsKey returns the indicator-map key for one provider. Each
// provider's scheduler persists under its own key so neither overwrites
// the other's records with stale warm-start copies.
func IndicatorsKey(provider string) string {
	if provider == "" {
		return KeyIndicators
	}
	return KeyIndicators + ":" + provider
}

// SaveIndicators persists the full indicator map for one provider.
func (s *Store) SaveIndicators(ctx context.Context, provider string, records map[string]model.IndicatorRecord) error {
	return Set(ctx, s, IndicatorsKey(provider), records)
}

// LoadIndicators returns the provider's cached indicator map, or nil if
// absent.
func (s *Store) LoadIndicators(ctx context.Context, provider string) (map[string]model.IndicatorRecord, time.Time, error) {
	entry, err := Get[map[string]model.IndicatorRecord](ctx, s, IndicatorsKey(provider))
	if err != nil || entry == nil {
		return nil, time.Time{}, err
	}
	return entry.Data, entry.Timestamp, nil
}

// SaveCapRanks persists the id → market-cap-rank map.
func (s *Store) SaveCapRanks(ctx context.Context, ranks map[string]int) error {
	return Set(ctx, s, KeyCapRanks, ranks)
}

// LoadCapRanks returns the cached cap-rank map along with whether it is
// still fresh under ttl.
func (s *Store) LoadCapRanks(ctx context.Context, ttl time.Duration) (map[string]int, bool, error) {
	entry, err := Get[map[string]int](ctx, s, KeyCapRanks)
	if err != nil || entry == nil {
		return nil, false, err
	}
	return entry.Data, entry.Valid(ttl), nil
}

// SaveLogos persists the base-symbol → logo-URL map.
func (s *Store) SaveLogos(ctx context.Context, logos map[string]string) error {
	return Set(ctx, s, KeyLogos, logos)
}

// LoadLogos returns the cached logo map.
func (s *Store) LoadLogos(ctx context.Context) (map[string]string, error) {
	entry, err := Get[map[string]string](ctx, s, KeyLogos)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Data, nil
}

// SaveFavorites persists the user's favorite instrument ids. Preference
// data: TTLForever, survives version bumps.
func (s *Store) SaveFavorites(ctx context.Context, ids []string) error {
	return Set(ctx, s, KeyFavorites, ids)
}

// LoadFavorites returns the favorite id list.
func (s *Store) LoadFavorites(ctx context.Context) ([]string, error) {
	entry, err := Get[[]string](ctx, s, KeyFavorites)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Data, nil
}

// SaveFilters persists the filter-preference blob as-is.
func (s *Store) SaveFilters(ctx context.Context, filters json.RawMessage) error {
	return Set(ctx, s, KeyFilters, filters)
}

// LoadFilters returns the filter preference blob.
func (s *Store) LoadFilters(ctx context.Context) (json.RawMessage, error) {
	entry, err := Get[json.RawMessage](ctx, s, KeyFilters)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Data, nil
}

// SaveLayout persists the column-layout preference blob as-is; the
// engine never interprets it.
func (s *Store) SaveLayout(ctx context.Context, layout json.RawMessage) error {
	return Set(ctx, s, KeyLayout, layout)
}

// LoadLayout returns the layout preference blob.
func (s *Store) LoadLayout(ctx context.Context) (json.RawMessage, error) {
	entry, err := Get[json.RawMessage](ctx, s, KeyLayout)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Data, nil
}
