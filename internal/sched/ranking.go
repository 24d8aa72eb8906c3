package sched

import (
	"context"
	"sort"
	"time"

	"perpscope/internal/cache"
	"perpscope/internal/model"
)

// BuildTiering produces the indicator-priority ordering. Market-cap rank
// drives it when a fresh cap-rank map is cached; 24h notional volume is
// the proxy otherwise. This ordering is deliberately independent of the
// volume ordering the sync manager uses for stream inclusion — neither
// substitutes for the other.
func BuildTiering(ctx context.Context, store *cache.Store, instruments map[string]model.Instrument,
	topSize, tier2Size int, capTTL time.Duration) model.Tiering {

	if store != nil {
		if ranks, fresh, err := store.LoadCapRanks(ctx, capTTL); err == nil && fresh && len(ranks) > 0 {
			return rankByCap(instruments, ranks, topSize, tier2Size)
		}
	}
	return model.RankByVolume(instruments, topSize, tier2Size)
}

// rankByCap orders by cap rank ascending; ids without a rank follow,
// ordered by volume descending.
func rankByCap(instruments map[string]model.Instrument, ranks map[string]int, topSize, tier2Size int) model.Tiering {
	ids := make([]string, 0, len(instruments))
	for id := range instruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		ra, okA := ranks[ids[a]]
		rb, okB := ranks[ids[b]]
		switch {
		case okA && okB:
			if ra != rb {
				return ra < rb
			}
			return ids[a] < ids[b]
		case okA:
			return true
		case okB:
			return false
		default:
			va, vb := instruments[ids[a]].QuoteVolume, instruments[ids[b]].QuoteVolume
			if va != vb {
				return va > vb
			}
			return ids[a] < ids[b]
		}
	})
	return model.NewTiering(ids, topSize, tier2Size)
}
