package model

import "sort"

// Tier identifies a contiguous priority band over a ranked instrument
// list. Tiers control stream inclusion and indicator refresh cadence.
type Tier int

const (
	TierTop Tier = iota // rank 1..topSize
	Tier2               // next band
	Tier3               // remainder
)

func (t Tier) String() string {
	switch t {
	case TierTop:
		return "top"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	default:
		return "unknown"
	}
}

// Tiering is a snapshot of tier boundaries over one ranked id list.
// Boundaries are recomputed whenever the ranking input changes; the
// struct itself is immutable once built.
type Tiering struct {
	Ranked   []string // ids in rank order, best first
	TopSize  int
	Tier2Len int
}

// RankByVolume orders instruments by 24h notional volume descending and
// returns a Tiering with the given band sizes. Ties break by id so the
// ordering is deterministic across runs.
func RankByVolume(instruments map[string]Instrument, topSize, tier2Size int) Tiering {
	ids := make([]string, 0, len(instruments))
	for id := range instruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		va, vb := instruments[ids[a]].QuoteVolume, instruments[ids[b]].QuoteVolume
		if va != vb {
			return va > vb
		}
		return ids[a] < ids[b]
	})
	return NewTiering(ids, topSize, tier2Size)
}

// NewTiering builds a Tiering over an already-ranked id list, clamping
// band sizes to the list length.
func NewTiering(ranked []string, topSize, tier2Size int) Tiering {
	if topSize > len(ranked) {
		topSize = len(ranked)
	}
	t2 := tier2Size
	if topSize+t2 > len(ranked) {
		t2 = len(ranked) - topSize
	}
	return Tiering{Ranked: ranked, TopSize: topSize, Tier2Len: t2}
}

// TierOf returns the tier of the given rank index (0-based).
func (t Tiering) TierOf(rankIdx int) Tier {
	switch {
	case rankIdx < t.TopSize:
		return TierTop
	case rankIdx < t.TopSize+t.Tier2Len:
		return Tier2
	default:
		return Tier3
	}
}

// Top returns the ids in the top band, i.e. the stream-subscription set.
func (t Tiering) Top() []string {
	return append([]string(nil), t.Ranked[:t.TopSize]...)
}

// Band returns the ids belonging to one tier.
func (t Tiering) Band(tier Tier) []string {
	var lo, hi int
	switch tier {
	case TierTop:
		lo, hi = 0, t.TopSize
	case Tier2:
		lo, hi = t.TopSize, t.TopSize+t.Tier2Len
	default:
		lo, hi = t.TopSize+t.Tier2Len, len(t.Ranked)
	}
	return append([]string(nil), t.Ranked[lo:hi]...)
}
