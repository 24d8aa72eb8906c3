// Package sched computes indicator records for a ranked instrument
// list under the shared request mutex and rate limiter. One run fetches
// several candle series per instrument sequentially, publishes each
// completed record immediately and persists the whole map at the end.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"perpscope/internal/cache"
	"perpscope/internal/indicator"
	"perpscope/internal/model"
	"perpscope/internal/provider"
	"perpscope/internal/ratelimit"
)

// Scope selects which priority bands a refresh covers.
type Scope string

const (
	ScopeTop   Scope = "top"
	ScopeTier2 Scope = "tier2"
	ScopeTier3 Scope = "tier3"
	ScopeAll   Scope = "all"
)

// Config wires a Scheduler.
type Config struct {
	Candles provider.CandleSource
	Limiter *ratelimit.Limiter
	Mutex   *ratelimit.Mutex // shared: at most one run system-wide
	Store   *cache.Store     // nil disables persistence

	// Provider names this scheduler's slice of the indicator cache.
	// Schedulers sharing one Store must use distinct provider names or
	// each save overwrites the others' persisted records.
	Provider string

	// StepDelay is the fixed pause before each candle sub-request.
	StepDelay time.Duration

	// BandDelay is the inter-instrument pause per band.
	BandDelay map[model.Tier]time.Duration

	// Staleness is the per-band refresh threshold: records younger than
	// this are skipped, which bounds request volume as the universe grows.
	Staleness map[model.Tier]time.Duration

	// Series lengths. Zero values take the defaults.
	DailyBars  int // default 30
	WeeklyBars int // default 20
	HourlyBars int // default 30

	// Hooks for metrics; any may be nil.
	OnFetch       func(ok bool)
	OnLimiterWait func(elapsed time.Duration)
}

// Scheduler owns the indicator record map. External reads get copies.
type Scheduler struct {
	cfg Config

	mu       sync.RWMutex
	records  map[string]model.IndicatorRecord
	progress string

	subMu    sync.Mutex
	recSubs  map[int]func(model.IndicatorRecord)
	progSubs map[int]func(string)
	nextSub  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler, warm-starting the record map from the cache
// when one is configured.
func New(cfg Config) *Scheduler {
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = 200 * time.Millisecond
	}
	if cfg.DailyBars <= 0 {
		cfg.DailyBars = 30
	}
	if cfg.WeeklyBars <= 0 {
		cfg.WeeklyBars = 20
	}
	if cfg.HourlyBars <= 0 {
		cfg.HourlyBars = 30
	}
	if cfg.BandDelay == nil {
		cfg.BandDelay = map[model.Tier]time.Duration{
			model.TierTop: 250 * time.Millisecond,
			model.Tier2:   500 * time.Millisecond,
			model.Tier3:   time.Second,
		}
	}
	if cfg.Staleness == nil {
		cfg.Staleness = map[model.Tier]time.Duration{
			model.TierTop: 5 * time.Minute,
			model.Tier2:   15 * time.Minute,
			model.Tier3:   60 * time.Minute,
		}
	}

	sc := &Scheduler{
		cfg:      cfg,
		records:  make(map[string]model.IndicatorRecord),
		recSubs:  make(map[int]func(model.IndicatorRecord)),
		progSubs: make(map[int]func(string)),
		now:      time.Now,
		sleep:    sleepCtx,
	}

	if cfg.Store != nil {
		if cached, _, err := cfg.Store.LoadIndicators(context.Background(), cfg.Provider); err != nil {
			log.Printf("[sched] indicator cache load: %v", err)
		} else if cached != nil {
			sc.records = cached
			log.Printf("[sched] warm start with %d cached records", len(cached))
		}
	}
	return sc
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Records returns a copy of the current record map.
func (sc *Scheduler) Records() map[string]model.IndicatorRecord {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make(map[string]model.IndicatorRecord, len(sc.records))
	for id, rec := range sc.records {
		out[id] = rec
	}
	return out
}

// Progress returns the human-readable progress line, empty when idle.
func (sc *Scheduler) Progress() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.progress
}

// SubscribeRecords registers an observer for completed records.
func (sc *Scheduler) SubscribeRecords(fn func(model.IndicatorRecord)) (unsubscribe func()) {
	sc.subMu.Lock()
	id := sc.nextSub
	sc.nextSub++
	sc.recSubs[id] = fn
	sc.subMu.Unlock()
	return func() {
		sc.subMu.Lock()
		delete(sc.recSubs, id)
		sc.subMu.Unlock()
	}
}

// SubscribeProgress registers an observer for progress-line changes.
func (sc *Scheduler) SubscribeProgress(fn func(string)) (unsubscribe func()) {
	sc.subMu.Lock()
	id := sc.nextSub
	sc.nextSub++
	sc.progSubs[id] = fn
	sc.subMu.Unlock()
	return func() {
		sc.subMu.Lock()
		delete(sc.progSubs, id)
		sc.subMu.Unlock()
	}
}

func (sc *Scheduler) publishRecord(rec model.IndicatorRecord) {
	sc.subMu.Lock()
	fns := make([]func(model.IndicatorRecord), 0, len(sc.recSubs))
	for _, fn := range sc.recSubs {
		fns = append(fns, fn)
	}
	sc.subMu.Unlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (sc *Scheduler) setProgress(p string) {
	sc.mu.Lock()
	sc.progress = p
	sc.mu.Unlock()

	sc.subMu.Lock()
	fns := make([]func(string), 0, len(sc.progSubs))
	for _, fn := range sc.progSubs {
		fns = append(fns, fn)
	}
	sc.subMu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// Refresh recomputes records for every instrument in scope whose record
// is missing or older than its band's staleness threshold. The whole
// run holds the request mutex; concurrent triggers queue and run
// sequentially. A run that acquired the mutex completes to exhaustion.
func (sc *Scheduler) Refresh(ctx context.Context, tiering model.Tiering, scope Scope) error {
	if err := sc.cfg.Mutex.Acquire(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sc.cfg.Mutex.Release()

	bands := bandsForScope(scope)
	for _, band := range bands {
		ids := tiering.Band(band)
		todo := sc.filterStale(ids, band)
		if len(todo) == 0 {
			continue
		}

		delay := sc.cfg.BandDelay[band]
		for i, id := range todo {
			sc.setProgress(fmt.Sprintf("Loading %s: %d/%d", band, i+1, len(todo)))

			rec := sc.fetchInstrument(ctx, id)
			if ctx.Err() != nil {
				break
			}

			sc.mu.Lock()
			sc.records[id] = rec
			sc.mu.Unlock()
			sc.publishRecord(rec)

			if i < len(todo)-1 {
				if err := sc.sleep(ctx, delay); err != nil {
					break
				}
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	sc.setProgress("")

	if sc.cfg.Store != nil {
		if err := sc.cfg.Store.SaveIndicators(ctx, sc.cfg.Provider, sc.Records()); err != nil {
			log.Printf("[sched] indicator cache save: %v", err)
		}
	}
	return ctx.Err()
}

func bandsForScope(scope Scope) []model.Tier {
	switch scope {
	case ScopeTop:
		return []model.Tier{model.TierTop}
	case ScopeTier2:
		return []model.Tier{model.Tier2}
	case ScopeTier3:
		return []model.Tier{model.Tier3}
	default:
		return []model.Tier{model.TierTop, model.Tier2, model.Tier3}
	}
}

// filterStale keeps ids whose record is missing or past the band's
// threshold. Repeated refreshes with nothing stale do zero fetches.
func (sc *Scheduler) filterStale(ids []string, band model.Tier) []string {
	threshold := sc.cfg.Staleness[band]
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, ok := sc.records[id]
		if !ok || sc.now().Sub(rec.LastUpdated) >= threshold {
			out = append(out, id)
		}
	}
	return out
}

// fetchInstrument runs the three-step candle pipeline for one id. Each
// sub-step failure is logged and leaves its derived fields nil; nothing
// aborts the record.
func (sc *Scheduler) fetchInstrument(ctx context.Context, id string) model.IndicatorRecord {
	rec := model.IndicatorRecord{ID: id, LastUpdated: sc.now()}

	// Step a: daily series → daily RSIs, 7d change, 7d sparkline.
	if daily, err := sc.fetchSeries(ctx, id, model.Interval1d, sc.cfg.DailyBars); err != nil {
		log.Printf("[sched] %s daily candles: %v", id, err)
	} else {
		closes := model.Closes(daily)
		if v, ok := indicator.RSI(closes, 7); ok {
			rec.RSI7 = model.Float(v)
		}
		if v, ok := indicator.RSI(closes, 14); ok {
			rec.RSI14 = model.Float(v)
		}
		if v, ok := indicator.WindowChange(closes, 7); ok {
			rec.Change7d = model.Float(v)
		}
		rec.Sparkline7d = indicator.Sparkline(closes, 7)
	}

	// Step b: weekly series → weekly RSIs. Non-fatal.
	if weekly, err := sc.fetchSeries(ctx, id, model.Interval1w, sc.cfg.WeeklyBars); err != nil {
		log.Printf("[sched] %s weekly candles: %v", id, err)
	} else {
		closes := model.Closes(weekly)
		if v, ok := indicator.RSI(closes, 7); ok {
			rec.RSIW7 = model.Float(v)
		}
		if v, ok := indicator.RSI(closes, 14); ok {
			rec.RSIW14 = model.Float(v)
		}
	}

	// Step c: hourly series → 1h/4h change, 24h sparkline. Falls back
	// to a minimal two-bar 4h fetch for the 4h change alone.
	if hourly, err := sc.fetchSeries(ctx, id, model.Interval1h, sc.cfg.HourlyBars); err != nil {
		log.Printf("[sched] %s hourly candles: %v", id, err)
		if fourH, err := sc.fetchSeries(ctx, id, model.Interval4h, 2); err != nil {
			log.Printf("[sched] %s 4h fallback: %v", id, err)
		} else if v, ok := indicator.WindowChange(model.Closes(fourH), 1); ok {
			rec.Change4h = model.Float(v)
		}
	} else {
		closes := model.Closes(hourly)
		if v, ok := indicator.WindowChange(closes, 1); ok {
			rec.Change1h = model.Float(v)
		}
		if v, ok := indicator.WindowChange(closes, 4); ok {
			rec.Change4h = model.Float(v)
		}
		rec.Sparkline24h = indicator.Sparkline(closes, 24)
	}

	return rec
}

// fetchSeries applies the pacing policy (fixed step delay, then a rate
// limiter slot) before one candle request.
func (sc *Scheduler) fetchSeries(ctx context.Context, id string, interval model.Interval, limit int) ([]model.Candle, error) {
	if err := sc.sleep(ctx, sc.cfg.StepDelay); err != nil {
		return nil, err
	}
	waitStart := sc.now()
	if err := sc.cfg.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if sc.cfg.OnLimiterWait != nil {
		sc.cfg.OnLimiterWait(sc.now().Sub(waitStart))
	}
	candles, err := sc.cfg.Candles.Candles(ctx, id, interval, limit)
	if sc.cfg.OnFetch != nil {
		sc.cfg.OnFetch(err == nil)
	}
	return candles, err
}
