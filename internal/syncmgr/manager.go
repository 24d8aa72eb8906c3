// Package syncmgr keeps one provider's instrument universe fresh with a
// hybrid of push deltas and periodic full-snapshot pulls, and publishes
// the merged view to subscribers. The manager exclusively owns its
// instrument map; every publish hands out a copy, so readers never race
// the next merge.
package syncmgr

import (
	"context"
	"log"
	"sync"
	"time"

	"perpscope/internal/model"
	"perpscope/internal/provider"
	"perpscope/internal/stream"
)

// Config wires a Manager.
type Config struct {
	Source provider.Source

	// TopSize instruments by 24h notional volume form the stream tier;
	// Tier2Size the next band.
	TopSize   int
	Tier2Size int

	// SnapshotEvery is the re-snapshot cadence. Seconds-scale.
	SnapshotEvery time.Duration

	// Backoff shapes stream reconnect delays; nil means fixed 5s.
	Backoff stream.Backoff

	// Hooks for metrics; any may be nil.
	OnSnapshot        func(ok bool, elapsed time.Duration)
	OnStreamUpdate    func(n int)
	OnStreamState     func(stream.State)
	OnInstrumentCount func(n int)
}

// Update is the published view: copies of the instrument map, the
// current volume tiering and the status signal.
type Update struct {
	Instruments map[string]model.Instrument
	Tiering     model.Tiering
	Status      model.StatusInfo
}

// Manager is the per-provider sync orchestrator.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	instruments map[string]model.Instrument
	tiering     model.Tiering
	status      model.StatusInfo
	firstSnap   bool // true until the first snapshot attempt resolved

	conn   *stream.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int

	running bool
}

// New creates a stopped Manager.
func New(cfg Config) *Manager {
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 10 * time.Second
	}
	if cfg.TopSize <= 0 {
		cfg.TopSize = 50
	}
	if cfg.Tier2Size <= 0 {
		cfg.Tier2Size = 50
	}
	return &Manager{
		cfg:         cfg,
		instruments: make(map[string]model.Instrument),
		status:      model.StatusInfo{Status: model.StatusConnecting},
		firstSnap:   true,
		subs:        make(map[int]func(Update)),
	}
}

// Subscribe registers an observer for published updates and returns its
// unsubscribe handle. The observer immediately receives the current
// view so late subscribers are not blind until the next merge.
func (m *Manager) Subscribe(fn func(Update)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	fn(m.Snapshot())

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Snapshot returns a copy of the current published view.
func (m *Manager) Snapshot() Update {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewLocked()
}

// Status returns the current status signal.
func (m *Manager) Status() model.StatusInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// viewLocked builds the published copy. Caller holds mu (read or write).
func (m *Manager) viewLocked() Update {
	insts := make(map[string]model.Instrument, len(m.instruments))
	for id, inst := range m.instruments {
		insts[id] = inst
	}
	return Update{Instruments: insts, Tiering: m.tiering, Status: m.status}
}

func (m *Manager) publish() {
	m.mu.RLock()
	view := m.viewLocked()
	m.mu.RUnlock()

	if m.cfg.OnInstrumentCount != nil {
		m.cfg.OnInstrumentCount(len(view.Instruments))
	}

	m.subMu.Lock()
	fns := make([]func(Update), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}

// Start pulls the initial snapshot, opens the stream on the top volume
// tier and begins periodic re-snapshotting. Restartable after Stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.firstSnap = true
	m.status = model.StatusInfo{Status: model.StatusConnecting}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.runSnapshot(runCtx)

	m.mu.Lock()
	top := m.tiering.Top()
	m.conn = stream.New(m.cfg.Source.StreamSpec(), m.cfg.Backoff, m.applyStream, m.streamState)
	conn := m.conn
	m.mu.Unlock()

	conn.Start(top)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SnapshotEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.runSnapshot(runCtx)
			}
		}
	}()

	log.Printf("[sync:%s] started, %d instruments, top tier %d",
		m.cfg.Source.Name(), len(m.Snapshot().Instruments), len(top))
}

// Stop tears down the stream and the re-snapshot loop. Idempotent; the
// manager can be started again afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Stop()
		<-conn.Done()
	}
	m.wg.Wait()
	log.Printf("[sync:%s] stopped", m.cfg.Source.Name())
}

// runSnapshot fetches one full snapshot and merges it in.
func (m *Manager) runSnapshot(ctx context.Context) {
	start := time.Now()
	insts, err := m.cfg.Source.FetchAll(ctx)
	if m.cfg.OnSnapshot != nil {
		m.cfg.OnSnapshot(err == nil, time.Since(start))
	}
	if err != nil {
		log.Printf("[sync:%s] snapshot: %v", m.cfg.Source.Name(), err)
		m.mu.Lock()
		// Only the very first attempt may move status to error; later
		// failures are "no update this cycle".
		if m.firstSnap {
			m.firstSnap = false
			m.status.Status = model.StatusError
		}
		m.mu.Unlock()
		m.publish()
		return
	}

	m.applySnapshot(insts)
}

// applySnapshot reconciles a fresh snapshot against the live map:
// instruments inside the stream tier keep their pushed price while the
// snapshot refreshes the fields the stream cannot carry; everything
// else is overwritten wholesale. Ids absent from the snapshot are
// delisted. Tier boundaries are recomputed from the new ranking.
func (m *Manager) applySnapshot(insts []model.Instrument) {
	m.mu.Lock()

	streamLive := m.conn != nil && m.conn.Connected()

	streamSet := make(map[string]bool, m.tiering.TopSize)
	if streamLive {
		for _, id := range m.tiering.Top() {
			streamSet[id] = true
		}
	}

	next := make(map[string]model.Instrument, len(insts))
	for _, snap := range insts {
		if prev, ok := m.instruments[snap.ID]; ok && streamSet[snap.ID] {
			merged := snap
			merged.Price = prev.Price
			if merged.PrevPrice24h > 0 {
				merged.Change24h = (merged.Price - merged.PrevPrice24h) / merged.PrevPrice24h * 100
			}
			next[snap.ID] = merged
		} else {
			next[snap.ID] = snap
		}
	}

	m.instruments = next
	m.tiering = model.RankByVolume(next, m.cfg.TopSize, m.cfg.Tier2Size)
	m.firstSnap = false
	m.status = model.StatusInfo{Status: model.StatusLive, LastUpdate: time.Now()}

	newTop := m.tiering.Top()
	conn := m.conn
	streamsAll := m.cfg.Source.StreamsAll()
	m.mu.Unlock()

	if conn != nil && !streamsAll {
		conn.SetIDs(newTop)
	}
	m.publish()
}

// applyStream folds a batch of pushed price deltas into the live map.
// The push channel carries price only; the 24h change is recomputed
// from the cached reference price.
func (m *Manager) applyStream(updates []stream.Update) {
	m.mu.Lock()
	changed := 0
	for _, u := range updates {
		inst, ok := m.instruments[u.ID]
		if !ok || u.Price <= 0 {
			continue
		}
		inst.Price = u.Price
		if inst.PrevPrice24h > 0 {
			inst.Change24h = (u.Price - inst.PrevPrice24h) / inst.PrevPrice24h * 100
		}
		m.instruments[u.ID] = inst
		changed++
	}
	if changed > 0 {
		m.status = model.StatusInfo{Status: model.StatusLive, LastUpdate: time.Now()}
	}
	m.mu.Unlock()

	if m.cfg.OnStreamUpdate != nil {
		m.cfg.OnStreamUpdate(changed)
	}
	if changed > 0 {
		m.publish()
	}
}

func (m *Manager) streamState(s stream.State) {
	if m.cfg.OnStreamState != nil {
		m.cfg.OnStreamState(s)
	}
}
