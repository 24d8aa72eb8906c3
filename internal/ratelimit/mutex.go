package ratelimit

import (
	"context"
	"sync"
)

// Mutex is a binary lock with a FIFO wait queue. It guarantees at most
// one indicator-fetch pipeline is in flight system-wide; concurrent
// refresh triggers queue up and run fully sequentially.
//
// Release must run in a deferred call around the critical section so an
// error path never leaves the lock held.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Acquire blocks until the lock is held by the caller, honoring queue
// order. Returns ctx.Err() if the context is cancelled first; a
// cancelled waiter gives its turn to the next in line.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked && len(m.waiters) == 0 {
		m.locked = true
		m.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	m.waiters = append(m.waiters, ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		// Remove ourselves unless Release already handed us the lock.
		for i, w := range m.waiters {
			if w == ready {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		// Lock was handed over concurrently with cancellation; pass it on.
		m.mu.Unlock()
		m.Release()
		return ctx.Err()
	}
}

// Release unlocks, handing the lock to the oldest waiter if any.
// Releasing an unheld mutex is a no-op.
func (m *Mutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		close(next) // lock stays held, ownership transfers
		return
	}
	m.locked = false
}

// Locked reports whether the lock is currently held.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}
