// Package ratelimit provides the admission-control primitives shared by
// everything that talks to a provider: a sliding-window rate limiter and
// a FIFO mutex that serializes the indicator fetch pipeline.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// safetyMargin is added to the sleep when the window is full, so a
// wake-up lands strictly after the oldest admission has expired.
const safetyMargin = 25 * time.Millisecond

// Limiter bounds outbound request rate to at most maxRequests per
// trailing window. It only delays callers, never rejects them.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu         sync.Mutex
	admissions []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Wait blocks until admitting one more request keeps the trailing window
// under the configured maximum, then records the admission. Returns early
// with ctx.Err() if the context is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.admissions) < l.maxRequests {
			l.admissions = append(l.admissions, now)
			l.mu.Unlock()
			return nil
		}

		// Window full: sleep until the oldest admission exits, then
		// re-check. FIFO-by-arrival of the retries is the only ordering
		// guarantee.
		oldest := l.admissions[0]
		l.mu.Unlock()

		sleep := oldest.Add(l.window).Sub(now) + safetyMargin
		if sleep < 0 {
			sleep = safetyMargin
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns the number of admissions still inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.admissions)
}

// prune drops admissions older than the window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admissions) && !l.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[i:]...)
	}
}
