package stream

import "time"

// Backoff decides how long to wait before the next reconnect attempt.
// Reconnects are unbounded: the policy only shapes the delay, never
// gives up. Implementations are used from a single goroutine.
type Backoff interface {
	Next() time.Duration
	Reset()
}

// Fixed waits the same delay every attempt.
type Fixed time.Duration

func (f Fixed) Next() time.Duration { return time.Duration(f) }
func (f Fixed) Reset()              {}

// CappedExponential doubles the delay each attempt up to Max.
type CappedExponential struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

func (b *CappedExponential) Next() time.Duration {
	d := b.Base << b.attempt
	if d >= b.Max || d < b.Base { // overflow guard
		return b.Max
	}
	b.attempt++
	return d
}

func (b *CappedExponential) Reset() { b.attempt = 0 }
