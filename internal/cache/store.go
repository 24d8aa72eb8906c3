// Package cache implements the TTL-wrapped key/value cache that
// persists indicator data, rank data and user preferences between runs.
// Values are stored as a JSON envelope {data, timestamp}; freshness is
// decided at read time against a per-key TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotFound is returned by backends when a key has no value.
var ErrNotFound = errors.New("cache: key not found")

// TTLForever marks durable preference data: never stale on freshness
// checks, wiped only by explicit version-gated invalidation.
const TTLForever = time.Duration(math.MaxInt64)

// Backend is the raw byte store under the cache. Implementations:
// redis (internal/store/redis), sqlite (internal/store/sqlite) and the
// in-memory store in this package.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Entry wraps a cached payload with its write timestamp.
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
}

// Valid reports whether the entry is still fresh under the given TTL.
func (e *Entry[T]) Valid(ttl time.Duration) bool {
	if e == nil {
		return false
	}
	if ttl == TTLForever {
		return true
	}
	return time.Since(e.Timestamp) < ttl
}

// Store is the typed cache façade over a Backend.
type Store struct {
	backend Backend

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// envelope is the persisted JSON shape. Timestamp is unix milliseconds,
// matching what earlier releases wrote.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Get reads and unwraps the entry at key. A stored value that is not an
// envelope is treated as legacy: unwrapped payload, timestamp = now.
// The legacy value is never rewritten in place. Returns (nil, nil) on a
// missing key.
func Get[T any](ctx context.Context, s *Store, key string) (*Entry[T], error) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Timestamp > 0 && env.Data != nil {
		var data T
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("cache decode %q: %w", key, err)
		}
		return &Entry[T]{Data: data, Timestamp: time.UnixMilli(env.Timestamp)}, nil
	}

	// Legacy shape: the raw value is the payload itself.
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("cache decode legacy %q: %w", key, err)
	}
	return &Entry[T]{Data: data, Timestamp: s.now()}, nil
}

// Set wraps data in an envelope stamped now and writes it to key.
func Set[T any](ctx context.Context, s *Store, key string, data T) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	raw, err := json.Marshal(envelope{Data: payload, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Remove deletes the entry at key. Missing keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("cache remove %q: %w", key, err)
	}
	return nil
}
