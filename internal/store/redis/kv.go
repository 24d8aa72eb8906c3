// Package redis provides the redis-backed cache Backend. All calls pass
// through a circuit breaker; while the breaker is open, reads and writes
// fall back to an in-process mirror so the engine keeps serving (possibly
// stale) data instead of failing.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"perpscope/internal/cache"
)

const keyPrefix = "perpscope:"

// Config configures the redis KV backend.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker settings; zero values take the defaults (5 failures, 10s).
	MaxFailures  int
	ResetTimeout time.Duration
}

// KV implements cache.Backend on redis.
type KV struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	mirror  *cache.Memory

	// OnBreakerChange is an optional metrics hook.
	OnBreakerChange func(from, to State)
}

// New creates a KV backend and pings the server.
func New(cfg Config) (*KV, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.ResetTimeout
	if resetTimeout == 0 {
		resetTimeout = 10 * time.Second
	}

	kv := &KV{
		client:  client,
		mirror:  cache.NewMemory(),
		breaker: NewCircuitBreaker(maxFailures, resetTimeout),
	}
	kv.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if kv.OnBreakerChange != nil {
			kv.OnBreakerChange(from, to)
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return kv, nil
}

// Client returns the underlying client for health checks.
func (kv *KV) Client() *goredis.Client { return kv.client }

// Close releases the redis connection.
func (kv *KV) Close() error { return kv.client.Close() }

// Get reads a key, falling back to the mirror when redis is unavailable.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := kv.breaker.Execute(func() error {
		b, err := kv.client.Get(ctx, keyPrefix+key).Bytes()
		if err == goredis.Nil {
			val = nil
			return nil
		}
		val = b
		return err
	})
	if err != nil {
		return kv.mirror.Get(ctx, key)
	}
	if val == nil {
		return nil, cache.ErrNotFound
	}
	// Keep the mirror warm for breaker-open reads.
	kv.mirror.Set(ctx, key, val)
	return val, nil
}

// Set writes a key. The mirror is always updated so a breaker-open
// period still sees the latest process-local state.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	kv.mirror.Set(ctx, key, value)
	err := kv.breaker.Execute(func() error {
		return kv.client.Set(ctx, keyPrefix+key, value, 0).Err()
	})
	if err != nil {
		log.Printf("[redis] set %q degraded to memory: %v", key, err)
	}
	return nil
}

// Delete removes a key from redis and the mirror.
func (kv *KV) Delete(ctx context.Context, key string) error {
	kv.mirror.Delete(ctx, key)
	err := kv.breaker.Execute(func() error {
		return kv.client.Del(ctx, keyPrefix+key).Err()
	})
	if err != nil {
		log.Printf("[redis] del %q degraded to memory: %v", key, err)
	}
	return nil
}
