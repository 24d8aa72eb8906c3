// Package metrics exposes Prometheus instrumentation and the
// /metrics + /healthz HTTP server for the market-data engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Snapshot path
	SnapshotsTotal  *prometheus.CounterVec // labels: provider, result
	SnapshotDur     *prometheus.HistogramVec
	InstrumentCount *prometheus.GaugeVec // labels: provider

	// Stream path
	StreamUpdatesTotal *prometheus.CounterVec // labels: provider
	StreamReconnects   *prometheus.CounterVec
	StreamState        *prometheus.GaugeVec // 0=idle,1=connecting,2=open,3=closed,4=stopped

	// Indicator scheduler
	IndicatorFetchesTotal *prometheus.CounterVec // labels: provider, result
	SchedulerRunDur       *prometheus.HistogramVec
	RateLimitWaitDur      prometheus.Histogram

	// Cache
	CacheErrors              prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open

	// Gateway
	WSClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_snapshots_total",
			Help: "Bulk snapshot fetches by provider and result",
		}, []string{"provider", "result"}),
		SnapshotDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpscope_snapshot_duration_seconds",
			Help:    "Bulk snapshot fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		InstrumentCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_instruments",
			Help: "Instruments currently in the published map",
		}, []string{"provider"}),

		StreamUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_stream_updates_total",
			Help: "Price deltas applied from the push stream",
		}, []string{"provider"}),
		StreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_stream_reconnects_total",
			Help: "Stream reconnect attempts",
		}, []string{"provider"}),
		StreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpscope_stream_state",
			Help: "Stream state (0=idle, 1=connecting, 2=open, 3=closed, 4=stopped)",
		}, []string{"provider"}),

		IndicatorFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpscope_indicator_fetches_total",
			Help: "Candle-series fetches by provider and result",
		}, []string{"provider", "result"}),
		SchedulerRunDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpscope_scheduler_run_duration_seconds",
			Help:    "Full indicator refresh run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"provider"}),
		RateLimitWaitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpscope_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),

		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpscope_cache_errors_total",
			Help: "Cache read/write failures",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpscope_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
	}

	prometheus.MustRegister(
		m.SnapshotsTotal,
		m.SnapshotDur,
		m.InstrumentCount,
		m.StreamUpdatesTotal,
		m.StreamReconnects,
		m.StreamState,
		m.IndicatorFetchesTotal,
		m.SchedulerRunDur,
		m.RateLimitWaitDur,
		m.CacheErrors,
		m.RedisCircuitBreakerState,
		m.WSClients,
	)

	return m
}

// Result label helper.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected  map[string]bool `json:"stream_connected"`
	LastSnapshotTime time.Time       `json:"last_snapshot_time"`
	RedisConnected   bool            `json:"redis_connected"`
	SQLiteOK         bool            `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StreamConnected: make(map[string]bool),
		StartedAt:       time.Now(),
	}
}

func (h *HealthStatus) SetStreamConnected(provider string, v bool) {
	h.mu.Lock()
	h.StreamConnected[provider] = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSnapshotTime(t time.Time) {
	h.mu.Lock()
	h.LastSnapshotTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	anyStream := false
	for _, connected := range h.StreamConnected {
		if connected {
			anyStream = true
			break
		}
	}

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !anyStream {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	snapshotAge := ""
	if !h.LastSnapshotTime.IsZero() {
		snapshotAge = time.Since(h.LastSnapshotTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string          `json:"status"`
		Uptime          string          `json:"uptime"`
		StreamConnected map[string]bool `json:"stream_connected"`
		SnapshotAge     string          `json:"snapshot_age"`
		RedisConnected  bool            `json:"redis_connected"`
		RedisLatencyMs  float64         `json:"redis_latency_ms"`
		SQLiteOK        bool            `json:"sqlite_ok"`
		SQLiteLatencyMs float64         `json:"sqlite_latency_ms"`
		LastCheckAt     string          `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		SnapshotAge:     snapshotAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
