package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"perpscope/config"
	"perpscope/internal/cache"
	"perpscope/internal/gateway"
	"perpscope/internal/logger"
	"perpscope/internal/metrics"
	"perpscope/internal/model"
	"perpscope/internal/provider"
	"perpscope/internal/provider/asterdex"
	"perpscope/internal/provider/hyperliquid"
	"perpscope/internal/ratelimit"
	"perpscope/internal/sched"
	redisstore "perpscope/internal/store/redis"
	sqlitestore "perpscope/internal/store/sqlite"
	"perpscope/internal/stream"
	"perpscope/internal/syncmgr"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()
	logger.Init("marketd", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting marketd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Cache backend: redis when configured, sqlite otherwise ----
	backend, cleanup := openBackend(ctx, cfg, prom, health)
	defer cleanup()

	store := cache.New(backend)
	if err := store.CheckVersion(ctx, cfg.Providers()...); err != nil {
		log.Printf("[marketd] cache version check: %v", err)
		prom.CacheErrors.Inc()
	}

	// ---- Providers ----
	sources := buildSources(cfg)
	if len(sources) == 0 {
		log.Fatalf("[marketd] no providers enabled (PROVIDERS=%q)", cfg.EnabledProviders)
	}

	// ---- Shared admission control: one limiter per provider, one
	// mutex system-wide so at most one indicator pipeline runs. ----
	requestMutex := ratelimit.NewMutex()

	hub := gateway.NewHub()
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }

	managers := make(map[string]*syncmgr.Manager, len(sources))
	schedulers := make(map[string]*sched.Scheduler, len(sources))

	for _, src := range sources {
		src := src
		name := src.Name()

		mgr := syncmgr.New(syncmgr.Config{
			Source:        src,
			TopSize:       cfg.TopSize,
			Tier2Size:     cfg.Tier2Size,
			SnapshotEvery: cfg.SnapshotEvery,
			Backoff:       &stream.CappedExponential{Base: cfg.StreamBackoff, Max: time.Minute},
			OnSnapshot: func(ok bool, elapsed time.Duration) {
				prom.SnapshotsTotal.WithLabelValues(name, metrics.Result(ok)).Inc()
				prom.SnapshotDur.WithLabelValues(name).Observe(elapsed.Seconds())
				if ok {
					health.SetLastSnapshotTime(time.Now())
				}
			},
			OnStreamUpdate: func(n int) {
				prom.StreamUpdatesTotal.WithLabelValues(name).Add(float64(n))
			},
			OnStreamState: func(s stream.State) {
				prom.StreamState.WithLabelValues(name).Set(float64(s))
				health.SetStreamConnected(name, s == stream.StateOpen)
				if s == stream.StateConnecting {
					prom.StreamReconnects.WithLabelValues(name).Inc()
				}
			},
			OnInstrumentCount: func(n int) {
				prom.InstrumentCount.WithLabelValues(name).Set(float64(n))
			},
		})
		managers[name] = mgr

		limiter := ratelimit.NewLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
		sc := sched.New(sched.Config{
			Candles:   src.(provider.CandleSource),
			Limiter:   limiter,
			Mutex:     requestMutex,
			Store:     store,
			Provider:  name,
			StepDelay: cfg.StepDelay,
			BandDelay: map[model.Tier]time.Duration{
				model.TierTop: cfg.BandDelayTop,
				model.Tier2:   cfg.BandDelayTier2,
				model.Tier3:   cfg.BandDelayTier3,
			},
			Staleness: map[model.Tier]time.Duration{
				model.TierTop: cfg.StaleTop,
				model.Tier2:   cfg.StaleTier2,
				model.Tier3:   cfg.StaleTier3,
			},
			OnFetch: func(ok bool) {
				prom.IndicatorFetchesTotal.WithLabelValues(name, metrics.Result(ok)).Inc()
			},
			OnLimiterWait: func(elapsed time.Duration) {
				prom.RateLimitWaitDur.Observe(elapsed.Seconds())
			},
		})
		schedulers[name] = sc

		// Publish engine updates to the dashboard hub.
		mgr.Subscribe(func(u syncmgr.Update) {
			hub.Broadcast("tickers:"+name, u.Instruments)
			hub.Broadcast("status:"+name, u.Status)
		})
		sc.SubscribeRecords(func(rec model.IndicatorRecord) {
			hub.Broadcast("indicator:"+name, rec)
		})
		sc.SubscribeProgress(func(p string) {
			hub.Broadcast("progress:"+name, p)
		})
	}

	// ---- Start sync managers ----
	for _, mgr := range managers {
		mgr.Start(ctx)
	}
	defer func() {
		for _, mgr := range managers {
			mgr.Stop()
		}
	}()

	// Logo URLs derive from the instrument universe; compute once the
	// first snapshot is in and cache for the UI.
	for _, src := range sources {
		a, ok := src.(*asterdex.Client)
		if !ok {
			continue
		}
		mgr := managers[src.Name()]
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			insts := mgr.Snapshot().Instruments
			list := make([]model.Instrument, 0, len(insts))
			for _, inst := range insts {
				list = append(list, inst)
			}
			if logos := a.Logos(list); len(logos) > 0 {
				if err := store.SaveLogos(ctx, logos); err != nil {
					log.Printf("[marketd] logo cache save: %v", err)
					prom.CacheErrors.Inc()
				}
			}
		}()
	}

	// ---- Refresh trigger shared by the timer and the gateway ----
	refresh := func(providerName string, scope sched.Scope) {
		for name, sc := range schedulers {
			if providerName != "" && providerName != name {
				continue
			}
			name, sc := name, sc
			mgr := managers[name]
			go func() {
				start := time.Now()
				tiering := sched.BuildTiering(ctx, store,
					mgr.Snapshot().Instruments, cfg.TopSize, cfg.Tier2Size, cfg.CapRankTTL)
				if err := sc.Refresh(ctx, tiering, scope); err != nil && ctx.Err() == nil {
					log.Printf("[marketd] %s refresh: %v", name, err)
				}
				prom.SchedulerRunDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}()
		}
	}

	// Initial full refresh once the first snapshots are in, then
	// periodic top-ups. Lower bands refresh too, gated by their own
	// staleness thresholds.
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			refresh("", sched.ScopeAll)
		}
		ticker := time.NewTicker(cfg.RefreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh("", sched.ScopeAll)
			}
		}
	}()

	// ---- Gateway ----
	api := &gateway.API{
		Hub:            hub,
		Managers:       managers,
		Schedulers:     schedulers,
		Store:          store,
		TriggerRefresh: refresh,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[marketd] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[marketd] gateway: %v", err)
		}
	}()

	// ---- Wait for shutdown ----
	<-sigCh
	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
}

// openBackend picks redis when an address is configured and reachable,
// falling back to the sqlite file store.
func openBackend(ctx context.Context, cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus) (cache.Backend, func()) {
	if cfg.RedisAddr != "" {
		kv, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err == nil {
			kv.OnBreakerChange = func(_, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
			}
			health.SetRedisConnected(true)
			health.StartLivenessChecker(ctx, kv.Client(), nil, 10*time.Second)
			return kv, func() { kv.Close() }
		}
		log.Printf("[marketd] WARNING: redis init failed: %v (falling back to sqlite)", err)
	}

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	kv, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		log.Printf("[marketd] WARNING: sqlite init failed: %v (cache is memory-only)", err)
		return cache.NewMemory(), func() {}
	}
	health.SetSQLiteOK(true)
	health.StartLivenessChecker(ctx, nil, kv.DB(), 10*time.Second)
	return kv, func() { kv.Close() }
}

// buildSources instantiates the enabled provider adapters.
func buildSources(cfg *config.Config) []provider.Source {
	var out []provider.Source
	for _, name := range cfg.Providers() {
		switch name {
		case "asterdex":
			out = append(out, asterdex.New(cfg.AsterBaseURL, cfg.AsterStreamURL))
		case "hyperliquid":
			out = append(out, hyperliquid.New(cfg.HyperBaseURL, cfg.HyperStreamURL))
		default:
			log.Printf("[marketd] unknown provider %q, skipping", name)
		}
	}
	return out
}
