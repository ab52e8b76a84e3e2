// Package main provides the local sync daemon. Clients on the same device talk to it
// over REST and receive sync events over WebSocket on LISTEN_ADDR.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NOVUMSOLVO/careunity-network-sub001/cmd/syncd/handlers"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/config"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/db"
	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	syncpkg "github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/scheduler"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

const serviceName = "careunity-syncd"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.ErrorWithCode("Failed to load configuration", string(apperrors.CodeOf(err)), err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("Sync daemon exited with error", err)
		os.Exit(1)
	}
}

// daemon holds everything run starts, so it can be torn down in order.
type daemon struct {
	store     *db.DB
	client    *syncpkg.Client
	probe     *connectivity.Probe
	scheduler *scheduler.Scheduler
	hub       *WSHub
	server    *http.Server
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	var monitor connectivity.Monitor
	var probe *connectivity.Probe
	if cfg.HealthURL != "" {
		probe = connectivity.NewProbe(cfg.HealthURL, cfg.ProbeInterval, nil)
		monitor = probe
	} else {
		logging.Warn("HEALTH_URL not set, assuming always online", nil)
		monitor = connectivity.NewManual(true)
	}

	client := syncpkg.NewClient(db.NewKVStore(store), syncpkg.Options{
		Transport: transport.NewHTTPTransport(transport.Options{
			BaseURL:        cfg.APIBaseURL,
			Token:          cfg.APIToken,
			RequestTimeout: cfg.RequestTimeout,
			RateLimit:      cfg.RateLimitRPS,
			Burst:          cfg.RateLimitBurst,
		}),
		Monitor:      monitor,
		Queue:        cfg.QueueConfig(),
		CacheHotSize: cfg.CacheHotSize,
		CacheHotTTL:  cfg.CacheHotTTL,
	})

	hub := NewWSHub()
	client.SetEventHandler(hub)
	monitor.Subscribe(func(online bool) {
		hub.OnSyncEvent(syncpkg.SyncEvent{
			Type:      syncpkg.EventConnectivity,
			Timestamp: time.Now(),
			Data:      map[string]bool{"online": online},
		})
	})

	sched := scheduler.NewScheduler(client, monitor, &scheduler.SchedulerConfig{
		SyncInterval: cfg.SyncInterval,
	})

	d := &daemon{store: store, client: client, probe: probe, scheduler: sched, hub: hub}
	d.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           d.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

func (d *daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", handlers.HealthHandler(serviceName))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", HandleWebSocket(d.hub))

	handlers.NewSyncHandler(d.scheduler, d.client.Queue(), d.client.Ledger(), d.client.Cache()).Routes(r)
	return r
}

func run(ctx context.Context, cfg *config.Config) error {
	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.store.Close()

	if d.probe != nil {
		d.probe.Start(ctx)
	}
	d.scheduler.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logging.Info("Sync daemon listening",
			map[string]interface{}{"addr": cfg.ListenAddr, "api_base_url": cfg.APIBaseURL})
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received", nil)
	case err := <-serverErr:
		if err != nil {
			d.shutdown()
			return err
		}
	}

	d.shutdown()
	return nil
}

// shutdown stops accepting requests, then background work, then the hub.
func (d *daemon) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown failed", err)
	}
	d.scheduler.Stop()
	if d.probe != nil {
		d.probe.Stop()
	}
	d.hub.Stop()
	logging.Info("Sync daemon stopped", nil)
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
	})
}
