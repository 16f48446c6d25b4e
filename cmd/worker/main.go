package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/agenda/internal/app"
	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/grpchealth"
	"github.com/felixgeelhaar/agenda/pkg/config"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const statsInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.DefaultLogConfig()
	logCfg.Level = observability.LogLevel(cfg.LogLevel)
	logCfg.Format = observability.LogFormat(cfg.LogFormat)
	logCfg.ServiceName = "agenda-worker"
	if cfg.IsDevelopment() {
		logCfg.Level = observability.LogLevelDebug
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("starting agenda worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return container.Connectivity.Run(ctx) })
	g.Go(func() error { return container.Reconciler.Run(ctx) })
	g.Go(func() error { return container.OutboxProcessor.Run(ctx) })
	g.Go(func() error {
		warmCache(ctx, container)
		return nil
	})
	g.Go(func() error {
		logStats(ctx, container)
		return nil
	})

	if cfg.WorkerGRPCAddr != "" {
		healthSrv := grpchealth.New(logger)
		g.Go(func() error {
			healthSrv.Track(ctx, container.Connectivity)
			return nil
		})
		g.Go(func() error { return healthSrv.ListenAndServe(ctx, cfg.WorkerGRPCAddr) })
	}

	if cfg.WorkerHealthAddr != "" {
		srv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           healthHandler(container),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		container.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// warmCache keeps the look-ahead window cached and registered as the active
// range, so every reconciliation refreshes it.
func warmCache(ctx context.Context, c *app.Container) {
	load := func() {
		from := booking.StartOfDay(time.Now())
		view, err := c.Sync.Load(ctx, from, from.AddDate(0, 0, c.Config.LookAheadDays), c.Role)
		if err != nil {
			c.Logger.Warn("failed to warm cache", "error", err)
			return
		}
		c.Logger.Debug("cache warmed", "appointments", len(view.Appointments), "stale", view.Stale)
	}

	load()
	transitions, unsubscribe := c.Connectivity.Subscribe()
	defer unsubscribe()
	ticker := time.NewTicker(c.Config.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-transitions:
			if t.Online {
				load()
			}
		case <-ticker.C:
			if c.Connectivity.Online() {
				load()
			}
		}
	}
}

func logStats(ctx context.Context, c *app.Container) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			relayStats := c.OutboxProcessor.Stats()
			syncStats := c.Reconciler.Stats()
			c.Logger.Info("worker stats",
				"online", c.Connectivity.Online(),
				"breaker", c.Remote.State(),
				"pending_changes", syncStats.Pending,
				"replayed", syncStats.Replayed,
				"parked", syncStats.Parked,
				"notifications_sent", relayStats.Sent,
				"notifications_retrying", relayStats.Retrying,
				"notifications_dead", relayStats.Dead,
			)
		}
	}
}

func healthHandler(c *app.Container) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		relayStats := c.OutboxProcessor.Stats()
		syncStats := c.Reconciler.Stats()
		response := map[string]any{
			"status":          "ok",
			"online":          c.Connectivity.Online(),
			"breaker":         c.Remote.State(),
			"pending_changes": syncStats.Pending,
			"last_sync_at":    syncStats.LastRunAt,
			"last_sync_error": syncStats.LastError,
			"notifications": map[string]any{
				"sent":       relayStats.Sent,
				"retrying":   relayStats.Retrying,
				"dead":       relayStats.Dead,
				"last_error": relayStats.LastError,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		results := c.Health.Check(checkCtx)
		status := c.Health.OverallStatus()

		w.Header().Set("Content-Type", "application/json")
		if status == observability.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"checks": results,
		})
	})
	return mux
}
