package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/agenda/adapter/cli"
	"github.com/felixgeelhaar/agenda/internal/app"
	"github.com/felixgeelhaar/agenda/pkg/config"
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

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
	logCfg.ServiceName = "agenda-cli"
	logCfg.ServiceVersion = cli.Version
	if cfg.IsDevelopment() {
		logCfg.AddSource = true
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}

	cli.SetApp(&cli.App{
		Rescheduler:              container.Rescheduler,
		CancelAppointmentHandler: container.CancelAppointmentHandler,
		ChangeStatusHandler:      container.ChangeStatusHandler,
		GetDayGridHandler:        container.GetDayGridHandler,
		Sync:                     container.Sync,
		Reconciler:               container.Reconciler,
		Connectivity:             container.Connectivity,
		OutboxProcessor:          container.OutboxProcessor,
		Health:                   container.Health,
		Role:                     container.Role,
		LookAheadDays:            cfg.LookAheadDays,
	})

	err = cli.Execute(ctx)
	container.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
