// Package app wires the agenda services together.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	bookingApp "github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/application/commands"
	"github.com/felixgeelhaar/agenda/internal/booking/application/queries"
	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/booking/infrastructure/remote"
	offlineApp "github.com/felixgeelhaar/agenda/internal/offline/application"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agenda/pkg/config"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"github.com/uptrace/bun"
)

const startupPingTimeout = 3 * time.Second

// localStore is a cache backend the container owns.
type localStore interface {
	offline.LocalStore
	Close() error
}

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics
	Health  *observability.HealthRegistry
	Role    offline.Role
	Grid    domain.GridConfig

	// Storage
	Local    localStore
	CacheDB  *sql.DB
	RemoteDB *bun.DB
	Remote   *remote.BreakerStore
	Outbox   outbox.Repository

	// Messaging
	Publisher eventbus.Publisher

	// Sync
	Gate         *sharedApplication.MutationGate
	Connectivity *offlineApp.ConnectivityMonitor
	Sync         *offlineApp.SyncService
	Reconciler   *offlineApp.Reconciler

	// Booking
	Agenda      *bookingApp.Agenda
	Validator   *domain.Validator
	Rescheduler *bookingApp.Rescheduler

	// Command handlers
	CancelAppointmentHandler *commands.CancelAppointmentHandler
	ChangeStatusHandler      *commands.ChangeStatusHandler

	// Query handlers
	GetDayGridHandler *queries.GetDayGridHandler

	// Workers
	OutboxProcessor *outbox.Processor

	ownsCacheDB bool
}

// NewContainer creates a new dependency injection container. The remote
// store is optional at startup: when it cannot be reached the container
// starts offline and the connectivity monitor brings it back.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Container, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
		Role:    offline.Role(cfg.Role),
		Grid: domain.GridConfig{
			OpenHour:    cfg.GridOpenHour,
			CloseHour:   cfg.GridCloseHour,
			SlotMinutes: cfg.SlotMinutes,
		},
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := c.initLocal(ctx); err != nil {
		return nil, err
	}

	c.Outbox, err = outbox.NewSQLiteRepository(ctx, c.CacheDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize outbox: %w", err)
	}

	online, err := c.initRemote(ctx)
	if err != nil {
		return nil, err
	}

	c.Publisher = c.initPublisher()

	c.Gate = sharedApplication.NewMutationGate()
	c.Connectivity = offlineApp.NewConnectivityMonitor(c.Remote, offlineApp.ConnectivityConfig{
		CheckInterval:   cfg.ConnectivityCheckInterval,
		CheckTimeout:    startupPingTimeout,
		InitiallyOnline: online,
	}, c.Metrics, logger)

	notifier := bookingApp.NewOutboxNotifier(c.Outbox, logger)

	c.Sync = offlineApp.NewSyncService(
		c.Remote,
		c.Local,
		c.Connectivity,
		c.Gate,
		notifier,
		c.Metrics,
		offlineApp.SyncConfig{ReplayBatchSize: cfg.ReconcileBatchSize, MaxReplayAttempts: cfg.ReplayMaxAttempts},
		logger,
	)
	c.Reconciler = offlineApp.NewReconciler(c.Sync, c.Connectivity, offlineApp.ReconcilerConfig{
		Interval: cfg.ReconcileInterval,
	}, logger)

	c.Agenda = bookingApp.NewAgenda()
	c.Validator = domain.NewValidator(c.Grid)
	c.Rescheduler = bookingApp.NewRescheduler(
		c.Agenda,
		c.Validator,
		c.Sync,
		notifier,
		c.Gate,
		c.Metrics,
		bookingApp.ReschedulerConfig{
			CommitTimeout:      cfg.CommitTimeout,
			NoticeDismissAfter: cfg.NoticeDismissAfter,
		},
		logger,
	)

	c.CancelAppointmentHandler = commands.NewCancelAppointmentHandler(c.Agenda, c.Sync, c.Gate, logger)
	c.ChangeStatusHandler = commands.NewChangeStatusHandler(c.Agenda, c.Sync, c.Gate, logger)
	c.GetDayGridHandler = queries.NewGetDayGridHandler(c.Sync, c.Agenda, c.Grid)

	c.OutboxProcessor = outbox.NewProcessor(c.Outbox, c.Publisher, c.Metrics, outbox.DefaultProcessorConfig(), logger)

	c.Health.Register("remote_store", observability.PingChecker("remote_store", false, c.Remote.Ping))
	c.Health.Register("local_cache", observability.PingChecker("local_cache", true, c.CacheDB.PingContext))

	logger.Info("container initialized",
		"role", c.Role,
		"local_store", cfg.LocalStore,
		"online", online,
	)
	return c, nil
}

// initLocal opens the device cache. The outbox always lives in SQLite, so a
// Redis-backed cache still opens the SQLite file for it.
func (c *Container) initLocal(ctx context.Context) error {
	cfg := c.Config

	var opts []persistence.Option
	if cfg.CacheKey != "" {
		enc, err := crypto.NewAESGCMFromBase64Key(cfg.CacheKey)
		if err != nil {
			return fmt.Errorf("invalid cache key: %w", err)
		}
		opts = append(opts, persistence.WithEncrypter(enc))
		c.Logger.Info("local cache encryption enabled")
	}

	if cfg.LocalStore == config.LocalStoreRedis {
		store, err := persistence.OpenRedisStore(ctx, cfg.RedisURL, cfg.Role, c.Logger, opts...)
		switch {
		case err == nil:
			c.Local = store
			c.Logger.Info("connected to Redis cache")
		case cfg.IsDevelopment():
			c.Logger.Warn("Redis not available, local cache will use SQLite", "error", err)
		default:
			return fmt.Errorf("failed to connect to Redis cache: %w", err)
		}
	}

	if c.Local == nil {
		store, err := persistence.OpenSQLiteStore(ctx, cfg.SQLitePath, c.Logger, opts...)
		if err != nil {
			return fmt.Errorf("failed to open SQLite cache: %w", err)
		}
		c.Local = store
		c.CacheDB = store.DB()
		c.Logger.Info("opened SQLite cache", "path", cfg.SQLitePath)
		return nil
	}

	db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite outbox: %w", err)
	}
	c.CacheDB = db
	c.ownsCacheDB = true
	return nil
}

// initRemote prepares the remote store and reports whether it answered.
func (c *Container) initRemote(ctx context.Context) (bool, error) {
	cfg := c.Config

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	if err != nil {
		return false, fmt.Errorf("failed to configure remote store: %w", err)
	}
	c.RemoteDB = db

	store := remote.NewPostgresStore(db, cfg.TrainerID, c.Logger)
	c.Remote = remote.NewBreakerStore(store, remote.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenRequests: 1,
	}, c.Metrics, c.Logger)

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		c.Logger.Warn("remote store not reachable, starting offline", "error", err)
		return false, nil
	}

	if err := store.Migrate(ctx); err != nil {
		return false, fmt.Errorf("failed to migrate remote store: %w", err)
	}
	c.Logger.Info("connected to remote store")
	return true, nil
}

func (c *Container) initPublisher() eventbus.Publisher {
	cfg := c.Config
	if cfg.RabbitMQURL == "" {
		c.Logger.Info("no broker configured, notifications stay in process")
		return eventbus.NewInProcessPublisher(c.Logger)
	}

	publisher, err := eventbus.NewRabbitMQPublisher(eventbus.RabbitMQConfig{
		URL:      cfg.RabbitMQURL,
		Exchange: eventbus.DefaultExchange,
	}, c.Logger)
	if err != nil {
		c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		return eventbus.NewNoopPublisher(c.Logger)
	}
	c.Logger.Info("connected to RabbitMQ")
	return publisher
}

// Close releases all resources.
func (c *Container) Close() {
	if c.Reconciler != nil {
		c.Reconciler.Stop()
	}
	if c.Connectivity != nil {
		c.Connectivity.Stop()
	}
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}
	if c.Rescheduler != nil {
		c.Rescheduler.Wait()
	}

	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RemoteDB != nil {
		if err := c.RemoteDB.Close(); err != nil {
			c.Logger.Warn("error closing remote store", "error", err)
		} else {
			c.Logger.Info("remote store connection closed")
		}
	}

	if c.Local != nil {
		if err := c.Local.Close(); err != nil {
			c.Logger.Warn("error closing local cache", "error", err)
		} else {
			c.Logger.Info("local cache closed")
		}
	}

	if c.ownsCacheDB && c.CacheDB != nil {
		if err := c.CacheDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		}
	}
}
