package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"webhook_queue/internal/cache"
	"webhook_queue/internal/config"
	"webhook_queue/internal/election"
	"webhook_queue/internal/handlers"
	"webhook_queue/internal/kafka"
	"webhook_queue/internal/logging"
	"webhook_queue/internal/metrics"
	"webhook_queue/internal/repository"
	"webhook_queue/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config) error {
	// ---------- logging ----------
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser()
	slog.SetDefault(logger)

	nodeID := uuid.NewString()
	logger = logger.With("node_id", nodeID)

	// ---------- db ----------
	store, locker, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	metrics.Register()

	g, gctx := errgroup.WithContext(ctx)

	// ---------- leader election ----------
	coord := election.NewCoordinator(locker, cfg.LeaderPoll, logger)
	coord.OnChange(func(s election.State) {
		logger.Info("leadership changed", "state", s.String())
	})
	g.Go(func() error { return coord.Run(gctx) })

	// ---------- queue cache ----------
	var queueCache cache.Cache
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, queue cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			queueCache = rc
			cache.StartRedisSizeCollector(gctx, rc.RawClient(), 30*time.Second, logger)
		}
	}
	queues := cache.NewQueueCache(store, queueCache, cfg.QueueCacheTTL, logger)

	// ---------- delivery events ----------
	var engineOpts []service.DeliveryOption
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()

		events := service.NewEventWorker(producer, 0, logger)
		g.Go(func() error { return events.Run(gctx) })
		engineOpts = append(engineOpts, service.WithEventPublisher(events))
	}

	// ---------- delivery + cron ----------
	engine := service.NewDeliveryEngine(store, queues, coord, service.DeliveryConfig{
		PollInterval:  cfg.DeliveryPoll,
		Timeout:       cfg.DeliveryTimeout,
		BatchSize:     cfg.DeliveryBatch,
		Workers:       cfg.DeliveryWorkers,
		RatePerSecond: cfg.DeliveryRate,
	}, logger, engineOpts...)
	g.Go(func() error { return engine.Run(gctx) })

	scheduler := service.NewCronScheduler(store, coord, cfg.CronPoll, logger)
	g.Go(func() error { return scheduler.Run(gctx) })

	metrics.StartDBCollectors(gctx, store, 15*time.Second, logger)

	// ---------- router ----------
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Handle("/metrics", metrics.Handler())
	handlers.RegisterStatusRoutes(r, coord, nodeID)
	handlers.RegisterHooksRoutes(r, handlers.NewHooksHandler(service.NewHooksService(store, logger)), cfg.AdminSecret)
	if cfg.AdminSecret == "" {
		logger.Warn("ADMIN_SECRET is empty, admin API is unauthenticated")
	}

	// ---------- http server ----------
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("server starting", "addr", srv.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The coordinator releases the lock inside Run, so by the time Wait
	// returns the deferred store Close is safe.
	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func migrate(ctx context.Context, cfg *config.Config) error {
	store, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("schema up to date", "driver", cfg.DBDriver)
	return nil
}

// openStore returns the store and the leader lock matching the driver:
// a session advisory lock on Postgres, a lease row on SQLite.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, election.Locker, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		s, err := repository.NewSQLiteStore(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, election.NewLeaseLocker(s.DB(), cfg.LockName, 3*cfg.LeaderPoll), nil
	default:
		pool, err := repository.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		return repository.NewPostgresStore(pool), election.NewAdvisoryLocker(pool, election.LockKey(cfg.LockName)), nil
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.JSON = cfg.LogFormat != "text"
	lc.File = cfg.LogFile

	logger, closer := logging.New(lc)
	return logger, func() { _ = closer.Close() }, nil
}
