package di

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segyhp/dunning-engine/internal/clock"
	"github.com/segyhp/dunning-engine/internal/config"
	"github.com/segyhp/dunning-engine/internal/events"
	"github.com/segyhp/dunning-engine/internal/lock"
	"github.com/segyhp/dunning-engine/internal/metrics"
	"github.com/segyhp/dunning-engine/internal/repository"
	"github.com/segyhp/dunning-engine/internal/scheduler"
	"github.com/segyhp/dunning-engine/internal/service"
	"github.com/segyhp/dunning-engine/internal/signal"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Clock    clock.Clock
	DB       *sqlx.DB
	Redis    redis.UniversalClient
	Registry *prometheus.Registry

	Store   repository.ObligationStore
	Locker  lock.Locker
	Sink    events.Sink
	Stream  *events.RedisStreamSink
	Retries *scheduler.RetryScheduler

	Engine   *service.Engine
	Payments *service.PaymentApplier
	Plans    *service.PlanService

	// Consumer is nil when no Redis is configured.
	Consumer *signal.Consumer

	background sync.WaitGroup
}

// BuildContainer connects to Postgres and, when configured, Redis, then wires the engine.
func BuildContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	c, err := build(cfg, logger, db, rdb)
	if err != nil {
		_ = db.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return c, nil
}

func build(cfg *config.Config, logger *logrus.Logger, db *sqlx.DB, rdb redis.UniversalClient) (*Container, error) {
	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock.Real(),
		DB:       db,
		Redis:    rdb,
		Registry: prometheus.NewRegistry(),
	}

	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewPrometheusObserver("dunning", c.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c.Store = repository.NewPostgresStore(db)

	switch cfg.Dunning.LockBackend {
	case config.LockBackendRedis:
		if rdb == nil {
			return nil, errors.New("redis lock backend needs a redis client")
		}
		c.Locker = lock.NewRedisLocker(rdb, cfg.GetLockTTL(), cfg.GetLockWait())
	default:
		c.Locker = lock.NewKeyedMutex(cfg.GetLockWait())
	}

	sinks := events.Multi{events.NewLogSink(logger)}
	if rdb != nil {
		c.Stream = events.NewRedisStreamSink(rdb, cfg.Events.Stream, cfg.Events.Buffer, logger)
		sinks = append(sinks, c.Stream)
	}
	c.Sink = sinks

	c.Retries = scheduler.NewRetryScheduler(c.Clock, c.Store, c.Locker, c.Sink, observer, logger)

	deps := service.Deps{
		Store:           c.Store,
		Locker:          c.Locker,
		Sink:            c.Sink,
		Clock:           c.Clock,
		Retries:         c.Retries,
		Observer:        observer,
		Logger:          logger,
		ConflictRetries: cfg.Dunning.ConflictRetries,
	}
	c.Engine = service.NewEngine(deps, service.EngineOptions{Workers: cfg.Dunning.Workers})
	c.Payments = service.NewPaymentApplier(deps)
	c.Plans = service.NewPlanService(deps)
	c.Retries.SetDefaultCallback(c.Engine.RetryCallback)

	if rdb != nil {
		c.Consumer = signal.NewConsumer(rdb, cfg.Signals.Stream, cfg.Signals.Group, cfg.Signals.Consumer, c.Payments, c.Clock, logger)
	}

	return c, nil
}

// Start launches the background publisher, if any. It returns immediately; cancel ctx and
// call Wait before Cleanup so buffered events are flushed while Redis is still open.
func (c *Container) Start(ctx context.Context) {
	if c.Stream != nil {
		c.Go(func() { c.Stream.Run(ctx) })
	}
}

// Go runs fn in a goroutine that Wait joins.
func (c *Container) Go(fn func()) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		fn()
	}()
}

// Wait blocks until every goroutine started through Start or Go has returned.
func (c *Container) Wait() {
	c.background.Wait()
}

// RestoreRetryTimers re-arms pending retries for every configured organization.
func (c *Container) RestoreRetryTimers(ctx context.Context) int {
	total := 0
	now := c.Clock.Now()
	for _, org := range c.Config.Organizations() {
		n, err := c.Engine.RestoreRetryTimers(ctx, org, now)
		if err != nil {
			c.Logger.WithError(err).WithField("organization_id", org).Warn("failed to restore retry timers")
		}
		total += n
	}
	return total
}

// Cleanup gracefully shuts down all resources
func (c *Container) Cleanup() error {
	if c.Retries != nil {
		c.Retries.Stop()
	}

	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
