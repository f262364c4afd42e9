package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/deploytrack/internal/infrastructure/config"
	"github.com/cassiomorais/deploytrack/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/deploytrack/internal/infrastructure/redis"
	"github.com/cassiomorais/deploytrack/internal/queue"
	"github.com/cassiomorais/deploytrack/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App wires the ambient infrastructure and the configured store and queue
// drivers. The host owns the lifecycle: New at startup, Close at shutdown.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Store   store.Store
	Queue   queue.Queue

	redisClient *redis.Client
	pgPool      *pgxpool.Pool
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	if cfg.Store.Driver == "redis" || cfg.Queue.Driver == "redis" {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.redisClient = client
		logger.Info().Msg("Connected to Redis")
	}

	switch cfg.Store.Driver {
	case "memory":
		app.Store = store.NewMemoryStore()
	case "redis":
		app.Store = store.NewRedisStore(app.redisClient)
	case "postgres":
		pool, err := store.NewPool(ctx, &cfg.Database)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.pgPool = pool
		app.Store = store.NewPostgresStore(pool)
		logger.Info().Msg("Connected to PostgreSQL")
	}

	switch cfg.Queue.Driver {
	case "memory":
		app.Queue = queue.NewMemoryQueue(cfg.Queue.BufferSize)
	case "redis":
		rq := queue.NewRedisQueue(app.redisClient, &cfg.Queue, cfg.InstanceID)
		if err := rq.CreateGroup(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("create consumer group: %w", err)
		}
		app.Queue = rq
	}

	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("queue", cfg.Queue.Driver).
		Msg("Infrastructure ready")
	return app, nil
}

func (a *App) Close() {
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}
