// Package app собирает зависимости процессов ensemble-server и ensemble-worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/Ensemble/internal/agents"
	"github.com/shaiso/Ensemble/internal/cache"
	"github.com/shaiso/Ensemble/internal/catalog"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/repo"
	"github.com/shaiso/Ensemble/internal/telemetry"
	"github.com/shaiso/Ensemble/internal/worker"
)

// Runtime — собранные зависимости процесса.
//
// Хранилище, брокер и Redis опциональны: без DB_URL runs не сохраняются,
// без RABBITMQ_URL нет очереди и агента publish, без REDIS_ADDR кэш
// результатов живёт в памяти процесса.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics

	// Storage (nil без DB_URL)
	Pool      *pgxpool.Pool
	Runs      *repo.RunRepo
	Steps     *repo.StepRepo
	Ensembles *repo.EnsembleRepo

	// Broker (nil без RABBITMQ_URL)
	Conn      *mq.Connection
	Publisher *mq.Publisher

	// Files — описания из EnsembleDir; Catalog — файлы поверх сохранённых в БД.
	Files   *catalog.Catalog
	Catalog catalog.Source

	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

// Build подключает хранилище, брокер и кэш и собирает Orchestrator.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = telemetry.NewMetrics(rt.Registry)

	if err := rt.connectStorage(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.connectBroker(ctx)

	resultCache, err := rt.resultCache(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	env, err := cfg.EnvNamespace()
	if err != nil {
		rt.Close()
		return nil, err
	}

	registry := agents.DefaultRegistry()
	if rt.Publisher != nil {
		registry.Register(agents.AgentPublish, agents.NewPublish(rt.Publisher))
	}

	orchCfg := orchestrator.Config{
		Dispatcher: worker.New(worker.Config{
			Agents:   registry,
			Cache:    resultCache,
			CacheTTL: cfg.CacheTTL(),
			Metrics:  rt.Metrics,
			Logger:   logger,
		}),
		Env:         env,
		Metrics:     rt.Metrics,
		MaxParallel: cfg.MaxParallel,
		Logger:      logger,
	}
	if rt.Runs != nil {
		orchCfg.Runs, orchCfg.Steps = rt.Runs, rt.Steps
	}
	rt.Orchestrator = orchestrator.New(orchCfg)

	if err := rt.loadCatalog(); err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

// connectStorage подключает PostgreSQL и применяет схему.
func (rt *Runtime) connectStorage(ctx context.Context) error {
	if rt.Config.DBURL == "" {
		rt.Logger.Info("DB_URL not set, runs are not persisted")
		return nil
	}

	pool, err := repo.NewPool(ctx, rt.Config.DBURL, rt.Config.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)

	if err := repo.Migrate(ctx, pool); err != nil {
		return err
	}

	rt.Pool = pool
	rt.Runs = repo.NewRunRepo(pool)
	rt.Steps = repo.NewStepRepo(pool)
	rt.Ensembles = repo.NewEnsembleRepo(pool)
	rt.Logger.Info("database connected")
	return nil
}

// connectBroker подключает RabbitMQ. Недоступный брокер не фатален:
// процесс работает без очереди (polling по БД и синхронные runs).
func (rt *Runtime) connectBroker(ctx context.Context) {
	if rt.Config.RabbitMQURL == "" {
		rt.Logger.Info("RABBITMQ_URL not set, queue disabled")
		return
	}

	conn, err := mq.NewConnection(rt.Config.RabbitMQURL, rt.Logger)
	if err != nil {
		rt.Logger.Warn("RabbitMQ not available, running without queue", "error", err)
		return
	}
	rt.closers = append(rt.closers, func() { _ = conn.Close() })

	if err := mq.SetupTopology(ctx, conn); err != nil {
		rt.Logger.Warn("failed to setup topology", "error", err)
	}

	rt.Conn = conn
	rt.Publisher = mq.NewPublisher(conn, rt.Logger)
	rt.Logger.Info("RabbitMQ connected")
}

// resultCache выбирает кэш результатов: Redis или LRU в памяти.
func (rt *Runtime) resultCache(ctx context.Context) (worker.Cache, error) {
	if rt.Config.RedisAddr == "" {
		return cache.NewMemory(rt.Config.CacheSize, rt.Config.CacheTTL()), nil
	}

	redisCache, err := cache.Connect(ctx, rt.Config.RedisAddr, rt.Config.CacheTTL())
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = redisCache.Close() })
	rt.Logger.Info("redis cache connected", "addr", rt.Config.RedisAddr)
	return redisCache, nil
}

// loadCatalog загружает описания из EnsembleDir и объединяет их с БД.
func (rt *Runtime) loadCatalog() error {
	rt.Files = catalog.New(rt.Orchestrator.Validate)

	dir := rt.Config.EnsembleDir
	_, err := os.Stat(dir)
	switch {
	case err == nil:
		if err := rt.Files.LoadDir(dir, rt.Logger); err != nil {
			return fmt.Errorf("load ensembles: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		rt.Logger.Warn("ensemble dir not found", "dir", dir)
	default:
		return fmt.Errorf("ensemble dir %s: %w", dir, err)
	}

	if rt.Ensembles != nil {
		rt.Catalog = catalog.Layered{rt.Files, rt.Ensembles}
	} else {
		rt.Catalog = rt.Files
	}
	return nil
}

// Close освобождает соединения в обратном порядке.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
