// Ensemble Server — точка входа для запуска ensemble.
//
// Сервер:
//   - Принимает HTTP запросы (/api/v1, /healthz, /metrics)
//   - Запускает ensemble по cron-триггерам
//   - Выполняет runs из очереди runs.pending и pending runs из БД
//
// Конфигурация — переменные окружения (см. internal/config) или файл,
// переданный флагом -config.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Ensemble/internal/api"
	"github.com/shaiso/Ensemble/internal/app"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/scheduler"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := config.LoadDotEnv(""); err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		telemetry.SetupLogger("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting ensemble-server")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	// Queue consumer + polling pending runs
	var service *orchestrator.Service
	if rt.Conn != nil || rt.Runs != nil {
		svcCfg := orchestrator.ServiceConfig{
			Orchestrator: rt.Orchestrator,
			Catalog:      rt.Catalog,
			Conn:         rt.Conn,
			PollInterval: cfg.PollInterval(),
			Workers:      cfg.Workers,
			Logger:       logger,
		}
		if rt.Runs != nil {
			svcCfg.Runs = rt.Runs
		}
		if rt.Publisher != nil {
			svcCfg.Publisher = rt.Publisher
		}
		service = orchestrator.NewService(svcCfg)
		if err := service.Start(ctx); err != nil {
			logger.Error("failed to start run service", "error", err)
			os.Exit(1)
		}
	}

	// Cron triggers
	schedCfg := scheduler.Config{
		Catalog: rt.Catalog,
		Local:   rt.Orchestrator,
		Logger:  logger,
	}
	if rt.Runs != nil {
		schedCfg.Runs = rt.Runs
	}
	if rt.Publisher != nil {
		schedCfg.Publisher = rt.Publisher
	}
	sched := scheduler.New(schedCfg)
	if err := sched.Reload(ctx); err != nil {
		logger.Error("failed to register cron triggers", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// HTTP API
	apiCfg := api.Config{
		Orchestrator: rt.Orchestrator,
		Catalog:      rt.Catalog,
		Triggers:     sched,
		Metrics:      rt.Metrics,
		Gatherer:     rt.Registry,
		Logger:       logger,
	}
	if rt.Runs != nil {
		apiCfg.Runs, apiCfg.Steps, apiCfg.Ensembles = rt.Runs, rt.Steps, rt.Ensembles
	}
	if rt.Publisher != nil {
		apiCfg.Publisher = rt.Publisher
	}

	mux := http.NewServeMux()
	api.NewHandler(apiCfg).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	sched.Stop()
	if service != nil {
		service.Stop()
	}

	logger.Info("ensemble-server stopped")
}
