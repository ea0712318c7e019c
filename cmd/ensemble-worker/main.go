// Ensemble Worker — выполняет runs из очереди.
//
// Worker:
//   - Получает запросы runs.pending из RabbitMQ
//   - Подхватывает pending runs из БД (polling fallback)
//   - Публикует итоги в runs.completed
//   - Отдаёт /healthz и /metrics
//
// В отличие от ensemble-server не принимает запросы API и не запускает cron.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Ensemble/internal/app"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/orchestrator"
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
	logger.Info("starting ensemble-worker", "workers", cfg.Workers)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if rt.Conn == nil && rt.Runs == nil {
		logger.Error("worker needs RABBITMQ_URL or DB_URL")
		os.Exit(1)
	}

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
	service := orchestrator.NewService(svcCfg)

	if err := service.Start(ctx); err != nil {
		logger.Error("failed to start run service", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if rt.Conn != nil && !rt.Conn.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "broker disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok active_runs=%d", rt.Orchestrator.ActiveRunsCount())
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	service.Stop()
	logger.Info("ensemble-worker stopped")
}
