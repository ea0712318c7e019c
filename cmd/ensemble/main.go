// Ensemble CLI — выполнение и проверка описаний ensemble,
// управление ensemble и runs на сервере через HTTP API.
//
// Использование:
//
//	ensemble [--api-url URL] [--json] [--config FILE] <command> [flags]
//
// Локальные команды:
//
//	exec      Выполнить файл описания в процессе CLI
//	validate  Проверить файлы описаний
//	agents    Список встроенных агентов
//
// Команды сервера:
//
//	ensemble  Управление ensemble
//	run       Управление runs
//	triggers  Cron-триггеры
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Ensemble/internal/cli"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "ensemble",
		Short:         "Ensemble CLI — declarative multi-step agent orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API server URL (default from API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file")

	loadConfig := func() (*config.Config, error) {
		if err := config.LoadDotEnv(""); err != nil {
			return nil, err
		}
		return config.Load(configFile)
	}

	clientFn := func() *cli.Client {
		url := apiURL
		if url == "" {
			if cfg, err := loadConfig(); err == nil {
				url = cfg.APIURL
			}
		}
		return cli.NewClient(url)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	envFn := func() (*cli.LocalEnv, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		// Логи локального run идут в stderr, чтобы не смешиваться с выводом
		logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel, "text")
		return &cli.LocalEnv{Config: cfg, Logger: logger}, nil
	}

	rootCmd.AddCommand(
		cli.NewExecCmd(envFn, outputFn),
		cli.NewValidateCmd(envFn, outputFn),
		cli.NewAgentsCmd(envFn, outputFn),
		cli.NewEnsembleCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewTriggersCmd(clientFn, outputFn),
	)

	// Ctrl+C отменяет локальный run (статус CANCELLED)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
