package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/Ensemble/internal/agents"
	"github.com/shaiso/Ensemble/internal/cache"
	"github.com/shaiso/Ensemble/internal/catalog"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/scheduler"
	"github.com/shaiso/Ensemble/internal/worker"
)

// ErrRunFailed — локальный run завершился не SUCCEEDED.
var ErrRunFailed = errors.New("run did not succeed")

// LocalEnv — зависимости локальных команд.
type LocalEnv struct {
	Config *config.Config
	Logger *slog.Logger

	// Registry — реестр агентов (если nil — agents.DefaultRegistry()).
	Registry *agents.Registry
}

// Orchestrator собирает Orchestrator для выполнения в процессе CLI:
// встроенные агенты, кэш в памяти, namespace env из конфигурации.
func (e *LocalEnv) Orchestrator() (*orchestrator.Orchestrator, error) {
	env, err := e.Config.EnvNamespace()
	if err != nil {
		return nil, err
	}

	registry := e.Registry
	if registry == nil {
		registry = agents.DefaultRegistry()
	}

	dispatcher := worker.New(worker.Config{
		Agents:   registry,
		Cache:    cache.NewMemory(e.Config.CacheSize, e.Config.CacheTTL()),
		CacheTTL: e.Config.CacheTTL(),
		Logger:   e.Logger,
	})

	return orchestrator.New(orchestrator.Config{
		Dispatcher:  dispatcher,
		Env:         env,
		MaxParallel: e.Config.MaxParallel,
		Logger:      e.Logger,
	}), nil
}

// NewExecCmd создаёт команду локального выполнения описания из файла.
func NewExecCmd(envFn func() (*LocalEnv, error), outputFn func() *Output) *cobra.Command {
	var inputs []string
	var inputFile string

	cmd := &cobra.Command{
		Use:   "exec FILE",
		Short: "Run an ensemble file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			orch, err := env.Orchestrator()
			if err != nil {
				return err
			}

			ens, err := catalog.LoadFile(args[0])
			if err != nil {
				return err
			}
			input, err := ParseInputs(inputs, inputFile)
			if err != nil {
				return err
			}

			run := domain.NewRun(ens.Name, ens.Version, input)
			run.Trigger = "cli"
			res := orch.Execute(cmd.Context(), run, ens)

			outputFn().Result(ResultFromOrchestrator(res))
			if !res.Succeeded() {
				return fmt.Errorf("%w: %s", ErrRunFailed, res.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable, VALUE parsed as JSON when possible)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "JSON or YAML file with input values")

	return cmd
}

// NewValidateCmd создаёт команду локальной проверки описаний.
func NewValidateCmd(envFn func() (*LocalEnv, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate ensemble files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			orch, err := env.Orchestrator()
			if err != nil {
				return err
			}
			out := outputFn()

			failed := 0
			rows := make([][]string, 0, len(args))
			for _, path := range args {
				status, name := "ok", ""
				ens, err := catalog.LoadFile(path)
				if err == nil {
					name = ens.Name
					err = orch.Validate(ens)
				}
				if err == nil {
					err = scheduler.ValidateTriggers(ens)
				}
				if err != nil {
					status = err.Error()
					failed++
				}
				rows = append(rows, []string{path, name, status})
			}

			out.Print([]string{"FILE", "ENSEMBLE", "RESULT"}, rows, rows)
			if failed > 0 {
				return fmt.Errorf("%d of %d files are invalid", failed, len(args))
			}
			return nil
		},
	}
}

// NewAgentsCmd создаёт команду со списком встроенных агентов.
func NewAgentsCmd(envFn func() (*LocalEnv, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List built-in agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			registry := env.Registry
			if registry == nil {
				registry = agents.DefaultRegistry()
			}

			ids := registry.IDs()
			rows := make([][]string, len(ids))
			for i, id := range ids {
				rows[i] = []string{id}
			}
			outputFn().Print([]string{"AGENT"}, rows, ids)
			return nil
		},
	}
}

// ResultFromOrchestrator конвертирует итог локального run в формат API.
func ResultFromOrchestrator(res *orchestrator.Result) *ResultResponse {
	out := &ResultResponse{
		RunID:      res.RunID.String(),
		Ensemble:   res.Ensemble,
		Status:     string(res.Status),
		Output:     res.Output,
		Error:      runErrorFromDomain(res.Error),
		DurationMs: res.Duration.Milliseconds(),
	}
	for _, rec := range res.Steps {
		out.Steps = append(out.Steps, StepRecord{
			Seq:        rec.Seq,
			StepID:     rec.StepID,
			Path:       rec.Path,
			Type:       string(rec.Type),
			Agent:      rec.Agent,
			Status:     string(rec.Status),
			Attempts:   rec.Attempts,
			Cached:     rec.Cached,
			Error:      runErrorFromDomain(rec.Error),
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	return out
}

func runErrorFromDomain(e *domain.RunError) *RunError {
	if e == nil {
		return nil
	}
	return &RunError{StepID: e.StepID, Kind: string(e.Kind), Message: e.Message}
}
