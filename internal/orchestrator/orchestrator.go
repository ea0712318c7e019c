package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/telemetry"
	"github.com/shaiso/Ensemble/internal/worker"
)

// RunRecorder сохраняет состояние run.
// Реализация: repo.RunRepo.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// StepRecorder сохраняет записи журнала шагов.
// Реализация: repo.StepRepo.
type StepRecorder interface {
	AppendStep(ctx context.Context, rec *domain.StepRecord) error
}

// Orchestrator выполняет ensemble: обходит дерево шагов,
// передаёт agent-шаги в worker.Dispatcher, а контейнеры
// (sequence, parallel, branch, try, foreach, while, switch, map_reduce)
// выполняет сам.
//
// Run никогда не возвращает Go-ошибку: любой исход описывается Result.
type Orchestrator struct {
	dispatcher *worker.Dispatcher

	// env — namespace env для всех run.
	env map[string]any

	runs  RunRecorder
	steps StepRecorder

	metrics     *telemetry.Metrics
	logger      *slog.Logger
	maxParallel int

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Dispatcher — исполнитель agent-шагов (если nil — worker.New с реестром по умолчанию).
	Dispatcher *worker.Dispatcher

	// Env — значения namespace env.
	Env map[string]any

	// Runs, Steps — хранилище (опционально). Ошибки хранилища только логируются.
	Runs  RunRecorder
	Steps StepRecorder

	// Metrics (опционально)
	Metrics *telemetry.Metrics

	// MaxParallel — ограничение веток parallel/map_reduce,
	// если в шаге не задан max_concurrency (0 — без ограничения).
	MaxParallel int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = worker.New(worker.Config{Metrics: cfg.Metrics, Logger: logger})
	}

	return &Orchestrator{
		dispatcher:  dispatcher,
		env:         cfg.Env,
		runs:        cfg.Runs,
		steps:       cfg.Steps,
		metrics:     cfg.Metrics,
		logger:      logger,
		maxParallel: cfg.MaxParallel,
		activeRuns:  make(map[uuid.UUID]*RunState),
	}
}

// Result — итог выполнения run.
type Result struct {
	RunID    uuid.UUID           `json:"run_id"`
	Ensemble string              `json:"ensemble"`
	Status   domain.RunStatus    `json:"status"`
	Output   any                 `json:"output,omitempty"`
	Error    *domain.RunError    `json:"error,omitempty"`
	Steps    []domain.StepRecord `json:"steps,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Succeeded возвращает true для успешного run.
func (r *Result) Succeeded() bool {
	return r.Status == domain.RunStatusSucceeded
}

// Validate проверяет описание и наличие всех агентов в реестре.
func (o *Orchestrator) Validate(ens *domain.Ensemble) error {
	if err := engine.Validate(ens); err != nil {
		return err
	}
	return engine.ValidateAgents(ens, o.dispatcher.Agents().Has)
}

// Run создаёт run и выполняет его.
func (o *Orchestrator) Run(ctx context.Context, ens *domain.Ensemble, input map[string]any) *Result {
	name, version := "", 0
	if ens != nil {
		name, version = ens.Name, ens.Version
	}
	return o.Execute(ctx, domain.NewRun(name, version, input), ens)
}

// Execute выполняет существующий run (например, созданный через API или из очереди).
//
// Этапы:
//  1. Валидация описания и входных данных
//  2. Обход flow с корневым контекстом
//  3. Маппинг output по финальному контексту
//  4. Финализация run (SUCCEEDED / FAILED / CANCELLED)
//
// Если run с тем же ID уже выполняется, Execute его не трогает:
// возвращается Result с текущим статусом run и ошибкой ErrRunAlreadyActive.
func (o *Orchestrator) Execute(ctx context.Context, run *domain.Run, ens *domain.Ensemble) *Result {
	res, err := o.execute(ctx, run, ens)
	if err != nil {
		return &Result{
			RunID:    run.ID,
			Ensemble: run.Ensemble,
			Status:   run.Status,
			Error:    domain.ToRunError(domain.NewStepError(domain.KindValidation, "", err), ""),
		}
	}
	return res
}

// execute возвращает ErrRunAlreadyActive, не изменяя и не сохраняя run,
// если run с тем же ID уже в обработке.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run, ens *domain.Ensemble) (*Result, error) {
	start := time.Now()
	logger := telemetry.ForRun(o.logger, run.ID.String(), run.Ensemble)

	runCtx, cancel := runContext(ctx, ens)
	defer cancel()

	state := NewRunState(run, ens, nil)
	state.cancel = cancel
	if err := o.addActiveRun(state); err != nil {
		logger.Debug("run already active, skipping")
		return nil, err
	}
	defer o.removeActiveRun(run.ID)

	if err := o.Validate(ens); err != nil {
		return o.reject(ctx, run, err, start, logger), nil
	}

	input, err := engine.ApplyInputs(ens.Inputs, run.Input)
	if err != nil {
		return o.reject(ctx, run, err, start, logger), nil
	}
	run.Input = input
	state.Context = engine.NewContext(input, o.envSnapshot())

	run.MarkRunning()
	o.saveRun(ctx, run, logger)
	logger.Info("run started", "steps", len(ens.Flow))

	value, err := o.execSteps(runCtx, state, ens.Flow, "", state.Context)
	if err == nil {
		value, err = o.mapOutput(ens, state.Context, value)
	}

	if err != nil {
		runErr := domain.ToRunError(err, "")
		switch {
		case ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
			runErr = &domain.RunError{
				StepID:  runErr.StepID,
				Kind:    domain.KindTimeout,
				Message: fmt.Sprintf("%s: %dms", ErrRunDeadline, ens.TimeoutMs),
			}
			run.MarkFailed(runErr)
		case runErr.Kind == domain.KindCancelled:
			run.MarkCancelled(runErr)
		default:
			run.MarkFailed(runErr)
		}
	} else {
		run.MarkSucceeded(value)
	}

	return o.finish(ctx, state, start, logger), nil
}

// runContext возвращает контекст run: с дедлайном, если у ensemble задан timeout_ms.
func runContext(ctx context.Context, ens *domain.Ensemble) (context.Context, context.CancelFunc) {
	if ens != nil && ens.TimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(ens.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

// mapOutput вычисляет результат run.
// Без маппинга результатом становится output последнего шага верхнего уровня.
func (o *Orchestrator) mapOutput(ens *domain.Ensemble, ec *engine.Context, last any) (any, error) {
	if ens.Output == nil {
		return engine.Normalize(last), nil
	}

	resolved, err := o.dispatcher.Chain().Resolve(ens.Output, ec)
	if err != nil {
		return nil, domain.NewStepError(domain.KindExpression, "output", err)
	}
	resolved = engine.Normalize(resolved)

	if m, ok := resolved.(map[string]any); ok {
		for k, v := range m {
			ec.Output[k] = v
		}
	}
	return resolved, nil
}

// Fail завершает run без выполнения (например, ensemble не найден).
func (o *Orchestrator) Fail(ctx context.Context, run *domain.Run, err error) *Result {
	logger := telemetry.ForRun(o.logger, run.ID.String(), run.Ensemble)
	return o.reject(ctx, run, err, time.Now(), logger)
}

// reject завершает run, не прошедший проверки до старта.
func (o *Orchestrator) reject(ctx context.Context, run *domain.Run, err error, start time.Time, logger *slog.Logger) *Result {
	logger.Warn("run rejected", "error", err)

	runErr := domain.ToRunError(err, "")
	var ve *engine.ValidationError
	if errors.As(err, &ve) && runErr.StepID == "" {
		runErr.StepID = ve.StepID
	}

	run.MarkRunning()
	run.MarkFailed(runErr)
	return o.finish(ctx, NewRunState(run, nil, nil), start, logger)
}

// finish сохраняет итог run, учитывает метрики и строит Result.
func (o *Orchestrator) finish(ctx context.Context, state *RunState, start time.Time, logger *slog.Logger) *Result {
	run := state.Run
	o.saveRun(ctx, run, logger)
	o.metrics.RunFinished(run.Ensemble, string(run.Status))

	res := &Result{
		RunID:    run.ID,
		Ensemble: run.Ensemble,
		Status:   run.Status,
		Output:   run.Output,
		Error:    run.Error,
		Steps:    state.Records(),
		Duration: time.Since(start),
	}

	if run.Error != nil {
		logger.Warn("run finished",
			"status", run.Status,
			"duration", res.Duration,
			"error_kind", run.Error.Kind,
			"error_step", run.Error.StepID,
			"error", run.Error.Message,
		)
	} else {
		logger.Info("run finished", "status", run.Status, "duration", res.Duration)
	}
	return res
}

// saveRun сохраняет run. Ошибка хранилища не влияет на выполнение.
func (o *Orchestrator) saveRun(ctx context.Context, run *domain.Run, logger *slog.Logger) {
	if o.runs == nil {
		return
	}
	if err := o.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("failed to save run", "status", run.Status, "error", err)
	}
}

// envSnapshot возвращает копию env: run не должен видеть изменения соседних run.
func (o *Orchestrator) envSnapshot() map[string]any {
	env := make(map[string]any, len(o.env))
	for k, v := range o.env {
		env[k] = v
	}
	return env
}

// Cancel отменяет активный run.
func (o *Orchestrator) Cancel(runID uuid.UUID) error {
	state := o.getActiveRun(runID)
	if state == nil {
		return ErrRunNotActive
	}
	state.Cancel()
	o.logger.Info("run cancellation requested", "run_id", runID)
	return nil
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (o *Orchestrator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	state := o.getActiveRun(runID)
	if state == nil {
		return RunStats{}, false
	}
	return state.Stats(), true
}
