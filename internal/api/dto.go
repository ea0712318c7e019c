package api

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/orchestrator"
)

// Ensemble DTOs

// EnsembleSummary — краткое описание ensemble для списка.
type EnsembleSummary struct {
	Name        string           `json:"name"`
	Version     int              `json:"version,omitempty"`
	Description string           `json:"description,omitempty"`
	Steps       int              `json:"steps"`
	Inputs      []string         `json:"inputs,omitempty"`
	Triggers    []domain.Trigger `json:"triggers,omitempty"`
}

// EnsembleFromDomain конвертирует domain.Ensemble в EnsembleSummary.
func EnsembleFromDomain(e *domain.Ensemble) EnsembleSummary {
	s := EnsembleSummary{
		Name:        e.Name,
		Version:     e.Version,
		Description: e.Description,
		Steps:       countSteps(e.Flow),
		Triggers:    e.Triggers,
	}
	for name := range e.Inputs {
		s.Inputs = append(s.Inputs, name)
	}
	sort.Strings(s.Inputs)
	return s
}

// countSteps считает шаги дерева, включая вложенные.
func countSteps(steps []domain.FlowStep) int {
	n := 0
	var walk func(step *domain.FlowStep)
	walk = func(step *domain.FlowStep) {
		n++
		for _, child := range step.Children() {
			walk(child)
		}
	}
	for i := range steps {
		walk(&steps[i])
	}
	return n
}

// ValidationResponse — ответ на проверку описания.
type ValidationResponse struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name,omitempty"`
	Steps int    `json:"steps"`
}

// Run DTOs

// RunRequest — запрос на запуск ensemble.
type RunRequest struct {
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`

	// Async — поставить run в очередь вместо выполнения в запросе.
	Async bool `json:"async,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID           `json:"id"`
	Ensemble       string              `json:"ensemble"`
	Version        int                 `json:"version,omitempty"`
	Status         domain.RunStatus    `json:"status"`
	Input          map[string]any      `json:"input,omitempty"`
	Output         any                 `json:"output,omitempty"`
	Error          *domain.RunError    `json:"error,omitempty"`
	Trigger        string              `json:"trigger,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Steps          []domain.StepRecord `json:"steps,omitempty"`

	// Stats — прогресс активного run.
	Stats *orchestrator.RunStats `json:"stats,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Ensemble:       r.Ensemble,
		Version:        r.Version,
		Status:         r.Status,
		Input:          r.Input,
		Output:         r.Output,
		Error:          r.Error,
		Trigger:        r.Trigger,
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// ResultResponse — итог синхронного выполнения.
type ResultResponse struct {
	RunID      uuid.UUID           `json:"run_id"`
	Ensemble   string              `json:"ensemble"`
	Status     domain.RunStatus    `json:"status"`
	Output     any                 `json:"output,omitempty"`
	Error      *domain.RunError    `json:"error,omitempty"`
	Steps      []domain.StepRecord `json:"steps,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// ResultFromOrchestrator конвертирует orchestrator.Result в ResultResponse.
func ResultFromOrchestrator(res *orchestrator.Result) ResultResponse {
	return ResultResponse{
		RunID:      res.RunID,
		Ensemble:   res.Ensemble,
		Status:     res.Status,
		Output:     res.Output,
		Error:      res.Error,
		Steps:      res.Steps,
		DurationMs: res.Duration.Milliseconds(),
	}
}

// CancelResponse — ответ на запрос отмены.
type CancelResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
	Ensembles  int    `json:"ensembles"`
}
