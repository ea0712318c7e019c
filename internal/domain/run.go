package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одно выполнение ensemble: запуск из API, CLI, по cron или из очереди.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Ensemble — имя выполняемого ensemble.
	Ensemble string `json:"ensemble"`

	// Version — версия описания ensemble.
	Version int `json:"version,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Input — входные данные, переданные при запуске (namespace input).
	Input map[string]any `json:"input,omitempty"`

	// Output — результат маппинга output.
	Output any `json:"output,omitempty"`

	// Error — структурированная ошибка, если run завершился с FAILED.
	Error *RunError `json:"error,omitempty"`

	// Trigger — источник запуска: "http", "cron", "queue", "cli".
	Trigger string `json:"trigger,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// RunError — структурированная причина падения run.
//
// Вызывающий (HTTP-адаптер, CLI, очередь) переводит её в свой формат,
// не разбирая конкретные типы ошибок.
type RunError struct {
	// StepID — путь шага, в котором возникла ошибка.
	StepID string `json:"step_id"`

	// Kind — категория ошибки (ErrorKind).
	Kind ErrorKind `json:"kind"`

	// Message — текст ошибки.
	Message string `json:"message"`
}

// Error реализует интерфейс error.
func (e *RunError) Error() string {
	if e.StepID == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + " at " + e.StepID + ": " + e.Message
}

// NewRun создаёт run в статусе PENDING.
func NewRun(ensemble string, version int, input map[string]any) *Run {
	if input == nil {
		input = make(map[string]any)
	}
	return &Run{
		ID:        uuid.New(),
		Ensemble:  ensemble,
		Version:   version,
		Status:    RunStatusPending,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning фиксирует старт выполнения.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

func (r *Run) MarkSucceeded(output any) {
	r.finish(RunStatusSucceeded)
	r.Output = output
}

func (r *Run) MarkFailed(runErr *RunError) {
	r.finish(RunStatusFailed)
	r.Error = runErr
}

// MarkCancelled завершает run, прерванный отменой.
func (r *Run) MarkCancelled(runErr *RunError) {
	r.finish(RunStatusCancelled)
	r.Error = runErr
}

// finish переводит run в терминальный статус.
func (r *Run) finish(status RunStatus) {
	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
}
