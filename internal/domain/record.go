package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepRecord — запись журнала о завершённом шаге.
//
// Журнал только дополняется: каждая итерация foreach/while и каждая
// ветка parallel дают отдельную запись со своим путём (Path).
type StepRecord struct {
	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// Seq — порядковый номер записи внутри run.
	Seq int `json:"seq"`

	// StepID — идентификатор шага в описании ensemble.
	StepID string `json:"step_id"`

	// Path — полный путь шага, например "each[2].fetch".
	Path string `json:"path"`

	// Type — вариант шага.
	Type StepType `json:"type"`

	// Agent — id агента (только для agent-шагов).
	Agent string `json:"agent,omitempty"`

	// Status — финальный статус шага.
	Status StepStatus `json:"status"`

	// Attempts — количество вызовов агента.
	Attempts int `json:"attempts,omitempty"`

	// Cached — результат взят из кэша.
	Cached bool `json:"cached,omitempty"`

	// Output — результат шага.
	Output any `json:"output,omitempty"`

	// Error — структурированная ошибка при неудаче.
	Error *RunError `json:"error,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения.
	FinishedAt time.Time `json:"finished_at"`
}

// Duration возвращает продолжительность выполнения.
func (r *StepRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// IsFailed возвращает true, если шаг завершился ошибкой.
func (r *StepRecord) IsFailed() bool {
	return r.Status == StepStatusFailed
}
