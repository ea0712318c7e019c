package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
)

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся, когда Orchestrator начинает выполнение run,
// и удаляется из активных, когда run завершается.
//
// Содержит:
//   - Run и описание Ensemble
//   - Корневой контекст выполнения
//   - Журнал завершённых шагов (только дополняется)
//   - Функцию отмены run
type RunState struct {
	// Run — выполняемый run.
	Run *domain.Run

	// Ensemble — описание, по которому выполняется run.
	Ensemble *domain.Ensemble

	// Context — корневой контекст выполнения.
	Context *engine.Context

	cancel context.CancelFunc

	// records — журнал шагов в порядке завершения.
	records []domain.StepRecord

	// mu — ветки parallel и map_reduce пишут в журнал одновременно.
	mu sync.RWMutex
}

// NewRunState создаёт новый RunState.
func NewRunState(run *domain.Run, ens *domain.Ensemble, ec *engine.Context) *RunState {
	return &RunState{
		Run:      run,
		Ensemble: ens,
		Context:  ec,
	}
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Defaults возвращает настройки agent-шагов по умолчанию.
func (s *RunState) Defaults() *domain.StepDefaults {
	if s.Ensemble == nil {
		return nil
	}
	return s.Ensemble.Defaults
}

// Record добавляет запись в журнал и присваивает ей порядковый номер.
func (s *RunState) Record(rec domain.StepRecord) domain.StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.RunID = s.Run.ID
	rec.Seq = len(s.records) + 1
	s.records = append(s.records, rec)
	return rec
}

// Records возвращает копию журнала.
func (s *RunState) Records() []domain.StepRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StepRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Cancel отменяет выполнение run.
func (s *RunState) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalSteps: len(s.records)}
	for i := range s.records {
		rec := &s.records[i]
		switch rec.Status {
		case domain.StepStatusSucceeded:
			stats.SucceededSteps++
		case domain.StepStatusFailed:
			stats.FailedSteps++
		case domain.StepStatusSkipped:
			stats.SkippedSteps++
		case domain.StepStatusTimedOut:
			stats.TimedOutSteps++
		}
		if rec.Cached {
			stats.CachedSteps++
		}
	}
	return stats
}

// RunStats — статистика выполнения run по журналу шагов.
type RunStats struct {
	TotalSteps     int `json:"total_steps"`
	SucceededSteps int `json:"succeeded_steps"`
	FailedSteps    int `json:"failed_steps"`
	SkippedSteps   int `json:"skipped_steps"`
	TimedOutSteps  int `json:"timed_out_steps"`
	CachedSteps    int `json:"cached_steps"`
}
