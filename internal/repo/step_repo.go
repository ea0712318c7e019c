package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Ensemble/internal/domain"
)

// StepRepo — журнал шагов run (только дополняется).
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// AppendStep добавляет запись журнала.
func (r *StepRepo) AppendStep(ctx context.Context, rec *domain.StepRecord) error {
	outputJSON, err := marshalNullable(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	errorJSON, err := marshalNullable(rec.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	query := `
		INSERT INTO step_records (run_id, seq, step_id, path, type, agent, status,
		                          attempts, cached, output, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.RunID,
		rec.Seq,
		rec.StepID,
		rec.Path,
		rec.Type,
		nullString(rec.Agent),
		rec.Status,
		rec.Attempts,
		rec.Cached,
		outputJSON,
		errorJSON,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

// ListByRun возвращает журнал run в порядке записи.
func (r *StepRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.StepRecord, error) {
	query := `
		SELECT run_id, seq, step_id, path, type, agent, status, attempts, cached,
		       output, error, started_at, finished_at
		FROM step_records
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	var records []domain.StepRecord
	for rows.Next() {
		var rec domain.StepRecord
		var stepType, status string
		var agent *string
		var outputJSON, errorJSON []byte

		if err := rows.Scan(
			&rec.RunID,
			&rec.Seq,
			&rec.StepID,
			&rec.Path,
			&stepType,
			&agent,
			&status,
			&rec.Attempts,
			&rec.Cached,
			&outputJSON,
			&errorJSON,
			&rec.StartedAt,
			&rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step record: %w", err)
		}

		rec.Type = domain.StepType(stepType)
		rec.Status = domain.StepStatus(status)
		if agent != nil {
			rec.Agent = *agent
		}
		if outputJSON != nil {
			if err := json.Unmarshal(outputJSON, &rec.Output); err != nil {
				return nil, fmt.Errorf("unmarshal output: %w", err)
			}
		}
		if errorJSON != nil {
			if err := json.Unmarshal(errorJSON, &rec.Error); err != nil {
				return nil, fmt.Errorf("unmarshal error: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
