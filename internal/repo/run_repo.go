package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Ensemble/internal/domain"
)

const runColumns = `id, ensemble, version, status, input, output, error, trigger,
	idempotency_key, started_at, finished_at, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create вставляет новый run (обычно PENDING).
// Повтор ключа идемпотентности в том же ensemble даёт ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, args...)

	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return ErrAlreadyExists
	case err != nil:
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRun записывает состояние run (upsert по id).
// Ключ идемпотентности, trigger и created_at после вставки не меняются.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			input       = EXCLUDED.input,
			output      = EXCLUDED.output,
			error       = EXCLUDED.error,
			started_at  = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`, args...)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// runArgs раскладывает run в порядке runColumns.
func runArgs(run *domain.Run) ([]any, error) {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("encode run input: %w", err)
	}
	output, err := marshalNullable(run.Output)
	if err != nil {
		return nil, fmt.Errorf("encode run output: %w", err)
	}
	runErr, err := marshalNullable(run.Error)
	if err != nil {
		return nil, fmt.Errorf("encode run error: %w", err)
	}
	return []any{
		run.ID, run.Ensemble, run.Version, run.Status,
		input, output, runErr,
		nullString(run.Trigger), nullString(run.IdempotencyKey),
		run.StartedAt, run.FinishedAt, run.CreatedAt,
	}, nil
}

// GetRun возвращает run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, ensemble, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE ensemble = $1 AND idempotency_key = $2`
	return scanRun(r.pool.QueryRow(ctx, query, ensemble, key))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Ensemble string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR ensemble = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.Ensemble),
		nullString(string(filter.Status)),
		limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListPending возвращает runs в статусе PENDING, старые первыми.
func (r *RunRepo) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	return collectRuns(rows)
}

// Claim атомарно переводит run из PENDING в RUNNING.
// false — run уже забрал другой процесс или он не в PENDING.
func (r *RunRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status = 'RUNNING', started_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim run %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Run, error) {
		run, err := scanRun(row)
		if err != nil {
			return domain.Run{}, err
		}
		return *run, nil
	})
}

// scanRun сканирует одну строку в Run. Подходит и для pgx.Row, и для pgx.Rows.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var status string
	var inputJSON, outputJSON, errorJSON []byte
	var trigger, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.Ensemble,
		&run.Version,
		&status,
		&inputJSON,
		&outputJSON,
		&errorJSON,
		&trigger,
		&idempotencyKey,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.ParseRunStatus(status)

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(outputJSON, &run.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if errorJSON != nil {
		if err := json.Unmarshal(errorJSON, &run.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if trigger != nil {
		run.Trigger = *trigger
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return &run, nil
}

// marshalNullable сериализует значение в JSON; nil даёт NULL.
func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *domain.RunError:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
