package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Ensemble/internal/domain"
)

// EnsembleVersion — сохранённая версия описания ensemble.
type EnsembleVersion struct {
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	Ensemble  *domain.Ensemble `json:"ensemble"`
	CreatedAt time.Time        `json:"created_at"`
}

// EnsembleRepo — репозиторий версий ensemble.
//
// Каждое сохранение создаёт новую версию; Get возвращает последнюю.
type EnsembleRepo struct {
	pool *pgxpool.Pool
}

// NewEnsembleRepo создаёт новый EnsembleRepo.
func NewEnsembleRepo(pool *pgxpool.Pool) *EnsembleRepo {
	return &EnsembleRepo{pool: pool}
}

// Save сохраняет описание как новую версию. Номер версии инкрементируется
// и записывается в ens.Version.
func (r *EnsembleRepo) Save(ctx context.Context, ens *domain.Ensemble) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Получаем следующий номер версии
	var next int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM ensembles
		WHERE name = $1
	`, ens.Name).Scan(&next)
	if err != nil {
		return fmt.Errorf("get next version: %w", err)
	}

	stored := *ens
	stored.Version = next
	descJSON, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ensembles (name, version, descriptor, created_at)
		VALUES ($1, $2, $3, NOW())
	`, ens.Name, next, descJSON); err != nil {
		return fmt.Errorf("insert ensemble version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ens.Version = next
	return nil
}

// Get возвращает последнюю версию ensemble.
func (r *EnsembleRepo) Get(ctx context.Context, name string) (*domain.Ensemble, error) {
	query := `
		SELECT name, version, descriptor, created_at
		FROM ensembles
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1
	`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, err
	}
	return v.Ensemble, nil
}

// List возвращает последние версии всех ensemble.
func (r *EnsembleRepo) List(ctx context.Context) ([]*domain.Ensemble, error) {
	query := `
		SELECT DISTINCT ON (name) name, version, descriptor, created_at
		FROM ensembles
		ORDER BY name, version DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list ensembles: %w", err)
	}
	defer rows.Close()

	var out []*domain.Ensemble
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v.Ensemble)
	}
	return out, rows.Err()
}

func scanVersion(row pgx.Row) (*EnsembleVersion, error) {
	var v EnsembleVersion
	var descJSON []byte
	err := row.Scan(&v.Name, &v.Version, &descJSON, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ensemble: %w", err)
	}

	v.Ensemble = &domain.Ensemble{}
	if err := json.Unmarshal(descJSON, v.Ensemble); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	v.Ensemble.Version = v.Version
	return &v, nil
}
