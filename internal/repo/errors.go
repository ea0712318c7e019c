package repo

import "github.com/shaiso/Ensemble/internal/domain"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = domain.ErrNotFound

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = domain.ErrAlreadyExists
)

// uniqueViolation — SQLSTATE нарушения уникального индекса.
const uniqueViolation = "23505"
