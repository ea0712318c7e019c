package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrEnsembleNotFound — ensemble не найден в каталоге.
	ErrEnsembleNotFound = errors.New("ensemble not found")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotActive — run не найден среди активных (например, при отмене).
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrItemsNotList — выражение items вернуло не список.
	ErrItemsNotList = errors.New("items expression did not produce a list")

	// ErrRunDeadline — истёк общий таймаут run.
	ErrRunDeadline = errors.New("run deadline exceeded")

	// ErrServiceStopped — сервис остановлен.
	ErrServiceStopped = errors.New("service stopped")
)
