package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Ensemble/internal/engine"
)

// Ошибки агентов.
var (
	// ErrAgentNotFound — агент не зарегистрирован в реестре.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidInput — вход агента не прошёл декодирование или валидацию.
	ErrInvalidInput = errors.New("invalid agent input")

	// ErrAgentCancelled — выполнение агента отменено.
	ErrAgentCancelled = errors.New("agent execution cancelled")
)

// Agent — единица работы, привязанная к шагу ансамбля по идентификатору.
//
// Исполнитель ничего не знает о реализации агента: это может быть
// вычисление, исходящий HTTP запрос или публикация в очередь.
type Agent interface {
	// Execute выполняет агента и возвращает значение, которое станет
	// output шага. Агент должен проверять ctx.Done().
	Execute(ctx context.Context, req *Request) (any, error)
}

// Request — входные данные для вызова агента.
type Request struct {
	// RunID — идентификатор запуска ансамбля.
	RunID string

	// StepID — идентификатор шага.
	StepID string

	// AgentID — идентификатор, под которым агент найден в реестре.
	AgentID string

	// Input — вход шага, уже разрешённый цепочкой резолверов.
	Input any

	// Context — контекст выполнения на момент вызова (только чтение).
	Context *engine.Context

	// Attempt — номер попытки, начиная с 1.
	Attempt int
}

// InputMap возвращает вход как map. Не-map вход оборачивается в {"value": input}.
func (r *Request) InputMap() map[string]any {
	switch v := engine.Normalize(r.Input).(type) {
	case map[string]any:
		return v
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": v}
	}
}

// Func — адаптер, позволяющий использовать функцию как Agent.
type Func func(ctx context.Context, req *Request) (any, error)

// Execute вызывает f(ctx, req).
func (f Func) Execute(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// cancelled оборачивает ошибку контекста.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrAgentCancelled, ctx.Err())
}
