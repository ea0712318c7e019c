package engine

import (
	"errors"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Ошибки валидации Ensemble.
var (
	// ErrEmptyFlow — ensemble не содержит шагов.
	ErrEmptyFlow = errors.New("ensemble has no flow steps")

	// ErrEmptyName — ensemble без имени.
	ErrEmptyName = errors.New("ensemble has empty name")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrInvalidStepID — ID шага не является именем или зарезервирован.
	ErrInvalidStepID = errors.New("invalid step ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStepType — неизвестный тип шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrMissingAgent — agent-шаг без агента.
	ErrMissingAgent = errors.New("agent step has no agent")

	// ErrUnknownAgent — агент не зарегистрирован.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrEmptySteps — контейнерный шаг без вложенных шагов.
	ErrEmptySteps = errors.New("step has no nested steps")

	// ErrMissingCondition — branch/while без условия.
	ErrMissingCondition = errors.New("step has no condition")

	// ErrMissingItems — foreach/map_reduce без items.
	ErrMissingItems = errors.New("step has no items expression")

	// ErrMissingTemplate — foreach/map_reduce без шаблона шага.
	ErrMissingTemplate = errors.New("step has no step template")

	// ErrMissingValue — switch без value.
	ErrMissingValue = errors.New("switch step has no value expression")

	// ErrInvalidMaxIterations — while без положительного max_iterations.
	ErrInvalidMaxIterations = errors.New("while step requires positive max_iterations")

	// ErrInvalidRetry — некорректная политика повторов.
	ErrInvalidRetry = errors.New("invalid retry policy")

	// ErrInvalidTimeout — некорректный таймаут.
	ErrInvalidTimeout = errors.New("invalid timeout policy")

	// ErrInvalidModifier — модификатор неприменим к шагу.
	ErrInvalidModifier = errors.New("modifier not applicable to step")

	// ErrForwardReference — выражение ссылается на шаг, который ещё не завершён.
	ErrForwardReference = errors.New("reference to a step that has not completed")

	// ErrSelfReference — шаг ссылается на самого себя.
	ErrSelfReference = errors.New("step references itself")

	// ErrMissingInput — не передан обязательный входной параметр.
	ErrMissingInput = errors.New("required input is missing")

	// ErrInputType — тип входного параметра не совпадает с описанием.
	ErrInputType = errors.New("input has wrong type")
)

// Ошибки выражений и шаблонов.
var (
	// ErrExpressionSyntax — синтаксическая ошибка в выражении.
	ErrExpressionSyntax = errors.New("expression syntax error")

	// ErrTemplateRender — ошибка вычисления шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка разбора шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is относит ошибку к категории ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrValidation
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
