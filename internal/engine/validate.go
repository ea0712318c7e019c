package engine

import (
	"fmt"

	"github.com/shaiso/Ensemble/internal/domain"
)

// reservedNames — имена, которые нельзя использовать как ID шага:
// они перекрываются пространствами имён и литералами выражений.
var reservedNames = map[string]bool{
	"input": true, "env": true, "output": true, "steps": true, "state": true,
	"item": true, "index": true, "error": true, "results": true, "iteration": true,
	"true": true, "false": true, "null": true, "undefined": true,
}

// Допустимые стратегии backoff.
var validBackoffs = map[string]bool{
	"":            true,
	"exponential": true,
	"fixed":       true,
	"linear":      true,
}

// Validate выполняет полную валидацию Ensemble до начала выполнения.
//
// Проверяет:
// - Наличие шагов
// - Уникальность и формат ID шагов
// - Корректность типов шагов и обязательных полей каждого варианта
// - Модификаторы retry/timeout/cache
// - Синтаксис всех выражений и шаблонов (включая output)
// - Ссылки на шаги, которые не могут быть завершены к моменту вычисления
func Validate(ens *domain.Ensemble) error {
	if ens == nil || len(ens.Flow) == 0 {
		return NewValidationError("", "flow", "ensemble has no flow steps", ErrEmptyFlow)
	}

	stepIDs := make(map[string]bool)
	for i := range ens.Flow {
		if err := ValidateStep(&ens.Flow[i], stepIDs); err != nil {
			return err
		}
	}

	if ens.Defaults != nil {
		if err := validateRetry("", ens.Defaults.Retry); err != nil {
			return err
		}
		if err := validateTimeout("", ens.Defaults.Timeout); err != nil {
			return err
		}
	}

	if err := validateValue("", "output", ens.Output); err != nil {
		return err
	}

	return CheckReferences(ens)
}

// ValidateStep валидирует шаг и его вложенные шаги.
// stepIDs — уже встреченные ID шагов (для проверки уникальности).
func ValidateStep(step *domain.FlowStep, stepIDs map[string]bool) error {
	id := step.StepID()
	if err := validateStepID(id, stepIDs); err != nil {
		return err
	}

	kind := step.Kind()
	if kind == "" {
		return NewValidationError(id, "type", "step has empty type", ErrUnknownStepType)
	}
	if !kind.IsValid() {
		return NewValidationError(id, "type",
			fmt.Sprintf("unknown step type: %s", kind), ErrUnknownStepType)
	}

	if err := validateModifiers(id, step); err != nil {
		return err
	}

	if err := validateVariant(id, step); err != nil {
		return err
	}

	for _, child := range step.Children() {
		if err := ValidateStep(child, stepIDs); err != nil {
			return err
		}
	}
	return nil
}

func validateStepID(id string, stepIDs map[string]bool) error {
	if id == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}
	if !isIdentStart(id[0]) {
		return NewValidationError(id, "id",
			fmt.Sprintf("invalid step ID: %s", id), ErrInvalidStepID)
	}
	for i := 1; i < len(id); i++ {
		if !isIdentPart(id[i]) {
			return NewValidationError(id, "id",
				fmt.Sprintf("invalid step ID: %s", id), ErrInvalidStepID)
		}
	}
	if reservedNames[id] {
		return NewValidationError(id, "id",
			fmt.Sprintf("step ID %q is reserved", id), ErrInvalidStepID)
	}
	// ID — ключ журнала шагов и представления шага в контексте,
	// поэтому он уникален во всём flow, включая взаимоисключающие ветки.
	if stepIDs[id] {
		return NewValidationError(id, "id",
			fmt.Sprintf("duplicate step ID: %s (step IDs must be unique across the whole flow, "+
				"including then/else, switch cases and try/catch; set an explicit id)", id), ErrDuplicateStepID)
	}
	stepIDs[id] = true
	return nil
}

func validateModifiers(id string, step *domain.FlowStep) error {
	if err := validateExpr(id, "when", step.When); err != nil {
		return err
	}
	if err := validateRetry(id, step.Retry); err != nil {
		return err
	}
	if err := validateTimeout(id, step.Timeout); err != nil {
		return err
	}
	if step.Retry != nil && step.Kind() != domain.StepTypeAgent {
		return NewValidationError(id, "retry",
			"retry is only supported on agent steps", ErrInvalidModifier)
	}
	if step.Cache != nil && step.Cache.Enabled && step.Kind() != domain.StepTypeAgent {
		return NewValidationError(id, "cache",
			"cache is only supported on agent steps", ErrInvalidModifier)
	}
	if step.MaxConcurrency < 0 {
		return NewValidationError(id, "max_concurrency",
			"max_concurrency must not be negative", ErrInvalidModifier)
	}
	return nil
}

func validateRetry(id string, retry *domain.RetryPolicy) error {
	if retry == nil {
		return nil
	}
	if retry.Attempts < 0 {
		return NewValidationError(id, "retry.attempts",
			"retry attempts must not be negative", ErrInvalidRetry)
	}
	if retry.InitialDelayMs < 0 || retry.MaxDelayMs < 0 {
		return NewValidationError(id, "retry",
			"retry delays must not be negative", ErrInvalidRetry)
	}
	if !validBackoffs[retry.Backoff] {
		return NewValidationError(id, "retry.backoff",
			fmt.Sprintf("unknown backoff: %s", retry.Backoff), ErrInvalidRetry)
	}
	return nil
}

func validateTimeout(id string, timeout *domain.TimeoutPolicy) error {
	if timeout == nil {
		return nil
	}
	if timeout.DurationMs <= 0 {
		return NewValidationError(id, "timeout.duration_ms",
			"timeout duration must be positive", ErrInvalidTimeout)
	}
	return validateValue(id, "timeout.fallback", timeout.Fallback)
}

// validateVariant проверяет обязательные поля конкретного варианта шага.
func validateVariant(id string, step *domain.FlowStep) error {
	switch step.Kind() {
	case domain.StepTypeAgent:
		if step.Agent == "" {
			return NewValidationError(id, "agent", "agent step has no agent", ErrMissingAgent)
		}
		return validateValue(id, "input", step.Input)

	case domain.StepTypeSequence, domain.StepTypeParallel:
		if len(step.Steps) == 0 {
			return NewValidationError(id, "steps",
				fmt.Sprintf("%s step has no steps", step.Kind()), ErrEmptySteps)
		}

	case domain.StepTypeBranch:
		if step.Condition == "" {
			return NewValidationError(id, "condition", "branch step has no condition", ErrMissingCondition)
		}
		if len(step.Then) == 0 && len(step.Else) == 0 {
			return NewValidationError(id, "then", "branch step has no then/else steps", ErrEmptySteps)
		}
		return validateExpr(id, "condition", step.Condition)

	case domain.StepTypeTry:
		if len(step.Steps) == 0 {
			return NewValidationError(id, "steps", "try step has no steps", ErrEmptySteps)
		}

	case domain.StepTypeForeach:
		if step.Items == "" {
			return NewValidationError(id, "items", "foreach step has no items", ErrMissingItems)
		}
		if step.Step == nil {
			return NewValidationError(id, "step", "foreach step has no step template", ErrMissingTemplate)
		}
		return validateExpr(id, "items", step.Items)

	case domain.StepTypeWhile:
		if step.Condition == "" {
			return NewValidationError(id, "condition", "while step has no condition", ErrMissingCondition)
		}
		if step.MaxIterations <= 0 {
			return NewValidationError(id, "max_iterations",
				"while step requires positive max_iterations", ErrInvalidMaxIterations)
		}
		if len(step.Steps) == 0 {
			return NewValidationError(id, "steps", "while step has no steps", ErrEmptySteps)
		}
		return validateExpr(id, "condition", step.Condition)

	case domain.StepTypeSwitch:
		if step.Value == "" {
			return NewValidationError(id, "value", "switch step has no value", ErrMissingValue)
		}
		return validateExpr(id, "value", step.Value)

	case domain.StepTypeMapReduce:
		if step.Items == "" {
			return NewValidationError(id, "items", "map_reduce step has no items", ErrMissingItems)
		}
		if step.Map == nil || step.Reduce == nil {
			return NewValidationError(id, "map", "map_reduce step requires map and reduce templates", ErrMissingTemplate)
		}
		return validateExpr(id, "items", step.Items)
	}
	return nil
}

// validateExpr проверяет синтаксис выражения (пустое допустимо).
func validateExpr(id, field, src string) error {
	if src == "" {
		return nil
	}
	if _, err := CompileAny(src); err != nil {
		return NewValidationError(id, field, err.Error(), err)
	}
	return nil
}

// validateValue проверяет все шаблоны внутри значения конфигурации.
func validateValue(id, field string, value any) error {
	var firstErr error
	walkStrings(value, func(s string) {
		if firstErr != nil {
			return
		}
		if _, err := ParseTemplate(s); err != nil {
			firstErr = NewValidationError(id, field, err.Error(), err)
		}
	})
	return firstErr
}

// ValidateAgents проверяет, что все agent-шаги ссылаются на известных агентов.
func ValidateAgents(ens *domain.Ensemble, has func(agentID string) bool) error {
	var firstErr error
	WalkSteps(ens.Flow, func(step *domain.FlowStep) {
		if firstErr != nil || step.Kind() != domain.StepTypeAgent {
			return
		}
		if !has(step.Agent) {
			firstErr = NewValidationError(step.StepID(), "agent",
				fmt.Sprintf("unknown agent: %s", step.Agent), ErrUnknownAgent)
		}
	})
	return firstErr
}

// WalkSteps обходит дерево шагов в глубину в порядке объявления.
func WalkSteps(steps []domain.FlowStep, fn func(step *domain.FlowStep)) {
	for i := range steps {
		walkStep(&steps[i], fn)
	}
}

func walkStep(step *domain.FlowStep, fn func(step *domain.FlowStep)) {
	fn(step)
	for _, child := range step.Children() {
		walkStep(child, fn)
	}
}

// IsValidStepType проверяет, является ли тип шага допустимым.
func IsValidStepType(stepType string) bool {
	return domain.StepType(stepType).IsValid()
}
