package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind — категория ошибки выполнения.
type ErrorKind string

const (
	// KindValidation — некорректное описание шага, обнаруживается до выполнения.
	KindValidation ErrorKind = "ValidationError"

	// KindAgentExecution — ошибка, которую вернул агент.
	KindAgentExecution ErrorKind = "AgentExecutionError"

	// KindTimeout — дедлайн истёк, fallback не задан.
	KindTimeout ErrorKind = "TimeoutError"

	// KindRetryExhausted — все повторы исчерпаны.
	KindRetryExhausted ErrorKind = "RetryExhaustedError"

	// KindLoopBoundExceeded — while достиг max_iterations.
	KindLoopBoundExceeded ErrorKind = "LoopBoundExceededError"

	// KindExpression — ошибка разбора или вычисления выражения во время выполнения.
	KindExpression ErrorKind = "ExpressionError"

	// KindCancelled — контекст run отменён.
	KindCancelled ErrorKind = "CancelledError"
)

// Сентинельные ошибки для errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrAgentExecution    = errors.New("agent execution failed")
	ErrTimeout           = errors.New("step timed out")
	ErrRetryExhausted    = errors.New("retry attempts exhausted")
	ErrLoopBoundExceeded = errors.New("loop bound exceeded")
	ErrExpression        = errors.New("expression evaluation failed")
	ErrCancelled         = errors.New("run cancelled")
)

// Ошибки хранилища и каталога.
var (
	// ErrNotFound — запись (run, ensemble) не найдена в хранилище или каталоге.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (например, run с тем же ключом идемпотентности).
	ErrAlreadyExists = errors.New("already exists")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindAgentExecution:    ErrAgentExecution,
	KindTimeout:           ErrTimeout,
	KindRetryExhausted:    ErrRetryExhausted,
	KindLoopBoundExceeded: ErrLoopBoundExceeded,
	KindExpression:        ErrExpression,
	KindCancelled:         ErrCancelled,
}

// kindOrder — порядок проверки сентинелей в KindOf.
var kindOrder = []ErrorKind{
	KindCancelled, KindValidation, KindExpression, KindLoopBoundExceeded,
	KindRetryExhausted, KindTimeout, KindAgentExecution,
}

// StepError — ошибка шага с категорией.
//
// errors.Is(err, ErrTimeout) и т.п. работают через Is.
type StepError struct {
	Kind     ErrorKind
	StepID   string
	Message  string
	Attempts int
	Err      error
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StepID != "" {
		return fmt.Sprintf("step %s: %s: %s", e.StepID, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap возвращает базовую ошибку.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с сентинелем её категории.
func (e *StepError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// NewStepError создаёт ошибку шага.
func NewStepError(kind ErrorKind, stepID string, err error) *StepError {
	se := &StepError{Kind: kind, StepID: stepID, Err: err}
	if err != nil {
		se.Message = err.Error()
	}
	return se
}

// KindOf возвращает категорию ошибки.
// Ошибки без категории считаются ошибками агента.
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, kind := range kindOrder {
		if errors.Is(err, kindSentinels[kind]) {
			return kind
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindAgentExecution
}

// ToRunError превращает ошибку в структурированный результат.
// stepID используется, если ошибка не несёт собственного шага.
func ToRunError(err error, stepID string) *RunError {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	out := &RunError{StepID: stepID, Kind: KindOf(err), Message: err.Error()}
	var se *StepError
	if errors.As(err, &se) {
		if se.StepID != "" {
			out.StepID = se.StepID
		}
		out.Message = se.Message
		if out.Message == "" {
			out.Message = se.Error()
		}
	}
	return out
}
