package domain

import "time"

// Outcome — результат выполнения одного шага.
//
// Ровно один из вариантов: success(value), failure(err), skipped,
// timedOut(fallback). Конструкторы гарантируют, что Err и Value
// не заполнены одновременно.
type Outcome struct {
	Status StepStatus

	// Value — результат (success) или fallback (timedOut).
	Value any

	// Err — ошибка (только для failure).
	Err error

	// Cached — результат взят из кэша.
	Cached bool

	// Attempts — количество вызовов агента.
	Attempts int

	// Duration — время выполнения шага.
	Duration time.Duration
}

// Success создаёт успешный результат.
func Success(value any) Outcome {
	return Outcome{Status: StepStatusSucceeded, Value: value}
}

// Failure создаёт результат-ошибку.
func Failure(err error) Outcome {
	return Outcome{Status: StepStatusFailed, Err: err}
}

// Skipped создаёт результат пропущенного шага.
func Skipped() Outcome {
	return Outcome{Status: StepStatusSkipped}
}

// TimedOut создаёт результат истёкшего шага. fallback может быть nil.
func TimedOut(fallback any) Outcome {
	return Outcome{Status: StepStatusTimedOut, Value: fallback}
}

// Failed возвращает true для варианта failure.
func (o Outcome) Failed() bool {
	return o.Status == StepStatusFailed
}
