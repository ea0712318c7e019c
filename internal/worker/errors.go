package worker

import "errors"

// Ошибки диспетчера.
var (
	// ErrNotAgentStep — Dispatch вызван для шага, который не является agent.
	ErrNotAgentStep = errors.New("not an agent step")

	// ErrStepTimeout — дедлайн шага истёк.
	ErrStepTimeout = errors.New("step deadline exceeded")
)
