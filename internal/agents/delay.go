package agents

import (
	"context"
	"fmt"
	"time"
)

// Delay — агент задержки.
//
// Приостанавливает выполнение на указанное время.
// Поддерживает graceful shutdown через context cancellation.
//
// Вход:
//
//	{
//	    "duration_sec": 10,    // задержка в секундах
//	    // или
//	    "duration_ms": 5000    // задержка в миллисекундах
//	}
type Delay struct{}

type delayInput struct {
	DurationSec int `json:"duration_sec" validate:"gte=0"`
	DurationMs  int `json:"duration_ms" validate:"gte=0"`
}

// NewDelay создаёт новый Delay.
func NewDelay() *Delay {
	return &Delay{}
}

// Execute выполняет задержку.
func (d *Delay) Execute(ctx context.Context, req *Request) (any, error) {
	var in delayInput
	if err := Decode(req.InputMap(), &in); err != nil {
		return nil, fmt.Errorf("%s: %w", AgentDelay, err)
	}

	var duration time.Duration
	switch {
	case in.DurationSec > 0:
		duration = time.Duration(in.DurationSec) * time.Second
	case in.DurationMs > 0:
		duration = time.Duration(in.DurationMs) * time.Millisecond
	default:
		return nil, fmt.Errorf("%s: %w: duration_sec or duration_ms required", AgentDelay, ErrInvalidInput)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, cancelled(ctx)
	case <-timer.C:
		return map[string]any{
			"duration_ms": duration.Milliseconds(),
		}, nil
	}
}
