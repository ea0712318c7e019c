package worker

import (
	"context"
	"time"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Значения по умолчанию для retry.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// calculateBackoff вычисляет задержку перед повтором после неудачной
// попытки с номером attempt (начиная с 1).
//
//	exponential: min(initial * 2^(attempt-1), max)
//	linear:      min(initial * attempt, max)
//	fixed:       initial
func calculateBackoff(attempt int, policy *domain.RetryPolicy) time.Duration {
	if policy == nil {
		return defaultInitialDelay
	}

	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	var delay time.Duration
	switch policy.Backoff {
	case "fixed":
		delay = initialDelay
	case "linear":
		delay = initialDelay * time.Duration(max(attempt, 1))
	default:
		// exponential
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// sleepContext ждёт d или отмены контекста.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
