package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Ensemble/internal/agents"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// Cache — кэш результатов agent-шагов.
// Реализации: cache.Memory, cache.Redis.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Dispatcher выполняет один agent-шаг.
//
// Порядок: разрешение входа через цепочку резолверов, поиск агента,
// чтение кэша, вызов агента с retry. Дедлайн шага покрывает весь вызов,
// включая все повторы. Результат всегда нормализуется в domain.Outcome.
type Dispatcher struct {
	agents   *agents.Registry
	chain    *engine.Chain
	cache    Cache
	cacheTTL time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Config — конфигурация Dispatcher.
type Config struct {
	// Agents — реестр агентов (если nil — agents.DefaultRegistry()).
	Agents *agents.Registry

	// Chain — цепочка резолверов (если nil — engine.NewChain()).
	Chain *engine.Chain

	// Cache — кэш результатов (опционально).
	Cache Cache

	// CacheTTL — TTL записи, если в шаге не задан ttl_sec.
	CacheTTL time.Duration

	// Metrics — метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Sleep — ожидание между повторами (подменяется в тестах).
	Sleep func(ctx context.Context, d time.Duration) error
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	registry := cfg.Agents
	if registry == nil {
		registry = agents.DefaultRegistry()
	}

	chain := cfg.Chain
	if chain == nil {
		chain = engine.NewChain()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Dispatcher{
		agents:   registry,
		chain:    chain,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		metrics:  cfg.Metrics,
		logger:   logger,
		sleep:    sleep,
	}
}

// Agents возвращает реестр агентов.
func (d *Dispatcher) Agents() *agents.Registry {
	return d.agents
}

// Chain возвращает цепочку резолверов.
func (d *Dispatcher) Chain() *engine.Chain {
	return d.chain
}

// Call — один вызов agent-шага.
type Call struct {
	RunID    string
	Step     *domain.FlowStep
	Context  *engine.Context
	Defaults *domain.StepDefaults
}

// Dispatch выполняет agent-шаг и возвращает его результат.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) domain.Outcome {
	start := time.Now()
	step := call.Step
	id := step.StepID()

	if step.Kind() != domain.StepTypeAgent {
		return domain.Failure(domain.NewStepError(domain.KindValidation, id,
			fmt.Errorf("%w: %s", ErrNotAgentStep, step.Kind())))
	}

	var out domain.Outcome
	if timeout := effectiveTimeout(step, call.Defaults); timeout != nil {
		// Брошенный по дедлайну вызов работает со своей копией контекста
		isolated := call
		isolated.Context = call.Context.Fork()
		out, _ = d.WithTimeout(ctx, id, timeout, call.Context, func(ctx context.Context) domain.Outcome {
			return d.dispatch(ctx, isolated)
		})
	} else {
		out = d.dispatch(ctx, call)
	}

	out.Duration = time.Since(start)
	return out
}

// dispatch выполняет шаг без учёта дедлайна.
func (d *Dispatcher) dispatch(ctx context.Context, call Call) domain.Outcome {
	step := call.Step
	id := step.StepID()
	logger := d.logger.With("run_id", call.RunID, "step_id", id, "agent", step.Agent)

	input, err := d.chain.Resolve(step.Input, call.Context)
	if err != nil {
		return domain.Failure(domain.NewStepError(domain.KindExpression, id, err))
	}

	agent, err := d.agents.Get(step.Agent)
	if err != nil {
		return domain.Failure(domain.NewStepError(domain.KindAgentExecution, id, err))
	}

	var key string
	if d.cache != nil && step.Cache != nil && step.Cache.Enabled {
		key, err = Fingerprint(step.Agent, input)
		if err != nil {
			logger.Warn("failed to fingerprint input, cache skipped", "error", err)
		} else if value, ok := d.cacheGet(ctx, key, logger); ok {
			out := domain.Success(value)
			out.Cached = true
			return out
		}
	}

	out := d.invoke(ctx, call, agent, input, logger)

	if key != "" && out.Status == domain.StepStatusSucceeded {
		ttl := d.cacheTTL
		if step.Cache.TTLSec > 0 {
			ttl = time.Duration(step.Cache.TTLSec) * time.Second
		}
		if err := d.cache.Set(ctx, key, out.Value, ttl); err != nil {
			logger.Warn("failed to store cached result", "key", key, "error", err)
		}
	}

	return out
}

// cacheGet читает кэш. Ошибка кэша — промах.
func (d *Dispatcher) cacheGet(ctx context.Context, key string, logger *slog.Logger) (any, bool) {
	value, ok, err := d.cache.Get(ctx, key)
	switch {
	case err != nil:
		d.metrics.CacheLookup("error")
		logger.Warn("cache lookup failed, treating as miss", "key", key, "error", err)
		return nil, false
	case ok:
		d.metrics.CacheLookup("hit")
		logger.Debug("cache hit", "key", key)
		return value, true
	default:
		d.metrics.CacheLookup("miss")
		return nil, false
	}
}

// invoke вызывает агента с повторами согласно RetryPolicy.
func (d *Dispatcher) invoke(ctx context.Context, call Call, agent agents.Agent, input any, logger *slog.Logger) domain.Outcome {
	step := call.Step
	id := step.StepID()

	policy := effectiveRetry(step, call.Defaults)
	retries := 0
	if policy != nil {
		retries = policy.Attempts
	}

	var lastErr error
	attempt := 0
	for attempt < retries+1 {
		attempt++
		d.metrics.AgentAttempt(step.Agent)

		value, err := agent.Execute(ctx, &agents.Request{
			RunID:   call.RunID,
			StepID:  id,
			AgentID: step.Agent,
			Input:   input,
			Context: call.Context,
			Attempt: attempt,
		})
		if err == nil {
			out := domain.Success(value)
			out.Attempts = attempt
			return out
		}
		lastErr = err

		if ctx.Err() != nil {
			return cancelledOutcome(ctx, id, attempt)
		}
		if attempt > retries {
			break
		}

		delay := calculateBackoff(attempt, policy)
		logger.Warn("agent failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if err := d.sleep(ctx, delay); err != nil {
			return cancelledOutcome(ctx, id, attempt)
		}
	}

	agentErr := &domain.StepError{
		Kind:     domain.KindAgentExecution,
		StepID:   id,
		Message:  lastErr.Error(),
		Attempts: attempt,
		Err:      lastErr,
	}

	var out domain.Outcome
	if retries == 0 {
		out = domain.Failure(agentErr)
	} else {
		out = domain.Failure(&domain.StepError{
			Kind:     domain.KindRetryExhausted,
			StepID:   id,
			Message:  fmt.Sprintf("%d attempts failed, last error: %s", attempt, lastErr),
			Attempts: attempt,
			Err:      agentErr,
		})
	}
	out.Attempts = attempt

	logger.Warn("agent failed", "attempts", attempt, "error", lastErr)
	return out
}

// WithTimeout выполняет fn, ограничивая её дедлайном policy.
//
// По истечении дедлайна fn бросается (её контекст отменяется, но результат
// не ждём): при заданном fallback шаг получает статус TIMED_OUT и fallback
// как output, при error: false — TIMED_OUT с undefined, иначе TimeoutError.
// scope используется для разрешения плейсхолдеров в fallback.
// expired == false гарантирует, что fn завершилась.
func (d *Dispatcher) WithTimeout(ctx context.Context, stepID string, policy *domain.TimeoutPolicy, scope engine.Scope, fn func(context.Context) domain.Outcome) (out domain.Outcome, expired bool) {
	tctx, cancel := context.WithTimeout(ctx, time.Duration(policy.DurationMs)*time.Millisecond)
	defer cancel()

	done := make(chan domain.Outcome, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case out = <-done:
		if out.Failed() && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return d.expired(stepID, policy, scope), false
		}
		return out, false
	case <-tctx.Done():
		if ctx.Err() != nil {
			return cancelledOutcome(ctx, stepID, 0), true
		}
		return d.expired(stepID, policy, scope), true
	}
}

// expired строит результат шага с истёкшим дедлайном.
func (d *Dispatcher) expired(stepID string, policy *domain.TimeoutPolicy, scope engine.Scope) domain.Outcome {
	d.logger.Warn("step timed out", "step_id", stepID, "timeout_ms", policy.DurationMs)

	if policy.HasFallback() {
		fallback, err := d.chain.Resolve(policy.Fallback, scope)
		if err != nil {
			return domain.Failure(domain.NewStepError(domain.KindExpression, stepID, err))
		}
		return domain.TimedOut(fallback)
	}

	if !policy.IsHard() {
		return domain.TimedOut(engine.Undefined)
	}

	return domain.Failure(&domain.StepError{
		Kind:    domain.KindTimeout,
		StepID:  stepID,
		Message: fmt.Sprintf("deadline of %dms exceeded", policy.DurationMs),
		Err:     ErrStepTimeout,
	})
}

func cancelledOutcome(ctx context.Context, stepID string, attempts int) domain.Outcome {
	out := domain.Failure(domain.NewStepError(domain.KindCancelled, stepID, ctx.Err()))
	out.Attempts = attempts
	return out
}

// effectiveRetry возвращает политику шага или политику по умолчанию ансамбля.
func effectiveRetry(step *domain.FlowStep, defaults *domain.StepDefaults) *domain.RetryPolicy {
	if step.Retry != nil {
		return step.Retry
	}
	if defaults != nil {
		return defaults.Retry
	}
	return nil
}

// effectiveTimeout возвращает дедлайн шага или дедлайн по умолчанию ансамбля.
func effectiveTimeout(step *domain.FlowStep, defaults *domain.StepDefaults) *domain.TimeoutPolicy {
	if step.Timeout != nil {
		return step.Timeout
	}
	if defaults != nil {
		return defaults.Timeout
	}
	return nil
}
