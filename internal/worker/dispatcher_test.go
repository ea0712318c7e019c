package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Ensemble/internal/agents"
	"github.com/shaiso/Ensemble/internal/cache"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
)

// countingAgent считает вызовы и падает первые failures раз.
type countingAgent struct {
	calls    atomic.Int32
	failures int32
}

func (a *countingAgent) Execute(_ context.Context, req *agents.Request) (any, error) {
	n := a.calls.Add(1)
	if n <= a.failures {
		return nil, errors.New("boom")
	}
	return req.Input, nil
}

// blockingAgent ждёт отмены контекста.
var blockingAgent = agents.Func(func(ctx context.Context, _ *agents.Request) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

type recordedSleep struct {
	delays []time.Duration
}

func (s *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestDispatcher(registry *agents.Registry, sleep *recordedSleep) *Dispatcher {
	cfg := Config{Agents: registry}
	if sleep != nil {
		cfg.Sleep = sleep.sleep
	}
	return New(cfg)
}

func TestDispatch_Success(t *testing.T) {
	registry := agents.NewRegistry()
	registry.Register("double", agents.NewCalculator())
	d := newTestDispatcher(registry, nil)

	step := &domain.FlowStep{Agent: "double", Input: map[string]any{"a": "{{ input.n }}", "op": "multiply", "b": 2}}
	out := d.Dispatch(context.Background(), Call{
		Step:    step,
		Context: engine.NewContext(map[string]any{"n": 10}, nil),
	})

	if out.Status != domain.StepStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %v", out.Status, out.Err)
	}
	if out.Value != float64(20) {
		t.Errorf("expected 20, got %v", out.Value)
	}
	if out.Attempts != 1 || out.Cached {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestDispatch_Errors(t *testing.T) {
	registry := agents.NewRegistry()
	registry.Register("echo", &countingAgent{})

	tests := []struct {
		name     string
		step     *domain.FlowStep
		wantKind domain.ErrorKind
		wantErr  error
	}{
		{
			name:     "expression error",
			step:     &domain.FlowStep{Agent: "echo", Input: map[string]any{"a": "{{ ) }}"}},
			wantKind: domain.KindExpression,
			wantErr:  engine.ErrExpressionSyntax,
		},
		{
			name:     "unknown agent",
			step:     &domain.FlowStep{Agent: "ghost"},
			wantKind: domain.KindAgentExecution,
			wantErr:  agents.ErrAgentNotFound,
		},
		{
			name:     "container step",
			step:     &domain.FlowStep{ID: "p", Type: domain.StepTypeParallel},
			wantKind: domain.KindValidation,
			wantErr:  ErrNotAgentStep,
		},
	}

	d := newTestDispatcher(registry, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := d.Dispatch(context.Background(), Call{Step: tt.step, Context: engine.NewContext(nil, nil)})
			if !out.Failed() {
				t.Fatalf("expected failure, got %s", out.Status)
			}
			if kind := domain.KindOf(out.Err); kind != tt.wantKind {
				t.Errorf("expected %s, got %s", tt.wantKind, kind)
			}
			if !errors.Is(out.Err, tt.wantErr) {
				t.Errorf("expected %v in chain, got %v", tt.wantErr, out.Err)
			}
		})
	}
}

func TestDispatch_RetryExhausted(t *testing.T) {
	agent := &countingAgent{failures: 100}
	registry := agents.NewRegistry()
	registry.Register("flaky", agent)
	sleep := &recordedSleep{}
	d := newTestDispatcher(registry, sleep)

	step := &domain.FlowStep{Agent: "flaky", Retry: &domain.RetryPolicy{Attempts: 2, InitialDelayMs: 100}}
	out := d.Dispatch(context.Background(), Call{Step: step, Context: engine.NewContext(nil, nil)})

	// Первая попытка + 2 повтора
	if got := agent.calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if out.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.Attempts)
	}
	if !errors.Is(out.Err, domain.ErrRetryExhausted) {
		t.Errorf("expected RetryExhaustedError, got %v", out.Err)
	}
	if !errors.Is(out.Err, domain.ErrAgentExecution) {
		t.Errorf("expected wrapped AgentExecutionError, got %v", out.Err)
	}
	if domain.KindOf(out.Err) != domain.KindRetryExhausted {
		t.Errorf("unexpected kind %s", domain.KindOf(out.Err))
	}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleep.delays) != len(expected) {
		t.Fatalf("expected delays %v, got %v", expected, sleep.delays)
	}
	for i := range expected {
		if sleep.delays[i] != expected[i] {
			t.Errorf("delay %d: expected %v, got %v", i, expected[i], sleep.delays[i])
		}
	}
}

func TestDispatch_RetryRecovers(t *testing.T) {
	agent := &countingAgent{failures: 1}
	registry := agents.NewRegistry()
	registry.Register("flaky", agent)
	d := newTestDispatcher(registry, &recordedSleep{})

	// Политика из defaults ансамбля
	defaults := &domain.StepDefaults{Retry: &domain.RetryPolicy{Attempts: 3}}
	out := d.Dispatch(context.Background(), Call{
		Step:     &domain.FlowStep{Agent: "flaky", Input: "ok"},
		Context:  engine.NewContext(nil, nil),
		Defaults: defaults,
	})

	if out.Status != domain.StepStatusSucceeded || out.Value != "ok" {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", out.Attempts)
	}
}

func TestDispatch_NoRetry(t *testing.T) {
	agent := &countingAgent{failures: 1}
	registry := agents.NewRegistry()
	registry.Register("flaky", agent)
	d := newTestDispatcher(registry, &recordedSleep{})

	out := d.Dispatch(context.Background(), Call{Step: &domain.FlowStep{Agent: "flaky"}, Context: engine.NewContext(nil, nil)})

	if domain.KindOf(out.Err) != domain.KindAgentExecution {
		t.Errorf("expected AgentExecutionError, got %v", out.Err)
	}
	if agent.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", agent.calls.Load())
	}
}

func TestDispatch_Timeout(t *testing.T) {
	registry := agents.NewRegistry()
	registry.Register("slow", blockingAgent)
	d := newTestDispatcher(registry, nil)
	noError := false

	tests := []struct {
		name       string
		policy     *domain.TimeoutPolicy
		wantStatus domain.StepStatus
		check      func(t *testing.T, out domain.Outcome)
	}{
		{
			name:       "fallback",
			policy:     &domain.TimeoutPolicy{DurationMs: 20, Fallback: map[string]any{"n": "{{ input.n }}"}},
			wantStatus: domain.StepStatusTimedOut,
			check: func(t *testing.T, out domain.Outcome) {
				v, ok := out.Value.(map[string]any)
				if !ok || v["n"] != 10 {
					t.Errorf("expected resolved fallback, got %v", out.Value)
				}
			},
		},
		{
			name:       "soft timeout",
			policy:     &domain.TimeoutPolicy{DurationMs: 20, Error: &noError},
			wantStatus: domain.StepStatusTimedOut,
			check: func(t *testing.T, out domain.Outcome) {
				if !engine.IsUndefined(out.Value) {
					t.Errorf("expected undefined output, got %v", out.Value)
				}
			},
		},
		{
			name:       "hard timeout",
			policy:     &domain.TimeoutPolicy{DurationMs: 20},
			wantStatus: domain.StepStatusFailed,
			check: func(t *testing.T, out domain.Outcome) {
				if !errors.Is(out.Err, domain.ErrTimeout) || !errors.Is(out.Err, ErrStepTimeout) {
					t.Errorf("expected TimeoutError, got %v", out.Err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &domain.FlowStep{Agent: "slow", Timeout: tt.policy}
			start := time.Now()
			out := d.Dispatch(context.Background(), Call{Step: step, Context: engine.NewContext(map[string]any{"n": 10}, nil)})

			if time.Since(start) > time.Second {
				t.Error("dispatcher must not wait for the abandoned agent")
			}
			if out.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s (%v)", tt.wantStatus, out.Status, out.Err)
			}
			tt.check(t, out)
		})
	}
}

func TestDispatch_TimeoutCoversRetries(t *testing.T) {
	agent := &countingAgent{failures: 100}
	registry := agents.NewRegistry()
	registry.Register("flaky", agent)
	d := New(Config{Agents: registry})

	step := &domain.FlowStep{
		Agent:   "flaky",
		Retry:   &domain.RetryPolicy{Attempts: 10, Backoff: "fixed", InitialDelayMs: 50},
		Timeout: &domain.TimeoutPolicy{DurationMs: 80},
	}
	out := d.Dispatch(context.Background(), Call{Step: step, Context: engine.NewContext(nil, nil)})

	if !errors.Is(out.Err, domain.ErrTimeout) {
		t.Fatalf("expected TimeoutError, got %v", out.Err)
	}
	if calls := agent.calls.Load(); calls >= 10 {
		t.Errorf("deadline should stop retries, got %d calls", calls)
	}
}

func TestDispatch_Cancelled(t *testing.T) {
	registry := agents.NewRegistry()
	registry.Register("slow", blockingAgent)
	d := newTestDispatcher(registry, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := d.Dispatch(ctx, Call{Step: &domain.FlowStep{Agent: "slow"}, Context: engine.NewContext(nil, nil)})
	if domain.KindOf(out.Err) != domain.KindCancelled {
		t.Errorf("expected CancelledError, got %v", out.Err)
	}
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (any, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, any, time.Duration) error {
	return errors.New("cache down")
}

func TestDispatch_Cache(t *testing.T) {
	agent := &countingAgent{}
	registry := agents.NewRegistry()
	registry.Register("echo", agent)
	d := New(Config{Agents: registry, Cache: cache.NewMemory(16, time.Minute)})

	step := &domain.FlowStep{Agent: "echo", Input: map[string]any{"q": "{{ input.q }}"}, Cache: &domain.CachePolicy{Enabled: true}}
	ctx := engine.NewContext(map[string]any{"q": "x"}, nil)

	first := d.Dispatch(context.Background(), Call{Step: step, Context: ctx})
	second := d.Dispatch(context.Background(), Call{Step: step, Context: ctx})

	if first.Cached || !second.Cached {
		t.Errorf("expected miss then hit, got %v then %v", first.Cached, second.Cached)
	}
	if agent.calls.Load() != 1 {
		t.Errorf("expected 1 agent call, got %d", agent.calls.Load())
	}

	// Другой вход — другой отпечаток
	other := d.Dispatch(context.Background(), Call{Step: step, Context: engine.NewContext(map[string]any{"q": "y"}, nil)})
	if other.Cached {
		t.Error("different input must not hit the cache")
	}
}

func TestDispatch_CacheFailureIsMiss(t *testing.T) {
	agent := &countingAgent{}
	registry := agents.NewRegistry()
	registry.Register("echo", agent)
	d := New(Config{Agents: registry, Cache: failingCache{}})

	step := &domain.FlowStep{Agent: "echo", Input: "v", Cache: &domain.CachePolicy{Enabled: true}}
	out := d.Dispatch(context.Background(), Call{Step: step, Context: engine.NewContext(nil, nil)})

	if out.Status != domain.StepStatusSucceeded || out.Cached {
		t.Errorf("cache failure must fall through to the agent, got %+v", out)
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("calculator", map[string]any{"a": 1, "op": "add", "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Fingerprint("calculator", map[string]any{"b": 2, "op": "add", "a": 1})
	c, _ := Fingerprint("calculator", map[string]any{"a": 1, "op": "add", "b": 3})
	other, _ := Fingerprint("double", map[string]any{"a": 1, "op": "add", "b": 2})

	if a != b {
		t.Errorf("key order must not change the fingerprint: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different input must change the fingerprint")
	}
	if !strings.HasPrefix(a, "calculator:") || len(a) != len("calculator:")+fingerprintLen {
		t.Errorf("unexpected format: %s", a)
	}
	if strings.TrimPrefix(a, "calculator:") != strings.TrimPrefix(other, "double:") {
		t.Error("hash part depends only on the input")
	}
}
