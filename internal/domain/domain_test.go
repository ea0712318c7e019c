package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"step error", NewStepError(KindLoopBoundExceeded, "loop", errors.New("too many")), KindLoopBoundExceeded},
		{"wrapped step error", fmt.Errorf("outer: %w", NewStepError(KindExpression, "a", nil)), KindExpression},
		{"sentinel", fmt.Errorf("x: %w", ErrValidation), KindValidation},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"plain error", errors.New("boom"), KindAgentExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestStepError_Is(t *testing.T) {
	inner := errors.New("connection refused")
	err := &StepError{
		Kind:   KindRetryExhausted,
		StepID: "fetch",
		Err:    NewStepError(KindAgentExecution, "fetch", inner),
	}

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("expected ErrRetryExhausted")
	}
	// Цепочка Unwrap доходит до ошибки агента
	if !errors.Is(err, ErrAgentExecution) || !errors.Is(err, inner) {
		t.Error("expected wrapped agent error")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("unexpected ErrTimeout")
	}
}

func TestToRunError(t *testing.T) {
	if ToRunError(nil, "a") != nil {
		t.Error("expected nil for nil error")
	}

	re := ToRunError(NewStepError(KindTimeout, "slow", errors.New("deadline")), "outer")
	if re.StepID != "slow" || re.Kind != KindTimeout || re.Message != "deadline" {
		t.Errorf("unexpected run error: %+v", re)
	}

	re = ToRunError(errors.New("boom"), "outer")
	if re.StepID != "outer" || re.Kind != KindAgentExecution {
		t.Errorf("unexpected run error: %+v", re)
	}

	orig := &RunError{StepID: "x", Kind: KindCancelled, Message: "stop"}
	if got := ToRunError(fmt.Errorf("wrap: %w", orig), ""); got != orig {
		t.Errorf("expected the same RunError, got %+v", got)
	}
	if orig.Error() != "CancelledError at x: stop" {
		t.Errorf("unexpected message: %s", orig.Error())
	}
}

func TestRun_Lifecycle(t *testing.T) {
	run := NewRun("calc", 2, nil)
	if run.Status != RunStatusPending || run.Input == nil || run.IsFinished() {
		t.Fatalf("unexpected new run: %+v", run)
	}
	if run.Duration() != 0 {
		t.Error("pending run must have zero duration")
	}

	run.MarkRunning()
	if run.StartedAt == nil || run.IsFinished() {
		t.Fatalf("expected running run, got %+v", run)
	}

	run.MarkFailed(&RunError{Kind: KindTimeout})
	if !run.IsFinished() || run.FinishedAt == nil || run.Error == nil {
		t.Errorf("expected finished run with error, got %+v", run)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	for _, s := range []RunStatus{RunStatusSucceeded, RunStatusFailed, RunStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunStatusPending, RunStatusRunning} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	if !StepStatusTimedOut.IsTerminal() || StepStatusRunning.IsTerminal() {
		t.Error("unexpected step status terminality")
	}
	if ParseRunStatus("FAILED") != RunStatusFailed {
		t.Error("expected FAILED")
	}
}

func TestFlowStep_Defaults(t *testing.T) {
	agent := FlowStep{Agent: "calculator"}
	if agent.Kind() != StepTypeAgent || agent.StepID() != "calculator" {
		t.Errorf("unexpected agent step: kind=%s id=%s", agent.Kind(), agent.StepID())
	}

	container := FlowStep{Type: StepTypeSequence}
	if container.StepID() != "" || container.ItemVar() != "item" {
		t.Error("unexpected container defaults")
	}

	sw := FlowStep{
		Type: StepTypeSwitch,
		Cases: map[string][]FlowStep{
			"b": {{ID: "b1"}},
			"a": {{ID: "a1"}, {ID: "a2"}},
		},
		Default: []FlowStep{{ID: "d"}},
	}
	var ids []string
	for _, child := range sw.Children() {
		ids = append(ids, child.ID)
	}
	if fmt.Sprint(ids) != "[a1 a2 b1 d]" {
		t.Errorf("unexpected children order: %v", ids)
	}
}

func TestTimeoutPolicy(t *testing.T) {
	soft := false
	tests := []struct {
		name         string
		policy       TimeoutPolicy
		wantFallback bool
		wantHard     bool
	}{
		{"default", TimeoutPolicy{DurationMs: 10}, false, true},
		{"fallback", TimeoutPolicy{DurationMs: 10, Fallback: "late"}, true, true},
		{"soft", TimeoutPolicy{DurationMs: 10, Error: &soft}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.policy.HasFallback() != tt.wantFallback || tt.policy.IsHard() != tt.wantHard {
				t.Errorf("unexpected policy flags: %+v", tt.policy)
			}
		})
	}
}

func TestTrigger_YAML(t *testing.T) {
	var triggers []Trigger
	data := `
- type: cron
  cron: "0 9 * * *"
  timezone: Europe/Moscow
- type: cron
  cron: "*/5 * * * *"
  disabled: true
- type: http
`
	if err := yaml.Unmarshal([]byte(data), &triggers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !triggers[0].IsCron() || triggers[0].Location() != "Europe/Moscow" {
		t.Errorf("unexpected first trigger: %+v", triggers[0])
	}
	if triggers[1].IsCron() {
		t.Error("disabled trigger must not be active")
	}
	if triggers[2].IsCron() || triggers[2].Location() != "UTC" {
		t.Errorf("unexpected http trigger: %+v", triggers[2])
	}
}

func TestOutcome(t *testing.T) {
	if out := Failure(errors.New("x")); !out.Failed() || out.Value != nil {
		t.Errorf("unexpected failure outcome: %+v", out)
	}
	if out := TimedOut("late"); out.Failed() || out.Status != StepStatusTimedOut || out.Value != "late" {
		t.Errorf("unexpected timed out outcome: %+v", out)
	}
	if Skipped().Status != StepStatusSkipped || Success(1).Status != StepStatusSucceeded {
		t.Error("unexpected outcome statuses")
	}
}
