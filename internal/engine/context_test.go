package engine

import "testing"

func TestNewContext(t *testing.T) {
	// С nil input
	ctx := NewContext(nil, nil)
	if ctx.Input == nil {
		t.Error("Input should not be nil")
	}
	if ctx.Env == nil {
		t.Error("Env should not be nil")
	}
	if len(ctx.StepIDs()) != 0 {
		t.Error("new context should have no steps")
	}

	// С input
	ctx = NewContext(map[string]any{"key": "value"}, map[string]any{"REGION": "eu"})
	if v, _ := ctx.Lookup("input"); v.(map[string]any)["key"] != "value" {
		t.Error("input should contain provided values")
	}
	if v, _ := ctx.Lookup("env"); v.(map[string]any)["REGION"] != "eu" {
		t.Error("env should contain provided values")
	}
}

func TestContext_AddStepResult(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.AddStepResult("step1", StepResult{Output: map[string]any{"data": "test"}, Status: "SUCCEEDED", Attempts: 1})

	for _, src := range []string{"step1.output.data", "steps.step1.output.data", "state.step1.output.data"} {
		got, err := Evaluate(src, ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != "test" {
			t.Errorf("%s: expected test, got %v", src, got)
		}
	}

	status, _ := Evaluate("step1.status", ctx)
	if status != "SUCCEEDED" {
		t.Errorf("expected SUCCEEDED, got %v", status)
	}

	// Повторное добавление перезаписывает значение, порядок сохраняется.
	ctx.AddStepResult("step2", StepResult{Output: 1})
	ctx.AddStepResult("step1", StepResult{Output: 2})
	ids := ctx.StepIDs()
	if len(ids) != 2 || ids[0] != "step1" || ids[1] != "step2" {
		t.Errorf("unexpected order: %v", ids)
	}
	if ctx.StepOutput("step1") != 2 {
		t.Errorf("expected overwritten output, got %v", ctx.StepOutput("step1"))
	}
	if !IsUndefined(ctx.StepOutput("missing")) {
		t.Error("missing step output should be undefined")
	}
}

func TestContext_WithScope(t *testing.T) {
	ctx := NewContext(nil, nil)
	scoped := ctx.WithScope(map[string]any{"item": "a", "index": 0})

	if v, _ := scoped.Lookup("item"); v != "a" {
		t.Errorf("expected scoped item, got %v", v)
	}
	if _, ok := ctx.Lookup("item"); ok {
		t.Error("scope must not leak into parent")
	}

	// Результаты шагов общие.
	scoped.AddStepResult("inner", StepResult{Output: "x"})
	if !ctx.HasStep("inner") {
		t.Error("step added in scoped context should be visible in parent")
	}
}

func TestContext_ForkAndAdopt(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.AddStepResult("before", StepResult{Output: 1})

	a := ctx.Fork()
	b := ctx.Fork()
	a.AddStepResult("a", StepResult{Output: "A"})
	b.AddStepResult("b", StepResult{Output: "B"})

	if !a.HasStep("before") {
		t.Error("fork should see results made before it")
	}
	if a.HasStep("b") || ctx.HasStep("a") {
		t.Error("forks must be isolated until adopted")
	}

	ctx.Adopt(a)
	ctx.Adopt(b)

	ids := ctx.StepIDs()
	expected := []string{"before", "a", "b"}
	if len(ids) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, ids)
	}
	for i := range expected {
		if ids[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, ids)
		}
	}
}

func TestContext_ScopeShadowsSteps(t *testing.T) {
	ctx := NewContext(nil, nil)
	ctx.AddStepResult("x", StepResult{Output: "step"})

	scoped := ctx.WithScope(map[string]any{"x": "var"})
	if v, _ := scoped.Lookup("x"); v != "var" {
		t.Errorf("scope variable should shadow step, got %v", v)
	}
}

func TestContext_AdoptOverwrite(t *testing.T) {
	// Вторая итерация цикла перезаписывает результат ветки.
	ctx := NewContext(nil, nil)
	ctx.AddStepResult("branch", StepResult{Output: 1})

	fork := ctx.Fork()
	fork.AddStepResult("branch", StepResult{Output: 2})
	ctx.Adopt(fork)

	if ctx.StepOutput("branch") != 2 {
		t.Errorf("expected adopted output 2, got %v", ctx.StepOutput("branch"))
	}
	if len(ctx.StepIDs()) != 1 {
		t.Errorf("expected one step id, got %v", ctx.StepIDs())
	}
}
