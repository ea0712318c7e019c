package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shaiso/Ensemble/internal/engine"
)

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	// Пустой реестр
	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	// Регистрация
	r.Register("double", NewCalculator())
	if r.Count() != 1 {
		t.Errorf("expected 1 agent, got %d", r.Count())
	}

	// Получение
	if _, err := r.Get("double"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// Несуществующий агент
	_, err := r.Get("unknown")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}

	// Alias
	if err := r.Alias("add22", "double"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Alias("x", "missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "add22" || ids[1] != "double" {
		t.Errorf("unexpected ids: %v", ids)
	}

	// Unregister
	r.Unregister("double")
	if r.Has("double") {
		t.Error("should not have double after unregister")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	expected := []string{"calculator", "delay", "expr", "http", "transform"}
	ids := r.IDs()
	if len(ids) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, ids)
	}
	for i, id := range expected {
		if ids[i] != id {
			t.Errorf("expected %s at %d, got %s", id, i, ids[i])
		}
	}
	if r.Has(AgentPublish) {
		t.Error("publish requires a broker and is not registered by default")
	}
}

func TestFunc(t *testing.T) {
	var agent Agent = Func(func(_ context.Context, req *Request) (any, error) {
		return req.StepID, nil
	})

	out, err := agent.Execute(context.Background(), &Request{StepID: "s"})
	if err != nil || out != "s" {
		t.Errorf("unexpected result: %v, %v", out, err)
	}
}

func TestRequest_InputMap(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int
	}{
		{name: "nil", input: nil, want: 0},
		{name: "map", input: map[string]any{"a": 1, "b": engine.Undefined}, want: 1},
		{name: "scalar", input: 5, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := (&Request{Input: tt.input}).InputMap()
			if len(m) != tt.want {
				t.Errorf("expected %d keys, got %v", tt.want, m)
			}
		})
	}
}

// Calculator Tests

func TestCalculator_Execute(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  float64
	}{
		{name: "multiply", input: map[string]any{"a": 10, "op": "multiply", "b": 2}, want: 20},
		{name: "add", input: map[string]any{"a": 20.0, "op": "add", "b": 22}, want: 42},
		{name: "default op", input: map[string]any{"a": 1, "b": 2}, want: 3},
		{name: "string numbers", input: map[string]any{"a": "7", "op": "subtract", "b": "2"}, want: 5},
		{name: "divide", input: map[string]any{"a": 9, "op": "divide", "b": 3}, want: 3},
		{name: "modulo", input: map[string]any{"a": 9, "op": "modulo", "b": 4}, want: 1},
		{name: "power", input: map[string]any{"a": 2, "op": "power", "b": 10}, want: 1024},
	}

	calc := NewCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := calc.Execute(context.Background(), &Request{Input: tt.input})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != tt.want {
				t.Errorf("expected %v, got %v", tt.want, out)
			}
		})
	}
}

func TestCalculator_Errors(t *testing.T) {
	calc := NewCalculator()

	_, err := calc.Execute(context.Background(), &Request{Input: map[string]any{"a": 1, "op": "sqrt", "b": 2}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	_, err = calc.Execute(context.Background(), &Request{Input: map[string]any{"a": 1, "op": "divide", "b": 0}})
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

// Transform Tests

func TestTransform_Execute(t *testing.T) {
	tctx := engine.NewContext(map[string]any{"name": "ensemble"}, nil)
	tctx.AddStepResult("fetch", engine.StepResult{Output: map[string]any{"items": []any{"a", "b"}}})

	tests := []struct {
		name  string
		input any
		check func(t *testing.T, out any)
	}{
		{
			name:  "value",
			input: map[string]any{"value": []any{1, 2}},
			check: func(t *testing.T, out any) {
				if list, ok := out.([]any); !ok || len(list) != 2 {
					t.Errorf("expected list, got %v", out)
				}
			},
		},
		{
			name:  "whole input",
			input: map[string]any{"x": 1},
			check: func(t *testing.T, out any) {
				if m, ok := out.(map[string]any); !ok || m["x"] != 1 {
					t.Errorf("expected input back, got %v", out)
				}
			},
		},
		{
			name: "mappings",
			input: map[string]any{"mappings": map[string]any{
				"total": "fetch.output.items.length",
				"first": "fetch.output.items[0]",
				"none":  "fetch.output.items[5] ?? 'none'",
				"name":  "Hello, ${input.name}",
				"fixed": 3,
			}},
			check: func(t *testing.T, out any) {
				m := out.(map[string]any)
				if m["total"] != float64(2) {
					t.Errorf("expected total 2, got %v", m["total"])
				}
				if m["first"] != "a" || m["none"] != "none" || m["fixed"] != 3 {
					t.Errorf("unexpected outputs: %v", m)
				}
				if m["name"] != "Hello, ensemble" {
					t.Errorf("expected rendered name, got %v", m["name"])
				}
			},
		},
	}

	tr := NewTransform()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tr.Execute(context.Background(), &Request{Input: tt.input, Context: tctx})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, out)
		})
	}
}

func TestTransform_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTransform().Execute(ctx, &Request{Input: map[string]any{"value": 1}})
	if !errors.Is(err, ErrAgentCancelled) {
		t.Errorf("expected ErrAgentCancelled, got %v", err)
	}
}

// Delay Tests

func TestDelay_Execute(t *testing.T) {
	start := time.Now()
	out, err := NewDelay().Execute(context.Background(), &Request{Input: map[string]any{"duration_ms": 20}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("delay returned too early")
	}
	if out.(map[string]any)["duration_ms"] != int64(20) {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestDelay_Cancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDelay().Execute(ctx, &Request{Input: map[string]any{"duration_sec": 5}})
	if !errors.Is(err, ErrAgentCancelled) {
		t.Errorf("expected ErrAgentCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain, got %v", err)
	}
}

func TestDelay_InvalidInput(t *testing.T) {
	_, err := NewDelay().Execute(context.Background(), &Request{Input: map[string]any{}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// HTTP Tests

func TestHTTP_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("expected page=2, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	out, err := NewHTTP().Execute(context.Background(), &Request{Input: map[string]any{
		"url":   server.URL,
		"query": map[string]any{"page": 2},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := out.(map[string]any)
	if res["status_code"] != 200 {
		t.Errorf("expected status_code 200, got %v", res["status_code"])
	}
	body, ok := res["body"].(map[string]any)
	if !ok || body["status"] != "ok" {
		t.Errorf("unexpected body: %v", res["body"])
	}
}

func TestHTTP_POST_JSON(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("expected header, got %q", r.Header.Get("X-Token"))
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer server.Close()

	out, err := NewHTTP().Execute(context.Background(), &Request{Input: map[string]any{
		"method":  "post",
		"url":     server.URL,
		"headers": map[string]any{"X-Token": "secret"},
		"body":    map[string]any{"name": "test"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := out.(map[string]any)
	if res["status_code"] != 201 || res["body"] != "created" {
		t.Errorf("unexpected response: %v", res)
	}
	if received["name"] != "test" {
		t.Errorf("expected body name=test, got %v", received)
	}
}

func TestHTTP_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewHTTP().Execute(context.Background(), &Request{Input: map[string]any{"url": server.URL}})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 500 {
		t.Errorf("expected 500, got %d", httpErr.StatusCode)
	}
	if !IsHTTPError(err) {
		t.Error("IsHTTPError should be true")
	}
}

func TestHTTP_InvalidInput(t *testing.T) {
	tests := []map[string]any{
		{},
		{"url": "not a url"},
		{"url": "http://example.com", "method": "FETCH"},
	}

	for _, input := range tests {
		_, err := NewHTTP().Execute(context.Background(), &Request{Input: input})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%v: expected ErrInvalidInput, got %v", input, err)
		}
	}
}

func TestHTTP_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTP().Execute(ctx, &Request{Input: map[string]any{"url": server.URL}})
	if !errors.Is(err, ErrAgentCancelled) {
		t.Errorf("expected ErrAgentCancelled, got %v", err)
	}
}

// Expr Tests

func TestExpr_Execute(t *testing.T) {
	tctx := engine.NewContext(map[string]any{"rate": 2}, nil)
	tctx.AddStepResult("fetch", engine.StepResult{Output: []any{1, 2, 3}})

	tests := []struct {
		name string
		expr string
		vars map[string]any
		want any
	}{
		{name: "vars", expr: "a + b", vars: map[string]any{"a": 1, "b": 2}, want: 3},
		{name: "step output", expr: "len(fetch.output)", want: 3},
		{name: "input", expr: "input.rate * 10", want: 20},
		{name: "undefined variable", expr: "missing == nil", want: true},
	}

	e := NewExpr()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Execute(context.Background(), &Request{
				Input:   map[string]any{"expression": tt.expr, "vars": tt.vars},
				Context: tctx,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out != tt.want {
				t.Errorf("expected %v (%T), got %v (%T)", tt.want, tt.want, out, out)
			}
		})
	}
}

func TestExpr_Errors(t *testing.T) {
	e := NewExpr()

	_, err := e.Execute(context.Background(), &Request{Input: map[string]any{}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	_, err = e.Execute(context.Background(), &Request{Input: map[string]any{"expression": "1 +"}})
	if err == nil {
		t.Error("expected compile error")
	}
}

// Publish Tests

type recordingPublisher struct {
	keys     []string
	payloads []any
	err      error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestPublish_Execute(t *testing.T) {
	pub := &recordingPublisher{}
	out, err := NewPublish(pub).Execute(context.Background(), &Request{Input: map[string]any{
		"routing_key": "orders.created",
		"payload":     map[string]any{"id": 1},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.keys) != 1 || pub.keys[0] != "orders.created" {
		t.Errorf("unexpected published keys: %v", pub.keys)
	}
	if out.(map[string]any)["published"] != true {
		t.Errorf("unexpected output: %v", out)
	}

	pub.err = errors.New("broker down")
	if _, err := NewPublish(pub).Execute(context.Background(), &Request{Input: map[string]any{"routing_key": "x"}}); err == nil {
		t.Error("expected publisher error")
	}

	if _, err := NewPublish(pub).Execute(context.Background(), &Request{Input: map[string]any{}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
