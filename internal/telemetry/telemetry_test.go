package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" info ", slog.LevelInfo},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := ForRun(NewLogger(&buf, "INFO", "json"), "r1", "calc")

	logger.Debug("hidden")
	logger.Info("visible")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["run_id"] != "r1" || entry["ensemble"] != "calc" || entry["msg"] != "visible" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLoggerContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunFinished("calc", "SUCCEEDED")
	m.StepFinished("agent", "SUCCEEDED", 10*time.Millisecond)
	m.StepFinished("agent", "FAILED", time.Millisecond)
	m.AgentAttempt("double")
	m.AgentAttempt("double")
	m.CacheLookup("hit")

	if got := testutil.ToFloat64(m.runs.WithLabelValues("calc", "SUCCEEDED")); got != 1 {
		t.Errorf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("double")); got != 2 {
		t.Errorf("expected 2 attempts, got %v", got)
	}
	if got := testutil.CollectAndCount(m.steps); got != 2 {
		t.Errorf("expected 2 step series, got %d", got)
	}

	m.HTTPRequest("GET", "/api/v1/runs/{id}", 200, time.Millisecond)
	m.HTTPRequest("GET", "/api/v1/runs/{id}", 200, time.Millisecond)
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/runs/{id}", "200")); got != 2 {
		t.Errorf("expected 2 http requests, got %v", got)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics

	// Не должно паниковать
	m.RunFinished("x", "FAILED")
	m.StepFinished("agent", "FAILED", 0)
	m.AgentAttempt("x")
	m.CacheLookup("miss")
	m.HTTPRequest("GET", "/", 200, 0)
}
