package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/shaiso/Ensemble/internal/config"
)

func TestParseInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.yaml")
	if err := os.WriteFile(file, []byte("n: 5\nname: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		pairs   []string
		file    string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "json values",
			pairs: []string{"n=10", "flag=true", "list=[1,2]", "text=hello"},
			want:  map[string]any{"n": float64(10), "flag": true, "list": []any{float64(1), float64(2)}, "text": "hello"},
		},
		{
			name:  "value with equals sign",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{
			name:  "pairs override file",
			pairs: []string{"name=cli"},
			file:  file,
			want:  map[string]any{"n": 5, "name": "cli"},
		},
		{
			name:    "missing equals",
			pairs:   []string{"oops"},
			wantErr: true,
		},
		{
			name:    "missing file",
			file:    filepath.Join(dir, "nope.yaml"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInputs(tt.pairs, tt.file)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("expected %s, got %s", wantJSON, gotJSON)
			}
		})
	}
}

// fakeAPI отвечает как ensemble-server на несколько маршрутов.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ensemble") != "calc" || r.URL.Query().Get("limit") != "5" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "BAD_REQUEST", "message": r.URL.RawQuery}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []map[string]any{{"id": "r1", "ensemble": "calc", "status": "SUCCEEDED"}},
			"total": 1,
		})
	})
	mux.HandleFunc("POST /api/v1/ensembles/{name}/runs", func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Async {
			writeJSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"id": "r2", "ensemble": r.PathValue("name"), "status": "PENDING"}})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"data": map[string]any{
			"run_id":   "r3",
			"ensemble": r.PathValue("name"),
			"status":   "FAILED",
			"error":    map[string]any{"step_id": "div", "kind": "AgentExecutionError", "message": "division by zero"},
		}})
	})
	mux.HandleFunc("POST /api/v1/ensembles/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/yaml" {
			writeJSON(w, http.StatusUnsupportedMediaType, nil)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{
			"code": "VALIDATION_ERROR", "message": "unknown agent: nope", "step_id": "a",
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := fakeAPI(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	t.Run("list runs with filter", func(t *testing.T) {
		runs, err := client.ListRuns(ctx, ListRunsOpts{Ensemble: "calc", Limit: 5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(runs) != 1 || runs[0].ID != "r1" {
			t.Errorf("unexpected runs: %+v", runs)
		}
	})

	t.Run("async run", func(t *testing.T) {
		run, err := client.StartRun(ctx, "calc", RunRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if run.ID != "r2" || run.Status != "PENDING" {
			t.Errorf("unexpected run: %+v", run)
		}
	})

	t.Run("failed sync run keeps result", func(t *testing.T) {
		res, err := client.RunEnsemble(ctx, "calc", RunRequest{})
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("expected APIError 422, got %v", err)
		}
		if res.RunID != "r3" || res.Error == nil || res.Error.StepID != "div" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("validation error", func(t *testing.T) {
		err := client.CheckEnsemble(ctx, []byte("name: x"), "application/yaml")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Code != "VALIDATION_ERROR" || apiErr.StepID != "a" {
			t.Errorf("unexpected error: %+v", apiErr)
		}
	})
}

const calcFile = `
name: calc
inputs:
  n:
    type: number
    required: true
flow:
  - agent: calculator
    id: double
    input:
      a: "{{ input.n }}"
      op: multiply
      b: 2
  - agent: calculator
    id: add22
    input:
      a: "{{ double.output }}"
      op: add
      b: 22
output:
  result: "{{ add22.output }}"
`

func localEnv() (*LocalEnv, error) {
	return &LocalEnv{
		Config: &config.Config{CacheSize: 16},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestExecCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calc.yaml")
	if err := os.WriteFile(path, []byte(calcFile), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("success", func(t *testing.T) {
		var out bytes.Buffer
		cmd := NewExecCmd(localEnv, func() *Output { return NewOutputTo(&out, io.Discard, true) })
		if err := execute(t, cmd, path, "--input", "n=10"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var res ResultResponse
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("decode output %q: %v", out.String(), err)
		}
		if res.Status != "SUCCEEDED" || len(res.Steps) != 2 {
			t.Errorf("unexpected result: %+v", res)
		}
		if m, _ := res.Output.(map[string]any); m["result"] != float64(42) {
			t.Errorf("expected result 42, got %v", res.Output)
		}
	})

	t.Run("missing input", func(t *testing.T) {
		var out bytes.Buffer
		cmd := NewExecCmd(localEnv, func() *Output { return NewOutputTo(&out, io.Discard, false) })
		err := execute(t, cmd, path)
		if !errors.Is(err, ErrRunFailed) {
			t.Fatalf("expected ErrRunFailed, got %v", err)
		}
		if !strings.Contains(out.String(), "ValidationError") {
			t.Errorf("expected validation error in output, got %q", out.String())
		}
	})
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "calc.yaml")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(good, []byte(calcFile), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte(`{"name":"bad","flow":[{"agent":"nope","id":"a"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(&out, io.Discard, false) }

	if err := execute(t, NewValidateCmd(localEnv, outputFn), good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out.Reset()
	err := execute(t, NewValidateCmd(localEnv, outputFn), good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected 1 of 2 invalid, got %v", err)
	}
	if !strings.Contains(out.String(), "unknown agent: nope") {
		t.Errorf("expected unknown agent in output, got %q", out.String())
	}
}
