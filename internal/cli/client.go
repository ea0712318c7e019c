package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 30 * time.Second

// --- Response types (дублируются из api/dto.go, клиент не импортирует internal/api) ---

// EnsembleSummary — ensemble в списке.
type EnsembleSummary struct {
	Name        string   `json:"name"`
	Version     int      `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Steps       int      `json:"steps"`
	Inputs      []string `json:"inputs,omitempty"`
}

// RunError — причина падения run.
type RunError struct {
	StepID  string `json:"step_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *RunError) String() string {
	if e == nil {
		return ""
	}
	if e.StepID == "" {
		return e.Kind + ": " + e.Message
	}
	return e.Kind + " at " + e.StepID + ": " + e.Message
}

// StepRecord — запись журнала шагов.
type StepRecord struct {
	Seq        int       `json:"seq"`
	StepID     string    `json:"step_id"`
	Path       string    `json:"path"`
	Type       string    `json:"type"`
	Agent      string    `json:"agent,omitempty"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
	Error      *RunError `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string         `json:"id"`
	Ensemble       string         `json:"ensemble"`
	Version        int            `json:"version,omitempty"`
	Status         string         `json:"status"`
	Input          map[string]any `json:"input,omitempty"`
	Output         any            `json:"output,omitempty"`
	Error          *RunError      `json:"error,omitempty"`
	Trigger        string         `json:"trigger,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
	Steps          []StepRecord   `json:"steps,omitempty"`
}

// ResultResponse — итог синхронного выполнения.
type ResultResponse struct {
	RunID      string       `json:"run_id"`
	Ensemble   string       `json:"ensemble"`
	Status     string       `json:"status"`
	Output     any          `json:"output,omitempty"`
	Error      *RunError    `json:"error,omitempty"`
	Steps      []StepRecord `json:"steps,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// TriggerEntry — зарегистрированный cron-триггер.
type TriggerEntry struct {
	Ensemble string `json:"ensemble"`
	Trigger  int    `json:"trigger"`
	Spec     string `json:"spec"`
	Next     string `json:"next"`
}

// --- Request types ---

// RunRequest — запуск ensemble.
type RunRequest struct {
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Async          bool           `json:"async,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Ensemble string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		StepID  string `json:"step_id,omitempty"`
	} `json:"error"`
}

// APIError — ответ сервера с ошибкой.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	StepID     string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Code, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Ensemble API.
type Client struct {
	http *resty.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// --- Ensembles ---

// ListEnsembles возвращает все ensemble.
func (c *Client) ListEnsembles(ctx context.Context) ([]EnsembleSummary, error) {
	var ensembles []EnsembleSummary
	err := c.get(ctx, "/api/v1/ensembles", nil, &ensembles)
	return ensembles, err
}

// GetEnsemble возвращает полное описание ensemble.
func (c *Client) GetEnsemble(ctx context.Context, name string) (map[string]any, error) {
	var ens map[string]any
	err := c.get(ctx, "/api/v1/ensembles/"+url.PathEscape(name), nil, &ens)
	return ens, err
}

// PushEnsemble сохраняет описание на сервере. contentType — application/json или application/yaml.
func (c *Client) PushEnsemble(ctx context.Context, spec []byte, contentType string) (*EnsembleSummary, error) {
	var saved EnsembleSummary
	err := c.post(ctx, "/api/v1/ensembles", contentType, spec, &saved)
	return &saved, err
}

// CheckEnsemble проверяет описание на сервере (с реестром агентов сервера).
func (c *Client) CheckEnsemble(ctx context.Context, spec []byte, contentType string) error {
	return c.post(ctx, "/api/v1/ensembles/validate", contentType, spec, nil)
}

// --- Runs ---

// RunEnsemble выполняет ensemble синхронно.
// Неуспешный run возвращается в ResultResponse вместе с *APIError.
func (c *Client) RunEnsemble(ctx context.Context, name string, req RunRequest) (*ResultResponse, error) {
	req.Async = false
	var res ResultResponse
	err := c.post(ctx, "/api/v1/ensembles/"+url.PathEscape(name)+"/runs", "application/json", req, &res)
	return &res, err
}

// StartRun ставит run в очередь.
func (c *Client) StartRun(ctx context.Context, name string, req RunRequest) (*RunResponse, error) {
	req.Async = true
	var run RunResponse
	err := c.post(ctx, "/api/v1/ensembles/"+url.PathEscape(name)+"/runs", "application/json", req, &run)
	return &run, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Ensemble != "" {
		params.Set("ensemble", opts.Ensemble)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.get(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &run)
	return &run, err
}

// CancelRun запрашивает отмену run.
func (c *Client) CancelRun(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", "", nil, nil)
}

// ListTriggers возвращает cron-триггеры сервера.
func (c *Client) ListTriggers(ctx context.Context) ([]TriggerEntry, error) {
	var entries []TriggerEntry
	err := c.get(ctx, "/api/v1/triggers", nil, &entries)
	return entries, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	r := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		r.SetQueryParamsFromValues(params)
	}
	resp, err := r.Get(path)
	return c.decode(resp, err, result)
}

func (c *Client) post(ctx context.Context, path, contentType string, body any, result any) error {
	r := c.http.R().SetContext(ctx)
	if body != nil {
		r.SetHeader("Content-Type", contentType).SetBody(body)
	}
	resp, err := r.Post(path)
	return c.decode(resp, err, result)
}

// decode разбирает конверт {"data": ...}. Для ответа с ошибкой data
// (если есть) всё равно заполняет result, а возвращается *APIError.
func (c *Client) decode(resp *resty.Response, err error, result any) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var dr dataResponse
	if jsonErr := json.Unmarshal(resp.Body(), &dr); jsonErr == nil && len(dr.Data) > 0 && result != nil {
		if err := json.Unmarshal(dr.Data, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var er errorResponse
	if json.Unmarshal(resp.Body(), &er) == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
		apiErr.StepID = er.Error.StepID
	}
	if apiErr.Code == "" && len(dr.Data) > 0 {
		apiErr.Code = "RUN_FAILED"
		apiErr.Message = resp.Status()
	}
	return apiErr
}
