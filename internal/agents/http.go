package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP — агент HTTP запроса.
//
// Выполняет HTTP запрос к внешнему API и возвращает результат.
//
// Вход:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {"Authorization": "Bearer {{ env.API_TOKEN }}"},
//	    "query": {"page": "1"},
//	    "body": {"data": "{{ fetch.output.items }}"},
//	    "timeout_sec": 30
//	}
//
// Output:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json", ...},
//	    "body": {...}  // JSON или строка
//	}
//
// Ответ со статусом >= 400 возвращается как *HTTPError.
type HTTP struct {
	client *resty.Client
}

type httpInput struct {
	Method     string            `json:"method" default:"GET" validate:"oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URL        string            `json:"url" validate:"required,url"`
	Headers    map[string]string `json:"headers"`
	Query      map[string]string `json:"query"`
	Body       any               `json:"body"`
	TimeoutSec int               `json:"timeout_sec" validate:"gte=0"`
}

// NewHTTP создаёт новый HTTP агент.
func NewHTTP() *HTTP {
	return &HTTP{
		client: resty.New().SetTimeout(defaultHTTPTimeout),
	}
}

// Execute выполняет HTTP запрос.
func (h *HTTP) Execute(ctx context.Context, req *Request) (any, error) {
	var in httpInput
	if err := Decode(req.InputMap(), &in); err != nil {
		return nil, fmt.Errorf("%s: %w", AgentHTTP, err)
	}
	in.Method = strings.ToUpper(in.Method)

	if in.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSec)*time.Second)
		defer cancel()
	}

	r := h.client.R().
		SetContext(ctx).
		SetHeaders(in.Headers).
		SetQueryParams(in.Query)
	if in.Body != nil {
		r.SetBody(in.Body)
	}

	resp, err := r.Execute(in.Method, in.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	body := parseBody(resp.Header(), resp.Body())
	if resp.StatusCode() >= http.StatusBadRequest {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       string(resp.Body()),
		}
	}

	headers := make(map[string]any, len(resp.Header()))
	for key := range resp.Header() {
		headers[key] = resp.Header().Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode(),
		"headers":     headers,
		"body":        body,
	}, nil
}

// parseBody разбирает JSON ответ, остальное возвращает строкой.
func parseBody(header http.Header, raw []byte) any {
	if strings.Contains(header.Get("Content-Type"), "application/json") {
		var body any
		if err := json.Unmarshal(raw, &body); err == nil {
			return body
		}
	}
	return string(raw)
}

// HTTPError — ответ со статусом ошибки.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	_, ok := err.(*HTTPError)
	return ok
}
