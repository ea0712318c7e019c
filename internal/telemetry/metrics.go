package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus метрики исполнителя.
//
// Все методы безопасны для nil получателя: компоненты, созданные
// без метрик (например, в тестах), просто ничего не пишут.
type Metrics struct {
	runs         *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	attempts     *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_runs_total",
			Help: "Total number of finished ensemble runs.",
		}, []string{"ensemble", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_steps_total",
			Help: "Total number of finished steps.",
		}, []string{"type", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ensemble_step_duration_seconds",
			Help:    "Step execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_agent_attempts_total",
			Help: "Total number of agent invocations, including retries.",
		}, []string{"agent"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_cache_lookups_total",
			Help: "Step cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ensemble_http_requests_total",
			Help: "Total number of HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ensemble_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.runs, m.steps, m.stepDuration, m.attempts, m.cacheLookups, m.httpRequests, m.httpDuration)
	return m
}

// RunFinished учитывает завершённый run.
func (m *Metrics) RunFinished(ensemble, status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(ensemble, status).Inc()
}

// StepFinished учитывает завершённый шаг.
func (m *Metrics) StepFinished(stepType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(stepType, status).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// AgentAttempt учитывает один вызов агента.
func (m *Metrics) AgentAttempt(agent string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(agent).Inc()
}

// CacheLookup учитывает обращение к кэшу: "hit", "miss" или "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// HTTPRequest учитывает обработанный HTTP запрос.
// route — шаблон маршрута (например, "/api/v1/runs/{id}"), а не фактический путь.
func (m *Metrics) HTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
