// Package agents содержит интерфейс агента, реестр и встроенные агенты.
//
// # Обзор
//
// Агент — единица работы, которую исполнитель вызывает для шага типа agent.
// Исполнитель знает об агенте только его id и один метод:
//
//	type Agent interface {
//	    Execute(ctx context.Context, req *Request) (any, error)
//	}
//
// Request содержит:
//   - RunID, StepID, AgentID — идентификаторы
//   - Input — вход, уже разрешённый через engine.Chain
//   - Context — контекст выполнения (для агентов, которым нужны outputs других шагов)
//   - Attempt — номер попытки
//
// Возвращённое значение становится output шага: {{ stepID.output }}.
//
// # Registry
//
// Registry — явная карта id → Agent. Глобального реестра нет:
// реестр строится при старте процесса и передаётся исполнителю.
//
//	registry := agents.DefaultRegistry()
//	registry.Register("double", agents.NewCalculator())
//	registry.Register("notify", agents.Func(func(ctx context.Context, req *agents.Request) (any, error) {
//	    return nil, nil
//	}))
//
// # Встроенные агенты
//
//   - calculator (calculator.go) — {a, op, b}, op: add/subtract/multiply/divide/modulo/power
//   - transform (transform.go) — value, весь вход или mappings против контекста
//   - delay (delay.go) — duration_sec / duration_ms
//   - http (http.go) — HTTP запрос через resty
//   - expr (expr.go) — программа expr-lang
//   - publish (publish.go) — событие в RabbitMQ
//
// # Вход
//
// Decode раскладывает map входа в структуру: creasty/defaults,
// затем mapstructure по json тегам, затем validator.
package agents
