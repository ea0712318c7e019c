// Package engine содержит язык выражений и статический анализ ensemble.
//
// Включает:
//   - lexer.go, expression.go — разбор и вычисление выражений {{ a.b ?? "x" }}
//   - template.go   — плейсхолдеры {{expr}} и ${expr} внутри строк
//   - value.go      — Undefined, правила истинности, приведение к строке
//   - context.go    — контекст выполнения (input, env, output, steps, scope)
//   - resolver.go   — цепочка резолверов для вложенных значений конфигурации
//   - validate.go   — валидация описания до выполнения
//   - references.go — дерево шагов и проверка ссылок на незавершённые шаги
//
// Engine ничего не выполняет: агенты вызывает worker, порядок шагов
// определяет orchestrator.
package engine
