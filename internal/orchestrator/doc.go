// Package orchestrator управляет выполнением runs.
//
// Orchestrator отвечает за:
//   - Валидацию ensemble и входных данных перед стартом
//   - Обход дерева шагов: agent-шаги уходят в worker.Dispatcher,
//     контейнеры выполняются здесь
//   - Журнал шагов (StepRecord) и запись результатов в контекст
//   - Маппинг output и финализацию run (SUCCEEDED/FAILED/CANCELLED)
//   - Отмену активных runs
//
// Service получает запросы runs.pending из RabbitMQ (и polling из БД),
// выполняет их через Orchestrator и публикует runs.completed.
package orchestrator
