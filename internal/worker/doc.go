// Package worker выполняет отдельные agent-шаги.
//
// # Обзор
//
// Dispatcher получает один agent-шаг и текущий контекст выполнения и:
//
//   - Разрешает вход шага через engine.Chain (ошибка — ExpressionError)
//   - Находит агента в agents.Registry (нет агента — AgentExecutionError)
//   - Читает кэш по отпечатку входа, если у шага включён cache
//   - Вызывает агента с retry и backoff
//   - Ограничивает весь вызов дедлайном timeout
//   - Нормализует результат в domain.Outcome
//
// Управление порядком шагов (sequence, parallel, циклы) — в orchestrator;
// worker про вложенные шаги ничего не знает.
//
//	d := worker.New(worker.Config{
//	    Agents:  registry,
//	    Cache:   cache.NewMemory(1024, 10*time.Minute),
//	    Metrics: metrics,
//	    Logger:  logger,
//	})
//
//	out := d.Dispatch(ctx, worker.Call{RunID: runID, Step: step, Context: execCtx})
//
// # Retry
//
// retry.attempts — число повторов после первой попытки. Задержка перед
// повтором после попытки n:
//
//	exponential (по умолчанию): min(initial * 2^(n-1), max)
//	linear:                      min(initial * n, max)
//	fixed:                       initial
//
// По умолчанию initial = 1s, max = 30s. Когда повторы исчерпаны,
// возвращается RetryExhaustedError, оборачивающая последнюю ошибку агента.
//
// # Timeout
//
// Дедлайн покрывает весь вызов вместе с повторами. По истечении вызов
// бросается, отмена передаётся агенту через context:
//
//   - fallback задан — TIMED_OUT, fallback становится output
//   - error: false — TIMED_OUT, output undefined
//   - иначе — TimeoutError
//
// # Кэш
//
// Отпечаток: "<agent>:" + первые 16 hex символов sha256 от JSON входа
// с отсортированными ключами. Ошибка кэша не прерывает шаг и считается промахом.
package worker
