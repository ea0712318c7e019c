// Package mq связывает Ensemble с RabbitMQ.
//
// API и планировщик ставят runs в очередь runs.pending, orchestrator.Service
// выполняет их и публикует итоги в runs.completed. Агент publish пишет
// произвольные события в topic-обменник ensemble.events.
//
// Все сообщения передаются в JSON-конверте Message. Соединение
// переподключается само; Consumer после этого подписывается заново.
package mq
