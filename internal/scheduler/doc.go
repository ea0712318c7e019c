// Package scheduler запускает ensemble по cron-триггерам.
//
// Триггеры берутся из описаний ensemble (triggers с type: cron) и
// регистрируются в robfig/cron. Часовой пояс задаётся полем timezone
// триггера.
//
// Структура:
//   - scheduler.go — Scheduler (Reload, Start, Stop, Fire)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Catalog:   catalog,
//	    Runs:      runRepo,   // опционально
//	    Publisher: publisher, // опционально
//	    Local:     orch,      // если брокера нет
//	    Logger:    logger,
//	})
//	if err := sched.Reload(ctx); err != nil { ... }
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Дубликаты при нескольких экземплярах отсекаются ключом идемпотентности
// run в БД.
package scheduler
