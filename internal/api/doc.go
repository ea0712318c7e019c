// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (каталог, хранилище, publisher, scheduler)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (request id, logging, metrics, recovery)
//   - response.go         — унифицированные JSON-ответы и коды статусов
//   - dto.go              — Data Transfer Objects (request/response)
//   - ensemble_handler.go — обработчики для /ensembles
//   - run_handler.go      — запуск, просмотр и отмена runs
//
// Синхронный запуск отвечает итогом run: 200 при успехе, 400 для
// ошибок валидации, 504 при истечении таймаута run, 422 для прочих.
package api
