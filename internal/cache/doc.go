// Package cache содержит реализации кэша результатов agent-шагов.
//
// Кэш read-through: диспетчер вычисляет отпечаток разрешённого входа,
// и при попадании пропускает вызов агента. Ошибки кэша не прерывают
// run, а считаются промахом.
//
// Реализации:
//   - Memory — LRU в памяти процесса с TTL (hashicorp/golang-lru)
//   - Redis — общий кэш для нескольких процессов (go-redis), значения в JSON
package cache
