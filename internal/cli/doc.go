// Package cli реализует инструмент командной строки ensemble.
//
// # Обзор
//
// Команды делятся на две группы:
//   - локальные (exec, validate, agents) выполняют и проверяют файлы
//     описаний прямо в процессе CLI, без сервера;
//   - удалённые (ensemble, run, triggers) работают с ensemble-server
//     через HTTP API.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API на resty. Разбирает конверты ответов
// (DataResponse, ListResponse, ErrorResponse); ответ с ошибкой
// возвращается как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	res, err := client.RunEnsemble(ctx, "calc", cli.RunRequest{Input: input})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: ensemble run list --json | jq .
//
// ## Commands
//
// Каждая группа создаётся фабричной функцией (NewRunCmd, NewExecCmd и т.д.),
// принимающей замыкания для ленивого создания Client, LocalEnv и Output
// после парсинга PersistentFlags.
package cli
