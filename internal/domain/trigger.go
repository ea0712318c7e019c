package domain

// TriggerType — источник запуска ensemble.
type TriggerType string

const (
	TriggerHTTP  TriggerType = "http"
	TriggerCron  TriggerType = "cron"
	TriggerQueue TriggerType = "queue"
)

// Trigger — описание способа запуска ensemble.
//
// Для cron-триггера:
//
//	"0 9 * * *"     — каждый день в 9:00
//	"*/5 * * * *"   — каждые 5 минут
//	"0 0 * * 0"     — каждое воскресенье в полночь
type Trigger struct {
	// Type — http, cron или queue.
	Type TriggerType `json:"type" yaml:"type"`

	// Cron — cron-выражение (только для cron).
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Timezone — часовой пояс для вычисления времени. По умолчанию "UTC".
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Input — входные данные, передаваемые в каждый запуск.
	Input map[string]any `json:"input,omitempty" yaml:"input,omitempty"`

	// Disabled — триггер выключен.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// IsCron возвращает true для активного cron-триггера.
func (t *Trigger) IsCron() bool {
	return t.Type == TriggerCron && t.Cron != "" && !t.Disabled
}

// Location возвращает часовой пояс триггера.
func (t *Trigger) Location() string {
	if t.Timezone == "" {
		return "UTC"
	}
	return t.Timezone
}
