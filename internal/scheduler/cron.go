package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Ensemble/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей и дескрипторы @hourly, @every 5m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSpec возвращает выражение с часовым поясом триггера (префикс CRON_TZ).
func CronSpec(trig *domain.Trigger) string {
	return "CRON_TZ=" + trig.Location() + " " + trig.Cron
}

// ParseTrigger разбирает cron-выражение триггера с учётом timezone.
func ParseTrigger(trig *domain.Trigger) (cron.Schedule, error) {
	if _, err := time.LoadLocation(trig.Location()); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", trig.Timezone, err)
	}
	schedule, err := cronParser.Parse(CronSpec(trig))
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", trig.Cron, err)
	}
	return schedule, nil
}

// NextFire вычисляет следующее время срабатывания триггера после from (в UTC).
func NextFire(trig *domain.Trigger, from time.Time) (time.Time, error) {
	schedule, err := ParseTrigger(trig)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from).UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// ValidateTriggers проверяет все cron-триггеры ensemble.
func ValidateTriggers(ens *domain.Ensemble) error {
	for i := range ens.Triggers {
		trig := &ens.Triggers[i]
		if trig.Type != domain.TriggerCron {
			continue
		}
		if trig.Cron == "" {
			return fmt.Errorf("trigger %d: cron expression is required", i)
		}
		if err := ValidateCronExpr(trig.Cron); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
		if _, err := ParseTrigger(trig); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}
	return nil
}
