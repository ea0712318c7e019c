package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticCatalog []*domain.Ensemble

func (c staticCatalog) List(context.Context) ([]*domain.Ensemble, error) {
	return c, nil
}

// memoryRuns — RunStore с уникальностью ключа идемпотентности.
type memoryRuns struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryRuns) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[run.IdempotencyKey] {
		return domain.ErrAlreadyExists
	}
	m.keys[run.IdempotencyKey] = true
	return nil
}

type recordingPublisher struct {
	payloads []mq.RunPendingPayload
	err      error
}

func (p *recordingPublisher) PublishRunPending(_ context.Context, payload mq.RunPendingPayload) error {
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

type recordingRunner struct {
	runs []*domain.Run
}

func (r *recordingRunner) Execute(_ context.Context, run *domain.Run, ens *domain.Ensemble) *orchestrator.Result {
	r.runs = append(r.runs, run)
	return &orchestrator.Result{RunID: run.ID, Ensemble: ens.Name, Status: domain.RunStatusSucceeded}
}

func nightly() *domain.Ensemble {
	return &domain.Ensemble{
		Name: "nightly",
		Triggers: []domain.Trigger{
			{Type: domain.TriggerHTTP},
			{Type: domain.TriggerCron, Cron: "0 3 * * *", Timezone: "Europe/Moscow", Input: map[string]any{"mode": "full"}},
			{Type: domain.TriggerCron, Cron: "*/5 * * * *", Disabled: true},
		},
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 9 * * 1-5", false},
		{"@hourly", false},
		{"@every 10m", false},
		{"* * *", true},
		{"61 * * * *", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNextFire(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		trig domain.Trigger
		want time.Time
	}{
		{
			name: "utc by default",
			trig: domain.Trigger{Type: domain.TriggerCron, Cron: "30 12 * * *"},
			want: time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		},
		{
			// 09:00 по Москве = 06:00 UTC, уже прошло — следующий день
			name: "timezone",
			trig: domain.Trigger{Type: domain.TriggerCron, Cron: "0 9 * * *", Timezone: "Europe/Moscow"},
			want: time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextFire(&tt.trig, from)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	_, err := NextFire(&domain.Trigger{Cron: "0 9 * * *", Timezone: "Mars/Olympus"}, from)
	if err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestValidateTriggers(t *testing.T) {
	if err := ValidateTriggers(nightly()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := &domain.Ensemble{Name: "bad", Triggers: []domain.Trigger{{Type: domain.TriggerCron}}}
	if err := ValidateTriggers(bad); err == nil {
		t.Error("expected error for empty cron")
	}
}

func TestScheduler_Reload(t *testing.T) {
	broken := &domain.Ensemble{
		Name:     "broken",
		Triggers: []domain.Trigger{{Type: domain.TriggerCron, Cron: "not a cron"}},
	}
	s := New(Config{Catalog: staticCatalog{nightly(), broken}, Logger: discardLogger})

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 active cron trigger, got %+v", entries)
	}
	if entries[0].Ensemble != "nightly" || entries[0].Trigger != 1 || entries[0].Spec != "0 3 * * *" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if !entries[0].Next.After(time.Now()) {
		t.Errorf("next fire time should be in the future before Start, got %v", entries[0].Next)
	}

	// Повторная загрузка не дублирует записи
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(s.Entries()) != 1 {
		t.Errorf("expected entries to be replaced, got %d", len(s.Entries()))
	}
}

func TestScheduler_FireIdempotent(t *testing.T) {
	runs := &memoryRuns{}
	pub := &recordingPublisher{}
	s := New(Config{Runs: runs, Publisher: pub, Logger: discardLogger})

	ens := nightly()
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	created, err := s.Fire(context.Background(), ens, 1, at)
	if err != nil || !created {
		t.Fatalf("first fire: created=%v err=%v", created, err)
	}
	created, err = s.Fire(context.Background(), ens, 1, at.Add(10*time.Second))
	if err != nil || created {
		t.Fatalf("duplicate fire within the same minute: created=%v err=%v", created, err)
	}

	if len(pub.payloads) != 1 {
		t.Fatalf("expected 1 published request, got %d", len(pub.payloads))
	}
	p := pub.payloads[0]
	if p.Ensemble != "nightly" || p.Trigger != "cron" || p.Input["mode"] != "full" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestScheduler_FirePublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}

	// Без хранилища запрос теряется — это ошибка
	s := New(Config{Publisher: pub, Logger: discardLogger})
	if _, err := s.Fire(context.Background(), nightly(), 1, time.Now()); err == nil {
		t.Error("expected error without run store")
	}

	// С хранилищем run подхватит polling
	s = New(Config{Runs: &memoryRuns{}, Publisher: pub, Logger: discardLogger})
	created, err := s.Fire(context.Background(), nightly(), 1, time.Now())
	if err != nil || !created {
		t.Errorf("expected run to be created, got created=%v err=%v", created, err)
	}
}

func TestScheduler_FireLocal(t *testing.T) {
	runner := &recordingRunner{}
	s := New(Config{Local: runner, Logger: discardLogger})

	if _, err := s.Fire(context.Background(), nightly(), 1, time.Now()); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(runner.runs) != 1 {
		t.Fatalf("expected local execution, got %d", len(runner.runs))
	}
	run := runner.runs[0]
	if run.Trigger != "cron" || run.IdempotencyKey == "" || run.Input["mode"] != "full" {
		t.Errorf("unexpected run: %+v", run)
	}
}
