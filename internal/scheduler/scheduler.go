package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
)

// EnsembleLister возвращает все известные ensemble.
// Реализации: catalog.Catalog, repo.EnsembleRepo.
type EnsembleLister interface {
	List(ctx context.Context) ([]*domain.Ensemble, error)
}

// RunStore создаёт runs. Повтор ключа идемпотентности — domain.ErrAlreadyExists.
// Реализация: repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
}

// RunRequester публикует запросы на выполнение.
// Реализация: mq.Publisher.
type RunRequester interface {
	PublishRunPending(ctx context.Context, payload mq.RunPendingPayload) error
}

// LocalRunner выполняет run в этом процессе (без брокера).
// Реализация: orchestrator.Orchestrator.
type LocalRunner interface {
	Execute(ctx context.Context, run *domain.Run, ens *domain.Ensemble) *orchestrator.Result
}

// Entry — зарегистрированный cron-триггер.
type Entry struct {
	Ensemble string    `json:"ensemble"`
	Trigger  int       `json:"trigger"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next"`

	id   cron.EntryID
	trig domain.Trigger
}

// Scheduler запускает ensemble по cron-триггерам.
//
// Срабатывание триггера:
//  1. Создаёт run с ключом идемпотентности "{ensemble}_{trigger}_{unix}"
//  2. Сохраняет его (если задан Runs); дубликат пропускается
//  3. Публикует run.pending (если задан Publisher) или выполняет локально
type Scheduler struct {
	cron      *cron.Cron
	catalog   EnsembleLister
	runs      RunStore
	publisher RunRequester
	local     LocalRunner
	logger    *slog.Logger

	mu      sync.Mutex
	entries []Entry
	baseCtx context.Context
}

// Config — конфигурация Scheduler.
type Config struct {
	Catalog   EnsembleLister
	Runs      RunStore     // опционально
	Publisher RunRequester // опционально
	Local     LocalRunner  // используется, если Publisher не задан
	Logger    *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		catalog:   cfg.Catalog,
		runs:      cfg.Runs,
		publisher: cfg.Publisher,
		local:     cfg.Local,
		logger:    logger,
		baseCtx:   context.Background(),
	}
}

// Reload перечитывает каталог и заново регистрирует cron-триггеры.
// Некорректные триггеры логируются и пропускаются.
func (s *Scheduler) Reload(ctx context.Context) error {
	ensembles, err := s.catalog.List(ctx)
	if err != nil {
		return fmt.Errorf("list ensembles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		s.cron.Remove(e.id)
	}
	s.entries = s.entries[:0]

	for _, ens := range ensembles {
		for i := range ens.Triggers {
			trig := &ens.Triggers[i]
			if !trig.IsCron() {
				continue
			}
			if _, err := ParseTrigger(trig); err != nil {
				s.logger.Warn("skipping invalid cron trigger",
					"ensemble", ens.Name,
					"trigger", i,
					"error", err,
				)
				continue
			}

			id, err := s.cron.AddFunc(CronSpec(trig), func() {
				if _, err := s.Fire(s.baseCtx, ens, i, time.Now()); err != nil {
					s.logger.Error("cron trigger failed", "ensemble", ens.Name, "trigger", i, "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("register trigger %s[%d]: %w", ens.Name, i, err)
			}
			s.entries = append(s.entries, Entry{Ensemble: ens.Name, Trigger: i, Spec: trig.Cron, id: id, trig: *trig})
		}
	}

	s.logger.Info("cron triggers loaded", "count", len(s.entries))
	return nil
}

// Entries возвращает зарегистрированные триггеры с временем следующего срабатывания.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		e.Next = s.cron.Entry(e.id).Next
		if e.Next.IsZero() {
			// до Start cron не знает следующего срабатывания
			e.Next, _ = NextFire(&e.trig, time.Now())
		}
		out[i] = e
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ensemble != out[j].Ensemble {
			return out[i].Ensemble < out[j].Ensemble
		}
		return out[i].Trigger < out[j].Trigger
	})
	return out
}

// Start запускает cron. Срабатывания используют ctx (без отмены при Stop).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop останавливает cron и ждёт завершения текущих срабатываний.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Fire обрабатывает одно срабатывание триггера.
// Возвращает true, если run был создан (не был дубликатом).
func (s *Scheduler) Fire(ctx context.Context, ens *domain.Ensemble, trigger int, at time.Time) (bool, error) {
	trig := &ens.Triggers[trigger]

	// Ключ гарантирует один run на триггер и минуту срабатывания
	idempKey := fmt.Sprintf("%s_%d_%d", ens.Name, trigger, at.Truncate(time.Minute).Unix())

	input := make(map[string]any, len(trig.Input))
	for k, v := range trig.Input {
		input[k] = v
	}

	run := domain.NewRun(ens.Name, ens.Version, input)
	run.Trigger = string(domain.TriggerCron)
	run.IdempotencyKey = idempKey

	logger := s.logger.With("ensemble", ens.Name, "run_id", run.ID, "idempotency_key", idempKey)

	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				logger.Debug("run already exists (idempotency)")
				return false, nil
			}
			return false, fmt.Errorf("create run: %w", err)
		}
	}

	switch {
	case s.publisher != nil:
		err := s.publisher.PublishRunPending(ctx, mq.RunPendingPayload{
			RunID:    run.ID,
			Ensemble: ens.Name,
			Input:    input,
			Trigger:  run.Trigger,
		})
		if err != nil {
			// Run уже сохранён — Service заберёт его через polling
			if s.runs != nil {
				logger.Warn("failed to publish run.pending", "error", err)
				return true, nil
			}
			return false, fmt.Errorf("publish run.pending: %w", err)
		}
	case s.local != nil:
		res := s.local.Execute(ctx, run, ens)
		logger.Info("cron run finished", "status", res.Status)
		return true, nil
	}

	logger.Info("created run from cron trigger")
	return true, nil
}

// cronLogger передаёт логи robfig/cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
