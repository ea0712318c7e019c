package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
	defaultWorkers      = 1
)

// Catalog возвращает описание ensemble по имени.
// Реализации: catalog.Catalog, repo.EnsembleRepo.
type Catalog interface {
	Get(ctx context.Context, name string) (*domain.Ensemble, error)
}

// RunSource — сохранённые runs (для запросов по RunID и polling).
// Реализация: repo.RunRepo.
//
// Claim переводит run из PENDING в RUNNING и возвращает false, если run
// уже забрал другой процесс.
type RunSource interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListPending(ctx context.Context, limit int) ([]domain.Run, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
}

// CompletionPublisher публикует итоги runs.
// Реализация: mq.Publisher.
type CompletionPublisher interface {
	PublishRunCompleted(ctx context.Context, payload mq.RunCompletedPayload) error
}

// Service выполняет runs, запрошенные через очередь.
//
// Service:
//   - Получает запросы runs.pending из RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback, если задан Runs)
//   - Выполняет run через Orchestrator
//   - Публикует итог в runs.completed
type Service struct {
	orch      *Orchestrator
	catalog   Catalog
	runs      RunSource
	publisher CompletionPublisher
	conn      *mq.Connection

	consumers []*mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int
	workers      int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Orchestrator *Orchestrator
	Catalog      Catalog

	// Runs — источник сохранённых runs (опционально).
	Runs RunSource

	// MQ
	Publisher CompletionPublisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Workers — количество consumers очереди runs.pending (default: 1).
	Workers int

	// Logger
	Logger *slog.Logger
}

// NewService создаёт новый Service.
func NewService(cfg ServiceConfig) *Service {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		orch:         cfg.Orchestrator,
		catalog:      cfg.Catalog,
		runs:         cfg.Runs,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		workers:      workers,
		logger:       logger,
	}
}

// Start запускает Service.
//
// Запускает:
//   - Workers consumers для runs.pending (если задано соединение)
//   - Polling горутину (если задан источник runs)
func (s *Service) Start(ctx context.Context) error {
	if s.IsStopped() {
		return ErrServiceStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting run service",
		"workers", s.workers,
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)

	if s.conn != nil {
		for i := 0; i < s.workers; i++ {
			consumer := mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
				Queue:    string(mq.QueueRunsPending),
				Handler:  s.handleRunPending,
				Prefetch: 1,
			})
			s.consumers = append(s.consumers, consumer)

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("run consumer error", "error", err)
				}
			}()
		}
	}

	if s.runs != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollLoop(ctx)
		}()
	}

	s.logger.Info("run service started")
	return nil
}

// Stop останавливает Service и ждёт завершения текущих runs.
func (s *Service) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()

	s.logger.Info("stopping run service...")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	for _, c := range s.consumers {
		c.Stop()
	}

	s.wg.Wait()

	s.logger.Info("run service stopped")
}

// IsStopped проверяет, остановлен ли Service.
func (s *Service) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}

// handleRunPending обрабатывает сообщение run.pending.
func (s *Service) handleRunPending(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("parse run.pending payload: %w", err)
	}
	_, err = s.Process(ctx, payload)
	return err
}

// Process выполняет один запрошенный run.
//
// Возвращает ошибку только для сбоев инфраструктуры, при которых
// запрос стоит повторить. Ошибки выполнения run отражаются в Result.
func (s *Service) Process(ctx context.Context, req mq.RunPendingPayload) (*Result, error) {
	run, stored, err := s.loadRun(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With("run_id", run.ID, "ensemble", run.Ensemble)

	if run.Status != domain.RunStatusPending {
		logger.Debug("run is not pending, skipping", "status", run.Status)
		return nil, nil
	}
	if s.orch.isRunActive(run.ID) {
		logger.Debug("run already active, skipping")
		return nil, nil
	}
	if stored {
		claimed, err := s.runs.Claim(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("claim run %s: %w", run.ID, err)
		}
		if !claimed {
			logger.Debug("run claimed by another worker, skipping")
			return nil, nil
		}
	}

	var res *Result
	ens, err := s.catalog.Get(ctx, run.Ensemble)
	if err != nil {
		res = s.orch.Fail(ctx, run, domain.NewStepError(domain.KindValidation, "",
			fmt.Errorf("%w: %s: %w", ErrEnsembleNotFound, run.Ensemble, err)))
	} else {
		res, err = s.orch.execute(ctx, run, ens)
		if errors.Is(err, ErrRunAlreadyActive) {
			// повторная доставка, пока run ещё выполняется
			logger.Debug("run already active, skipping")
			return nil, nil
		}
	}

	s.publishCompleted(ctx, res, logger)
	return res, nil
}

// loadRun загружает сохранённый run или создаёт новый из запроса.
// Второе значение true, если run найден в хранилище.
func (s *Service) loadRun(ctx context.Context, req mq.RunPendingPayload) (*domain.Run, bool, error) {
	if s.runs != nil && req.RunID != uuid.Nil {
		run, err := s.runs.GetRun(ctx, req.RunID)
		if err == nil {
			return run, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("load run %s: %w", req.RunID, err)
		}
	}

	run := domain.NewRun(req.Ensemble, 0, req.Input)
	if req.RunID != uuid.Nil {
		run.ID = req.RunID
	}
	run.Trigger = req.Trigger
	if run.Trigger == "" {
		run.Trigger = string(domain.TriggerQueue)
	}
	return run, false, nil
}

// publishCompleted публикует итог run. Ошибка публикации только логируется.
func (s *Service) publishCompleted(ctx context.Context, res *Result, logger *slog.Logger) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishRunCompleted(context.WithoutCancel(ctx), mq.RunCompletedPayload{
		RunID:    res.RunID,
		Ensemble: res.Ensemble,
		Status:   res.Status,
		Output:   res.Output,
		Error:    res.Error,
	})
	if err != nil {
		logger.Error("failed to publish run completion", "error", err)
	}
}

// pollLoop — цикл polling для fallback.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока были выключены)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (s *Service) poll(ctx context.Context) {
	runs, err := s.runs.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	s.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		if ctx.Err() != nil {
			return
		}
		run := &runs[i]

		if s.orch.isRunActive(run.ID) {
			continue
		}

		req := mq.RunPendingPayload{RunID: run.ID, Ensemble: run.Ensemble, Input: run.Input, Trigger: run.Trigger}
		if _, err := s.Process(ctx, req); err != nil {
			s.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}
