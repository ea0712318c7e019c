package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shaiso/Ensemble/internal/catalog"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/repo"
	"github.com/shaiso/Ensemble/internal/scheduler"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// RunStore — сохранённые runs.
// Реализация: repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, ensemble, key string) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// StepStore — журнал шагов.
// Реализация: repo.StepRepo.
type StepStore interface {
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.StepRecord, error)
}

// EnsembleStore сохраняет новые версии описаний.
// Реализация: repo.EnsembleRepo.
type EnsembleStore interface {
	Save(ctx context.Context, ens *domain.Ensemble) error
}

// RunRequester публикует запросы на асинхронное выполнение.
// Реализация: mq.Publisher.
type RunRequester interface {
	PublishRunPending(ctx context.Context, payload mq.RunPendingPayload) error
}

// TriggerLister возвращает зарегистрированные cron-триггеры
// и перечитывает их после сохранения описания.
// Реализация: scheduler.Scheduler.
type TriggerLister interface {
	Entries() []scheduler.Entry
	Reload(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
//
// Обязательны только Orchestrator и Catalog; остальные зависимости
// включают соответствующие маршруты (без них отвечают 501).
type Handler struct {
	orch      *orchestrator.Orchestrator
	catalog   catalog.Source
	ensembles EnsembleStore
	runs      RunStore
	steps     StepStore
	publisher RunRequester
	triggers  TriggerLister
	metrics   *telemetry.Metrics
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Catalog      catalog.Source
	Ensembles    EnsembleStore
	Runs         RunStore
	Steps        StepStore
	Publisher    RunRequester
	Triggers     TriggerLister
	Metrics      *telemetry.Metrics

	// Gatherer — источник для /metrics (если nil — prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Handler{
		orch:      cfg.Orchestrator,
		catalog:   cfg.Catalog,
		ensembles: cfg.Ensembles,
		runs:      cfg.Runs,
		steps:     cfg.Steps,
		publisher: cfg.Publisher,
		triggers:  cfg.Triggers,
		metrics:   cfg.Metrics,
		gatherer:  gatherer,
		logger:    logger,
	}
}
