package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/repo"
)

const defaultListLimit = 50

// RunEnsemble запускает ensemble.
// POST /api/v1/ensembles/{name}/runs
//
// По умолчанию run выполняется в запросе, ответ содержит итог.
// С async=true run сохраняется в PENDING и уходит в очередь runs.pending.
func (h *Handler) RunEnsemble(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	ens, err := h.catalog.Get(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "ensemble not found") {
		return
	}

	if req.Async && (h.publisher == nil || h.runs == nil) {
		NotConfigured(w, "async execution")
		return
	}

	// Проверяем idempotency key
	if req.IdempotencyKey != "" && h.runs != nil {
		existing, err := h.runs.GetByIdempotencyKey(r.Context(), ens.Name, req.IdempotencyKey)
		if err == nil {
			Success(w, RunFromDomain(*existing))
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			InternalError(w, h.logger, err)
			return
		}
	}

	run := domain.NewRun(ens.Name, ens.Version, req.Input)
	run.Trigger = string(domain.TriggerHTTP)
	run.IdempotencyKey = req.IdempotencyKey

	if h.runs != nil && (req.Async || req.IdempotencyKey != "") {
		if err := h.runs.Create(r.Context(), run); err != nil {
			// Параллельный запрос с тем же ключом успел раньше
			if errors.Is(err, domain.ErrAlreadyExists) {
				Conflict(w, "run with this idempotency key already exists")
				return
			}
			InternalError(w, h.logger, err)
			return
		}
	}

	if req.Async {
		err := h.publisher.PublishRunPending(r.Context(), mq.RunPendingPayload{
			RunID:    run.ID,
			Ensemble: run.Ensemble,
			Input:    run.Input,
			Trigger:  run.Trigger,
		})
		if err != nil {
			// Run остаётся в PENDING и будет подхвачен polling
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
		Accepted(w, RunFromDomain(*run))
		return
	}

	res := h.orch.Execute(r.Context(), run, ens)
	JSON(w, ResultStatusCode(res), DataResponse{Data: ResultFromOrchestrator(res)})
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?ensemble=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		NotConfigured(w, "run store")
		return
	}

	query := r.URL.Query()
	filter := repo.RunFilter{
		Ensemble: query.Get("ensemble"),
		Status:   domain.RunStatus(query.Get("status")),
		Limit:    parseInt(query.Get("limit"), defaultListLimit),
		Offset:   parseInt(query.Get("offset"), 0),
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID вместе с журналом шагов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		NotConfigured(w, "run store")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	resp := RunFromDomain(*run)
	if h.steps != nil {
		steps, err := h.steps.ListByRun(r.Context(), id)
		if HandleRepoError(w, h.logger, err, "") {
			return
		}
		resp.Steps = steps
	}
	if stats, ok := h.orch.GetActiveRunStats(id); ok {
		resp.Stats = &stats
	}

	Success(w, resp)
}

// CancelRun отменяет активный run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	err = h.orch.Cancel(id)
	if err == nil {
		Accepted(w, CancelResponse{RunID: id, Status: "cancelling"})
		return
	}
	if !errors.Is(err, orchestrator.ErrRunNotActive) {
		InternalError(w, h.logger, err)
		return
	}

	// Run не выполняется этим процессом: уточняем по хранилищу
	if h.runs != nil {
		run, err := h.runs.GetRun(r.Context(), id)
		if HandleRepoError(w, h.logger, err, "run not found") {
			return
		}
		if run.IsFinished() {
			InvalidState(w, "run is already finished")
			return
		}
		InvalidState(w, "run is not executed by this instance")
		return
	}

	NotFound(w, "run not active")
}

// ListTriggers возвращает зарегистрированные cron-триггеры.
// GET /api/v1/triggers
func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil {
		NotConfigured(w, "scheduler")
		return
	}

	entries := h.triggers.Entries()
	List(w, entries, len(entries))
}

// Health возвращает состояние сервера.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", ActiveRuns: h.orch.ActiveRunsCount()}
	if ensembles, err := h.catalog.List(r.Context()); err == nil {
		resp.Ensembles = len(ensembles)
	}
	Success(w, resp)
}

// parseInt разбирает query параметр; при ошибке возвращает значение по умолчанию.
func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
