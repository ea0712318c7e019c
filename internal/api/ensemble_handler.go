package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shaiso/Ensemble/internal/catalog"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/scheduler"
)

// maxBodySize — предельный размер тела запроса с описанием.
const maxBodySize = 1 << 20

// ListEnsembles возвращает список ensemble.
// GET /api/v1/ensembles
func (h *Handler) ListEnsembles(w http.ResponseWriter, r *http.Request) {
	ensembles, err := h.catalog.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EnsembleSummary, len(ensembles))
	for i, e := range ensembles {
		result[i] = EnsembleFromDomain(e)
	}

	List(w, result, len(result))
}

// GetEnsemble возвращает полное описание ensemble.
// GET /api/v1/ensembles/{name}
func (h *Handler) GetEnsemble(w http.ResponseWriter, r *http.Request) {
	ens, err := h.catalog.Get(r.Context(), r.PathValue("name"))
	if HandleRepoError(w, h.logger, err, "ensemble not found") {
		return
	}

	Success(w, ens)
}

// SaveEnsemble сохраняет новую версию описания.
// POST /api/v1/ensembles (application/json или application/yaml)
func (h *Handler) SaveEnsemble(w http.ResponseWriter, r *http.Request) {
	if h.ensembles == nil {
		NotConfigured(w, "ensemble store")
		return
	}

	ens, err := decodeEnsemble(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.validate(ens); err != nil {
		ValidationFailed(w, err)
		return
	}

	if err := h.ensembles.Save(r.Context(), ens); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("ensemble saved", "ensemble", ens.Name, "version", ens.Version)

	if h.triggers != nil && len(ens.Triggers) > 0 {
		if err := h.triggers.Reload(r.Context()); err != nil {
			h.logger.Error("failed to reload triggers", "ensemble", ens.Name, "error", err)
		}
	}
	Created(w, EnsembleFromDomain(ens))
}

// ValidateEnsemble проверяет описание без сохранения и выполнения.
// POST /api/v1/ensembles/validate
func (h *Handler) ValidateEnsemble(w http.ResponseWriter, r *http.Request) {
	ens, err := decodeEnsemble(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.validate(ens); err != nil {
		ValidationFailed(w, err)
		return
	}

	Success(w, ValidationResponse{Valid: true, Name: ens.Name, Steps: countSteps(ens.Flow)})
}

// validate проверяет дерево шагов, агентов и cron-триггеры.
func (h *Handler) validate(ens *domain.Ensemble) error {
	if err := h.orch.Validate(ens); err != nil {
		return err
	}
	return scheduler.ValidateTriggers(ens)
}

// decodeEnsemble читает описание из тела запроса; формат — по Content-Type.
func decodeEnsemble(r *http.Request) (*domain.Ensemble, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	format := catalog.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = catalog.FormatYAML
	}

	ens, err := catalog.Parse(body, format)
	if err != nil {
		return nil, fmt.Errorf("invalid ensemble: %w", err)
	}
	return ens, nil
}
