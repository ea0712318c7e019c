package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/orchestrator"
)

// ErrorCode — машинно-читаемый код ошибки в теле ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeNotConfigured ErrorCode = "NOT_CONFIGURED"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Конверты ответов: {"data": ...}, {"data": [...], "total": N}, {"error": {...}}.
type (
	DataResponse struct {
		Data any `json:"data"`
	}
	ListResponse struct {
		Data  any `json:"data"`
		Total int `json:"total"`
	}
	ErrorResponse struct {
		Error ErrorDetail `json:"error"`
	}
)

// ErrorDetail описывает ошибку. StepID и Field есть только у ошибок валидации.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	StepID  string    `json:"step_id,omitempty"`
	Field   string    `json:"field,omitempty"`
}

// JSON пишет status и тело data.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func Success(w http.ResponseWriter, data any)  { JSON(w, http.StatusOK, DataResponse{data}) }
func Created(w http.ResponseWriter, data any)  { JSON(w, http.StatusCreated, DataResponse{data}) }
func Accepted(w http.ResponseWriter, data any) { JSON(w, http.StatusAccepted, DataResponse{data}) }

func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ответ {"error": {code, message}}.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, msg string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func NotFound(w http.ResponseWriter, msg string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func Conflict(w http.ResponseWriter, msg string) {
	Error(w, http.StatusConflict, ErrCodeConflict, msg)
}

// InvalidState — 422: операция невозможна в текущем состоянии run.
func InvalidState(w http.ResponseWriter, msg string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, msg)
}

// NotConfigured — 501: процесс запущен без БД или брокера.
func NotConfigured(w http.ResponseWriter, what string) {
	Error(w, http.StatusNotImplemented, ErrCodeNotConfigured, what+" is not configured")
}

// InternalError логирует err; клиент получает только общий текст.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// ValidationFailed отправляет ошибку 400 с деталями ValidationError.
func ValidationFailed(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Code: ErrCodeValidation, Message: err.Error()}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		detail.StepID = ve.StepID
		detail.Field = ve.Field
		detail.Message = ve.Message
	}
	JSON(w, http.StatusBadRequest, ErrorResponse{Error: detail})
}

// HandleRepoError отвечает на ошибку хранилища и возвращает true, если ответ записан.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, domain.ErrAlreadyExists):
		Conflict(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}

// ResultStatusCode возвращает HTTP статус для итога run.
//
//	SUCCEEDED                 → 200
//	ValidationError           → 400
//	TimeoutError (run)        → 504
//	прочие ошибки и отмена    → 422
func ResultStatusCode(res *orchestrator.Result) int {
	if res.Succeeded() {
		return http.StatusOK
	}
	if res.Error == nil {
		return http.StatusUnprocessableEntity
	}
	switch res.Error.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}
