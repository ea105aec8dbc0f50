package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/breachline/breachline/internal/agents"
	"github.com/breachline/breachline/internal/execution"
	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/scheduler"
	"github.com/breachline/breachline/internal/storage"
)

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// decodeJSON decodes a JSON request body into the target struct.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// writeDomainError maps service errors onto HTTP statuses and error codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, execution.ErrScenarioNotFound),
		errors.Is(err, scheduler.ErrScenarioNotFound),
		errors.Is(err, execution.ErrNotFound),
		errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, execution.ErrNoEligibleAgents),
		errors.Is(err, scheduler.ErrInvalidFrequency):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, scheduler.ErrInvalidCronExpression):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidCron, err.Error())
	case errors.Is(err, execution.ErrAlreadyTerminal),
		errors.Is(err, scheduler.ErrScheduleDisabled),
		errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}
