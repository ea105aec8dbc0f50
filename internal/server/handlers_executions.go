package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/breachline/breachline/internal/model"
)

// HandleStartExecution starts a scenario execution.
func (h *Handlers) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req model.StartExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ScenarioID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "scenario_id is required")
		return
	}

	startedBy := "unknown"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		startedBy = claims.Subject
	}

	exec, err := h.execSvc.Start(r.Context(), req, startedBy)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.hub.Broadcast("execution_started", exec)
	writeJSON(w, r, http.StatusCreated, exec)
}

// HandleListExecutions lists executions, newest first.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	scenarioID := r.URL.Query().Get("scenario_id")

	execs, total, err := h.execSvc.List(r.Context(), scenarioID, limit, offset)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"executions": execs,
		"total":      total,
	})
}

// HandleGetExecution returns one execution.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "execution_id")
	if !ok {
		return
	}
	exec, err := h.execSvc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exec)
}

// HandleStopExecution cancels a running execution.
func (h *Handlers) HandleStopExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "execution_id")
	if !ok {
		return
	}
	exec, err := h.execSvc.Stop(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.hub.Broadcast("execution_cancelled", exec)
	writeJSON(w, r, http.StatusOK, exec)
}

// HandleListResults returns all results of one execution.
func (h *Handlers) HandleListResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "execution_id")
	if !ok {
		return
	}
	results, err := h.execSvc.Results(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"results": results})
}

// HandleExecutionScore returns the score breakdown of one execution.
func (h *Handlers) HandleExecutionScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "execution_id")
	if !ok {
		return
	}
	breakdown, err := h.execSvc.Score(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, breakdown)
}

// pathUUID parses a UUID path value, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
