package server

import (
	"net/http"
	"strconv"

	"github.com/breachline/breachline/internal/model"
)

// HandleCreateSchedule creates a schedule.
func (h *Handlers) HandleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Name == "" || req.ScenarioID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and scenario_id are required")
		return
	}

	createdBy := "unknown"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		createdBy = claims.Subject
	}

	sched, err := h.schedSvc.Create(r.Context(), req, createdBy)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sched)
}

// HandleListSchedules lists schedules, optionally filtered by ?status=.
func (h *Handlers) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	status := model.ScheduleStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.ScheduleActive, model.SchedulePaused, model.ScheduleDisabled:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status filter")
		return
	}
	schedules, err := h.schedSvc.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"schedules": schedules})
}

// HandleGetSchedule returns one schedule.
func (h *Handlers) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	sched, err := h.schedSvc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sched)
}

// HandleUpdateSchedule rewrites a schedule's definition.
func (h *Handlers) HandleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	var req model.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	sched, err := h.schedSvc.Update(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sched)
}

// HandleDeleteSchedule removes a schedule.
func (h *Handlers) HandleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	if err := h.schedSvc.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePauseSchedule suspends a schedule.
func (h *Handlers) HandlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	sched, err := h.schedSvc.Pause(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sched)
}

// HandleResumeSchedule reactivates a paused schedule.
func (h *Handlers) HandleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	sched, err := h.schedSvc.Resume(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sched)
}

// HandleRunSchedule fires a schedule immediately.
func (h *Handlers) HandleRunSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	run, err := h.schedSvc.RunNow(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, run)
}

// HandleListScheduleRuns returns a schedule's firing history.
func (h *Handlers) HandleListScheduleRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "schedule_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.schedSvc.Runs(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"runs": runs})
}
