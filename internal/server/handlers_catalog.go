package server

import (
	"net/http"

	"github.com/breachline/breachline/internal/model"
)

// HandleListTechniques lists catalog techniques with optional tactic and
// platform filters.
func (h *Handlers) HandleListTechniques(w http.ResponseWriter, r *http.Request) {
	techniques, err := h.catalog.ListTechniques(r.Context(),
		r.URL.Query().Get("tactic"), r.URL.Query().Get("platform"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"techniques": techniques})
}

// HandleGetTechnique returns one technique.
func (h *Handlers) HandleGetTechnique(w http.ResponseWriter, r *http.Request) {
	technique, err := h.catalog.GetTechnique(r.Context(), r.PathValue("technique_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, technique)
}

// HandleListScenarios lists all scenarios.
func (h *Handlers) HandleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.catalog.ListScenarios(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"scenarios": scenarios})
}

// HandleGetScenario returns one scenario.
func (h *Handlers) HandleGetScenario(w http.ResponseWriter, r *http.Request) {
	scenario, err := h.catalog.GetScenario(r.Context(), r.PathValue("scenario_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, scenario)
}

// HandlePutScenario creates or replaces a scenario.
func (h *Handlers) HandlePutScenario(w http.ResponseWriter, r *http.Request) {
	var scenario model.Scenario
	if err := decodeJSON(r, &scenario); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	scenario.ID = r.PathValue("scenario_id")
	if scenario.ID == "" || scenario.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "id and name are required")
		return
	}
	if err := h.catalog.UpsertScenario(r.Context(), scenario); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, scenario)
}

// HandleDeleteScenario removes a scenario.
func (h *Handlers) HandleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteScenario(r.Context(), r.PathValue("scenario_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
