package server

import (
	"net/http"

	"github.com/breachline/breachline/internal/model"
)

// HandleListAgents lists registered agents. Each entry is annotated with
// whether it currently holds a live channel connection.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	status := model.AgentStatus(r.URL.Query().Get("status"))
	list, err := h.registry.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	type agentView struct {
		model.Agent
		Connected bool `json:"connected"`
	}
	views := make([]agentView, len(list))
	for i, a := range list {
		views[i] = agentView{Agent: a, Connected: h.hub.AgentConnected(a.Paw)}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agents": views})
}

// HandleGetAgent returns one agent.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	paw := r.PathValue("paw")
	agent, err := h.registry.Get(r.Context(), paw)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleDeleteAgent removes an agent from the registry.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	paw := r.PathValue("paw")
	if err := h.registry.Delete(r.Context(), paw); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
