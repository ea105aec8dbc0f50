// Package channel carries the live websocket links between the control server
// and its agents, plus a broadcast feed for dashboard subscribers. The hub is
// the process-local source of truth for which agents have a live connection;
// the agents table in storage holds the durable view.
package channel

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/breachline/breachline/internal/model"
)

// ErrAgentNotConnected is returned when sending to a paw with no live link.
var ErrAgentNotConnected = errors.New("channel: agent not connected")

// Hub tracks connected agents by paw and dashboard subscribers.
type Hub struct {
	logger *slog.Logger

	mu         sync.RWMutex
	agents     map[string]*Client
	dashboards map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		agents:     make(map[string]*Client),
		dashboards: make(map[*Client]struct{}),
	}
}

// RegisterAgent binds a client to a paw. A reconnecting paw displaces its old
// connection, which is closed.
func (h *Hub) RegisterAgent(paw string, client *Client) {
	h.mu.Lock()
	old := h.agents[paw]
	h.agents[paw] = client
	h.mu.Unlock()

	if old != nil && old != client {
		h.logger.Info("displacing stale agent connection", "paw", paw)
		old.Close()
	}
}

// UnregisterAgent drops the binding if this client still owns it. A newer
// connection for the same paw is left alone.
func (h *Hub) UnregisterAgent(paw string, client *Client) {
	h.mu.Lock()
	if h.agents[paw] == client {
		delete(h.agents, paw)
	}
	h.mu.Unlock()
}

// AgentConnected reports whether the paw has a live connection.
func (h *Hub) AgentConnected(paw string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[paw]
	return ok
}

// ConnectedPaws returns the paws with live connections.
func (h *Hub) ConnectedPaws() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	paws := make([]string, 0, len(h.agents))
	for paw := range h.agents {
		paws = append(paws, paw)
	}
	return paws
}

// SendTask delivers a task to a connected agent.
func (h *Hub) SendTask(paw string, task model.Task) error {
	h.mu.RLock()
	client := h.agents[paw]
	h.mu.RUnlock()
	if client == nil {
		return ErrAgentNotConnected
	}

	env, err := NewEnvelope(TypeTask, task)
	if err != nil {
		return err
	}
	return client.Send(env)
}

// RegisterDashboard subscribes a client to the event feed.
func (h *Hub) RegisterDashboard(client *Client) {
	h.mu.Lock()
	h.dashboards[client] = struct{}{}
	h.mu.Unlock()
}

// UnregisterDashboard removes a subscriber.
func (h *Hub) UnregisterDashboard(client *Client) {
	h.mu.Lock()
	delete(h.dashboards, client)
	h.mu.Unlock()
}

// Broadcast pushes an event to every dashboard subscriber. Slow subscribers
// are dropped by their own send queues, never block the caller.
func (h *Hub) Broadcast(event string, data any) {
	env, err := NewEnvelope(TypeEvent, EventPayload{Event: event, Data: data})
	if err != nil {
		h.logger.Error("marshal broadcast event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.dashboards))
	for client := range h.dashboards {
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	for _, client := range subscribers {
		_ = client.Send(env)
	}
}

// CloseAll tears down every connection, agents and dashboards alike.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	agents := h.agents
	dashboards := h.dashboards
	h.agents = make(map[string]*Client)
	h.dashboards = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range agents {
		client.Close()
	}
	for client := range dashboards {
		client.Close()
	}
}
