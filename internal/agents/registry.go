// Package agents maintains the agent registry: registration, heartbeats,
// and the background sweep that flips silent agents to offline.
package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/storage"
)

// ErrAgentNotFound is returned when an agent does not exist.
var ErrAgentNotFound = errors.New("agents: not found")

// Store is the persistence surface the registry depends on.
type Store interface {
	UpsertAgent(ctx context.Context, agent model.Agent) (model.Agent, error)
	GetAgent(ctx context.Context, paw string) (model.Agent, error)
	ListAgents(ctx context.Context, status model.AgentStatus) ([]model.Agent, error)
	TouchAgent(ctx context.Context, paw string) error
	SetAgentStatus(ctx context.Context, paw string, status model.AgentStatus) error
	MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteAgent(ctx context.Context, paw string) error
}

// Registry tracks known agents and their liveness.
type Registry struct {
	store        Store
	logger       *slog.Logger
	staleTimeout time.Duration
}

// NewRegistry creates an agent registry.
func NewRegistry(store Store, staleTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, staleTimeout: staleTimeout}
}

// Register adds or refreshes an agent. Agents re-register on every reconnect,
// so an existing paw updates in place.
func (r *Registry) Register(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if err := model.ValidatePaw(agent.Paw); err != nil {
		return model.Agent{}, fmt.Errorf("agents: %w", err)
	}
	agent.Status = model.AgentOnline
	registered, err := r.store.UpsertAgent(ctx, agent)
	if err != nil {
		return model.Agent{}, err
	}
	r.logger.Info("agent registered",
		"paw", registered.Paw, "platform", registered.Platform,
		"hostname", registered.Hostname, "executors", registered.Executors)
	return registered, nil
}

// Heartbeat refreshes an agent's last-seen time and forces it online.
func (r *Registry) Heartbeat(ctx context.Context, paw string) error {
	if err := r.store.TouchAgent(ctx, paw); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}
	return nil
}

// MarkOffline flips an agent to offline, typically on channel disconnect.
func (r *Registry) MarkOffline(ctx context.Context, paw string) error {
	if err := r.store.SetAgentStatus(ctx, paw, model.AgentOffline); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}
	r.logger.Info("agent offline", "paw", paw)
	return nil
}

// Get returns one agent.
func (r *Registry) Get(ctx context.Context, paw string) (model.Agent, error) {
	agent, err := r.store.GetAgent(ctx, paw)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Agent{}, ErrAgentNotFound
		}
		return model.Agent{}, err
	}
	return agent, nil
}

// List returns agents, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status model.AgentStatus) ([]model.Agent, error) {
	return r.store.ListAgents(ctx, status)
}

// Delete removes an agent from the registry.
func (r *Registry) Delete(ctx context.Context, paw string) error {
	if err := r.store.DeleteAgent(ctx, paw); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}
	return nil
}

// Sweep marks agents offline whose last heartbeat is older than the stale
// timeout. Returns the paws it flipped.
func (r *Registry) Sweep(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-r.staleTimeout)
	paws, err := r.store.MarkStaleAgentsOffline(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(paws) > 0 {
		r.logger.Info("stale agents marked offline", "paws", paws)
	}
	return paws, nil
}

// RunSweeper runs the stale-agent sweep on the given interval until the
// context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("stale agent sweep", "error", err)
			}
		}
	}
}
