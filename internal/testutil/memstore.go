// Package testutil provides in-memory doubles for the storage layer and the
// agent channel, mirroring the semantics of their production counterparts
// (ErrNotFound / ErrConflict included) so service tests run without Postgres
// or websockets.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/storage"
)

// MemStore is an in-memory implementation of the storage surface.
// The zero value is not usable; call NewMemStore.
type MemStore struct {
	mu           sync.Mutex
	agents       map[string]model.Agent
	techniques   map[string]model.Technique
	scenarios    map[string]model.Scenario
	executions   map[uuid.UUID]model.Execution
	results      map[uuid.UUID]model.Result
	schedules    map[uuid.UUID]model.Schedule
	scheduleRuns []model.ScheduleRun
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		agents:     make(map[string]model.Agent),
		techniques: make(map[string]model.Technique),
		scenarios:  make(map[string]model.Scenario),
		executions: make(map[uuid.UUID]model.Execution),
		results:    make(map[uuid.UUID]model.Result),
		schedules:  make(map[uuid.UUID]model.Schedule),
	}
}

// --- agents ---

func (m *MemStore) UpsertAgent(_ context.Context, agent model.Agent) (model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	agent.LastSeen = now
	agent.UpdatedAt = now
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.Status == "" {
		agent.Status = model.AgentOnline
	}
	m.agents[agent.Paw] = agent
	return agent, nil
}

func (m *MemStore) GetAgent(_ context.Context, paw string) (model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[paw]
	if !ok {
		return model.Agent{}, storage.ErrNotFound
	}
	return agent, nil
}

func (m *MemStore) ListAgents(_ context.Context, status model.AgentStatus) ([]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Agent
	for _, a := range m.agents {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Paw < out[j].Paw })
	return out, nil
}

func (m *MemStore) TouchAgent(_ context.Context, paw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[paw]
	if !ok {
		return storage.ErrNotFound
	}
	agent.LastSeen = time.Now().UTC()
	agent.Status = model.AgentOnline
	m.agents[paw] = agent
	return nil
}

func (m *MemStore) SetAgentStatus(_ context.Context, paw string, status model.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[paw]
	if !ok {
		return storage.ErrNotFound
	}
	agent.Status = status
	m.agents[paw] = agent
	return nil
}

func (m *MemStore) MarkStaleAgentsOffline(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paws []string
	for paw, a := range m.agents {
		if a.Status == model.AgentOnline && a.LastSeen.Before(cutoff) {
			a.Status = model.AgentOffline
			m.agents[paw] = a
			paws = append(paws, paw)
		}
	}
	sort.Strings(paws)
	return paws, nil
}

func (m *MemStore) DeleteAgent(_ context.Context, paw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[paw]; !ok {
		return storage.ErrNotFound
	}
	delete(m.agents, paw)
	return nil
}

// --- catalog ---

func (m *MemStore) UpsertTechnique(_ context.Context, t model.Technique) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.techniques[t.ID] = t
	return nil
}

func (m *MemStore) GetTechnique(_ context.Context, id string) (model.Technique, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.techniques[id]
	if !ok {
		return model.Technique{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *MemStore) GetTechniques(_ context.Context, ids []string) (map[string]model.Technique, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Technique, len(ids))
	for _, id := range ids {
		if t, ok := m.techniques[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (m *MemStore) ListTechniques(_ context.Context, tactic, platform string) ([]model.Technique, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Technique
	for _, t := range m.techniques {
		if tactic != "" && !contains(t.Tactics, tactic) {
			continue
		}
		if platform != "" && !contains(t.Platforms, platform) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpsertScenario(_ context.Context, s model.Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.scenarios[s.ID] = s
	return nil
}

func (m *MemStore) GetScenario(_ context.Context, id string) (model.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenarios[id]
	if !ok {
		return model.Scenario{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *MemStore) ListScenarios(_ context.Context) ([]model.Scenario, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Scenario
	for _, s := range m.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteScenario(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.scenarios, id)
	return nil
}

// --- executions and results ---

func (m *MemStore) CreateExecution(_ context.Context, exec model.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[exec.ID] = exec
	return nil
}

func (m *MemStore) GetExecution(_ context.Context, id uuid.UUID) (model.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return model.Execution{}, storage.ErrNotFound
	}
	return e, nil
}

func (m *MemStore) ListExecutions(_ context.Context, scenarioID string, limit, offset int) ([]model.Execution, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var all []model.Execution
	for _, e := range m.executions {
		if scenarioID == "" || e.ScenarioID == scenarioID {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *MemStore) CompleteExecution(_ context.Context, id uuid.UUID, status model.ExecutionStatus, score *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status.Terminal() {
		return storage.ErrConflict
	}
	now := time.Now().UTC()
	e.Status = status
	e.Score = score
	e.CompletedAt = &now
	m.executions[id] = e
	return nil
}

func (m *MemStore) SetExecutionStatus(_ context.Context, id uuid.UUID, status model.ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status.Terminal() {
		return storage.ErrConflict
	}
	e.Status = status
	m.executions[id] = e
	return nil
}

func (m *MemStore) CreateResults(_ context.Context, results []model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.results[r.ID] = r
	}
	return nil
}

func (m *MemStore) GetResult(_ context.Context, id uuid.UUID) (model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return model.Result{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *MemStore) ListResults(_ context.Context, executionID uuid.UUID) ([]model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Result
	for _, r := range m.results {
		if r.ExecutionID == executionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (m *MemStore) FinalizeResult(_ context.Context, id uuid.UUID, status model.ResultStatus, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok || r.Status.Terminal() {
		return storage.ErrConflict
	}
	now := time.Now().UTC()
	r.Status = status
	r.Output = output
	r.CompletedAt = &now
	m.results[id] = r
	return nil
}

func (m *MemStore) MarkResultRunning(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if ok && r.Status == model.ResultPending {
		r.Status = model.ResultRunning
		m.results[id] = r
	}
	return nil
}

// --- schedules ---

func (m *MemStore) CreateSchedule(_ context.Context, s model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *MemStore) GetSchedule(_ context.Context, id uuid.UUID) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *MemStore) ListSchedules(_ context.Context) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateSchedule(_ context.Context, s model.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.schedules[s.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Name = s.Name
	existing.Description = s.Description
	existing.ScenarioID = s.ScenarioID
	existing.AgentPaw = s.AgentPaw
	existing.Frequency = s.Frequency
	existing.CronExpr = s.CronExpr
	existing.SafeMode = s.SafeMode
	existing.Status = s.Status
	existing.NextRunAt = s.NextRunAt
	existing.UpdatedAt = time.Now().UTC()
	m.schedules[s.ID] = existing
	return nil
}

func (m *MemStore) SetScheduleStatus(_ context.Context, id uuid.UUID, status model.ScheduleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	m.schedules[id] = s
	return nil
}

func (m *MemStore) DeleteSchedule(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *MemStore) FindDueSchedules(_ context.Context, now time.Time) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Schedule
	for _, s := range m.schedules {
		if s.Status == model.ScheduleActive && s.NextRunAt != nil && !now.Before(*s.NextRunAt) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return out, nil
}

func (m *MemStore) ConsumeScheduleTrigger(_ context.Context, id, runID uuid.UUID, firedAt time.Time, nextRunAt *time.Time, status model.ScheduleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.LastRunAt = &firedAt
	s.LastRunID = &runID
	s.NextRunAt = nextRunAt
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	m.schedules[id] = s
	return nil
}

func (m *MemStore) CreateScheduleRun(_ context.Context, run model.ScheduleRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleRuns = append(m.scheduleRuns, run)
	return nil
}

func (m *MemStore) ListScheduleRuns(_ context.Context, scheduleID uuid.UUID, limit int) ([]model.ScheduleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []model.ScheduleRun
	for _, r := range m.scheduleRuns {
		if r.ScheduleID == scheduleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
