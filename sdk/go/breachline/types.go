package breachline

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered simulation endpoint.
type Agent struct {
	Paw       string    `json:"paw"`
	Hostname  string    `json:"hostname"`
	Username  string    `json:"username"`
	Platform  string    `json:"platform"`
	Executors []string  `json:"executors"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	IPAddress string    `json:"ip_address,omitempty"`
	Connected bool      `json:"connected,omitempty"`
}

// Executor is one platform-specific implementation of a technique.
type Executor struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Platform string `json:"platform,omitempty"`
	Command  string `json:"command"`
	Cleanup  string `json:"cleanup,omitempty"`
	Timeout  int    `json:"timeout"`
	IsSafe   bool   `json:"is_safe"`
}

// Technique is a catalog entry describing one attack behavior.
type Technique struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tactics     []string   `json:"tactics,omitempty"`
	Platforms   []string   `json:"platforms"`
	Executors   []Executor `json:"executors"`
	IsSafe      bool       `json:"is_safe"`
}

// TechniqueSelection references a catalog technique within a scenario phase.
type TechniqueSelection struct {
	TechniqueID  string `json:"technique_id"`
	ExecutorName string `json:"executor_name,omitempty"`
}

// Phase is one sequential step of a scenario.
type Phase struct {
	Name       string               `json:"name"`
	Order      int                  `json:"order"`
	Techniques []TechniqueSelection `json:"techniques"`
}

// Scenario is an ordered attack plan.
type Scenario struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Phases      []Phase  `json:"phases"`
	Tags        []string `json:"tags,omitempty"`
}

// Execution is one run of a scenario against a set of agents.
type Execution struct {
	ID          uuid.UUID  `json:"id"`
	ScenarioID  string     `json:"scenario_id"`
	AgentPaws   []string   `json:"agent_paws"`
	Status      string     `json:"status"`
	SafeMode    bool       `json:"safe_mode"`
	Score       *float64   `json:"score,omitempty"`
	StartedBy   string     `json:"started_by"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Result is the outcome of one technique on one agent.
type Result struct {
	ID          uuid.UUID  `json:"id"`
	ExecutionID uuid.UUID  `json:"execution_id"`
	TechniqueID string     `json:"technique_id"`
	AgentPaw    string     `json:"agent_paw"`
	Command     string     `json:"command"`
	Status      string     `json:"status"`
	Output      string     `json:"output,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScoreBreakdown summarizes an execution's defense score, including the
// per-tactic split.
type ScoreBreakdown struct {
	Overall  float64            `json:"overall"`
	Blocked  int                `json:"blocked"`
	Detected int                `json:"detected"`
	Success  int                `json:"success"`
	Total    int                `json:"total"`
	ByTactic map[string]float64 `json:"by_tactic,omitempty"`
}

// Schedule is a recurring execution definition.
type Schedule struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ScenarioID  string     `json:"scenario_id"`
	AgentPaw    string     `json:"agent_paw,omitempty"`
	Frequency   string     `json:"frequency"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	SafeMode    bool       `json:"safe_mode"`
	Status      string     `json:"status"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
}

// ScheduleRun is one firing of a schedule.
type ScheduleRun struct {
	ID          uuid.UUID  `json:"id"`
	ScheduleID  uuid.UUID  `json:"schedule_id"`
	ExecutionID *uuid.UUID `json:"execution_id,omitempty"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
}

// StartExecutionRequest starts a scenario against a set of agents.
// Empty AgentPaws targets every online agent.
type StartExecutionRequest struct {
	ScenarioID string   `json:"scenario_id"`
	AgentPaws  []string `json:"agent_paws,omitempty"`
	SafeMode   bool     `json:"safe_mode"`
}

// ScheduleRequest creates or updates a schedule.
type ScheduleRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ScenarioID  string     `json:"scenario_id"`
	AgentPaw    string     `json:"agent_paw,omitempty"`
	Frequency   string     `json:"frequency"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	SafeMode    bool       `json:"safe_mode"`
	StartAt     *time.Time `json:"start_at,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
