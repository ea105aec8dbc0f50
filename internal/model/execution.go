package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a scenario execution.
// Transitions: pending -> running -> {completed | cancelled | failed}.
// failed is reached only when pre-dispatch validation fails.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionCancelled || s == ExecutionFailed
}

// Execution is one end-to-end scenario run. Created by the execution service,
// mutated only by it, terminal once completed/cancelled/failed.
type Execution struct {
	ID          uuid.UUID       `json:"id"`
	ScenarioID  string          `json:"scenario_id"`
	AgentPaws   []string        `json:"agent_paws"`
	Status      ExecutionStatus `json:"status"`
	SafeMode    bool            `json:"safe_mode"`
	Score       *float64        `json:"score,omitempty"`
	StartedBy   string          `json:"started_by,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ResultStatus represents the outcome of a single technique execution.
type ResultStatus string

const (
	ResultPending  ResultStatus = "pending"
	ResultRunning  ResultStatus = "running"
	ResultSuccess  ResultStatus = "success"  // Executed, neither blocked nor detected.
	ResultBlocked  ResultStatus = "blocked"  // Stopped by a defense.
	ResultDetected ResultStatus = "detected" // Executed but alerted on.
	ResultFailed   ResultStatus = "failed"   // Technical error; excluded from scoring.
)

// Terminal reports whether the result status is final.
func (s ResultStatus) Terminal() bool {
	switch s {
	case ResultSuccess, ResultBlocked, ResultDetected, ResultFailed:
		return true
	}
	return false
}

// Result records the outcome of one dispatched task. One Result exists per
// dispatched Task; its ID doubles as the task ID on the wire. A Result is
// written to a terminal status exactly once; late callbacks are discarded.
type Result struct {
	ID           uuid.UUID    `json:"id"`
	ExecutionID  uuid.UUID    `json:"execution_id"`
	TechniqueID  string       `json:"technique_id"`
	AgentPaw     string       `json:"agent_paw"`
	ExecutorName string       `json:"executor_name,omitempty"`
	Command      string       `json:"command,omitempty"`
	Status       ResultStatus `json:"status"`
	Output       string       `json:"output,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Task is a dispatchable unit of work produced by the orchestrator: one
// (technique, executor, agent) triple with the resolved command. Tasks are
// ephemeral — owned by one in-flight execution and discarded once their
// Result is terminal or the execution is cancelled.
type Task struct {
	ID          uuid.UUID `json:"id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	TechniqueID string    `json:"technique_id"`
	AgentPaw    string    `json:"agent_paw"`
	Executor    string    `json:"executor,omitempty"`
	Phase       int       `json:"phase"`
	Command     string    `json:"command"`
	Cleanup     string    `json:"cleanup,omitempty"`
	Timeout     int       `json:"timeout"`
}

// ScoreBreakdown carries the counts behind a computed defense score.
// ByTactic holds the same formula applied per MITRE tactic; techniques with
// several tactics count toward each.
type ScoreBreakdown struct {
	Overall  float64            `json:"overall"`
	Blocked  int                `json:"blocked"`
	Detected int                `json:"detected"`
	Success  int                `json:"success"`
	Total    int                `json:"total"`
	ByTactic map[string]float64 `json:"by_tactic,omitempty"`
}
