package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus represents the lifecycle state of a schedule.
type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	SchedulePaused   ScheduleStatus = "paused"
	ScheduleDisabled ScheduleStatus = "disabled"
)

// ScheduleFrequency represents how often a schedule fires.
type ScheduleFrequency string

const (
	FrequencyOnce    ScheduleFrequency = "once"
	FrequencyHourly  ScheduleFrequency = "hourly"
	FrequencyDaily   ScheduleFrequency = "daily"
	FrequencyWeekly  ScheduleFrequency = "weekly"
	FrequencyMonthly ScheduleFrequency = "monthly"
	FrequencyCron    ScheduleFrequency = "cron"
)

// Valid reports whether f is a known frequency.
func (f ScheduleFrequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyHourly, FrequencyDaily, FrequencyWeekly,
		FrequencyMonthly, FrequencyCron:
		return true
	}
	return false
}

// Schedule is a recurring or one-shot trigger for starting a scenario.
// CronExpr is meaningful only when Frequency is cron; an empty AgentPaw
// targets all agents online at fire time.
type Schedule struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ScenarioID  string            `json:"scenario_id"`
	AgentPaw    string            `json:"agent_paw,omitempty"`
	Frequency   ScheduleFrequency `json:"frequency"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	SafeMode    bool              `json:"safe_mode"`
	Status      ScheduleStatus    `json:"status"`
	NextRunAt   *time.Time        `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID        `json:"last_run_id,omitempty"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Due reports whether the schedule should fire at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	if s.Status != ScheduleActive || s.NextRunAt == nil {
		return false
	}
	return !now.Before(*s.NextRunAt)
}

// ScheduleRunStatus represents the outcome of one schedule trigger.
type ScheduleRunStatus string

const (
	ScheduleRunStarted ScheduleRunStatus = "started"
	ScheduleRunFailed  ScheduleRunStatus = "failed"
)

// ScheduleRun is the append-only audit record of one trigger firing,
// scheduled or on-demand. Immutable after creation except for the terminal
// fields set on failure.
type ScheduleRun struct {
	ID          uuid.UUID         `json:"id"`
	ScheduleID  uuid.UUID         `json:"schedule_id"`
	ExecutionID *uuid.UUID        `json:"execution_id,omitempty"`
	Status      ScheduleRunStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
