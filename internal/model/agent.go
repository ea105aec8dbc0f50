// Package model defines the core domain types for Breachline.
//
// Types correspond directly to database tables and Agent Channel payloads.
// Strong typing (UUIDs, time.Time, enums) is used throughout; operational
// records (executions, results, schedules) carry UUID identity while catalog
// entries (techniques, scenarios) keep their human-assigned string IDs.
package model

import (
	"fmt"
	"time"
)

// AgentStatus represents the connectivity state of an agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// Agent represents a deployed Breachline agent, identified by its paw.
// Agents are mutated only by registration/heartbeat events arriving over the
// Agent Channel; the orchestration core treats them as read-only.
type Agent struct {
	Paw       string      `json:"paw"`
	Hostname  string      `json:"hostname"`
	Username  string      `json:"username"`
	Platform  string      `json:"platform"` // "windows", "linux", "darwin"
	Executors []string    `json:"executors"`
	Status    AgentStatus `json:"status"`
	LastSeen  time.Time   `json:"last_seen"`
	IPAddress string      `json:"ip_address,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SupportsExecutor reports whether the agent can run the given executor type.
func (a *Agent) SupportsExecutor(executorType string) bool {
	for _, e := range a.Executors {
		if e == executorType {
			return true
		}
	}
	return false
}

// ValidatePaw checks that a paw conforms to the allowed format.
// Paws must be 1-64 ASCII characters: alphanumeric, dots, hyphens, and
// underscores.
func ValidatePaw(paw string) error {
	if len(paw) == 0 {
		return fmt.Errorf("paw is required")
	}
	if len(paw) > 64 {
		return fmt.Errorf("paw must be at most 64 characters")
	}
	for i := 0; i < len(paw); i++ {
		c := paw[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("paw contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
