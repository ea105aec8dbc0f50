package execution

import "errors"

var (
	// ErrScenarioNotFound is returned when a start request references an
	// unknown scenario.
	ErrScenarioNotFound = errors.New("execution: scenario not found")

	// ErrNoEligibleAgents is returned when no online agent matches the
	// start request's targeting.
	ErrNoEligibleAgents = errors.New("execution: no eligible agents")

	// ErrNotFound is returned when an execution does not exist.
	ErrNotFound = errors.New("execution: not found")

	// ErrAlreadyTerminal is returned when stopping an execution that has
	// already completed, been cancelled, or failed.
	ErrAlreadyTerminal = errors.New("execution: already terminal")
)
