// Package orchestrator turns a scenario into concrete dispatchable tasks and
// scores finished executions. Both operations are pure: they read their inputs
// and return values without touching storage or the network.
package orchestrator

import (
	"sort"

	"github.com/google/uuid"

	"github.com/breachline/breachline/internal/model"
)

// Plan is the dispatch plan for one execution: phases in strict order, each
// holding the tasks that may run concurrently.
type Plan struct {
	Phases  []PlannedPhase
	Skipped []SkippedPair
}

// PlannedPhase is one sequential step of a plan.
type PlannedPhase struct {
	Name  string
	Order int
	Tasks []model.Task
}

// SkippedPair records a (technique, agent) combination that produced no task,
// with the reason. Skipped pairs are logged but never stored as results.
type SkippedPair struct {
	TechniqueID string
	AgentPaw    string
	Reason      string
}

// TaskCount returns the total number of tasks across all phases.
func (p *Plan) TaskCount() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase.Tasks)
	}
	return n
}

// BuildPlan expands a scenario into tasks for the given agents. For each
// (technique, agent) pair it picks an executor compatible with the agent's
// platform and executor set; when safeMode is set, only executors flagged safe
// qualify. A pinned executor name is preferred when it can run on the agent,
// with fallback to the first compatible executor otherwise. Pairs with no
// compatible executor at all are skipped, not failed.
func BuildPlan(executionID uuid.UUID, scenario model.Scenario, techniques map[string]model.Technique, agents []model.Agent, safeMode bool) Plan {
	phases := make([]model.Phase, len(scenario.Phases))
	copy(phases, scenario.Phases)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].Order < phases[j].Order })

	var plan Plan
	for _, phase := range phases {
		planned := PlannedPhase{Name: phase.Name, Order: phase.Order}
		for _, sel := range phase.Techniques {
			technique, ok := techniques[sel.TechniqueID]
			if !ok {
				for _, agent := range agents {
					plan.Skipped = append(plan.Skipped, SkippedPair{
						TechniqueID: sel.TechniqueID,
						AgentPaw:    agent.Paw,
						Reason:      "technique not in catalog",
					})
				}
				continue
			}
			for _, agent := range agents {
				executor, ok := selectExecutor(technique, sel.ExecutorName, agent, safeMode)
				if !ok {
					plan.Skipped = append(plan.Skipped, SkippedPair{
						TechniqueID: sel.TechniqueID,
						AgentPaw:    agent.Paw,
						Reason:      "no compatible executor",
					})
					continue
				}
				planned.Tasks = append(planned.Tasks, model.Task{
					ID:          uuid.New(),
					ExecutionID: executionID,
					TechniqueID: technique.ID,
					AgentPaw:    agent.Paw,
					Executor:    executor.Name,
					Phase:       phase.Order,
					Command:     executor.Command,
					Cleanup:     executor.Cleanup,
					Timeout:     executor.Timeout,
				})
			}
		}
		if len(planned.Tasks) > 0 {
			plan.Phases = append(plan.Phases, planned)
		}
	}
	return plan
}

// selectExecutor picks an executor that matches the agent: the pinned one if
// it is compatible, otherwise the first compatible executor in catalog order.
func selectExecutor(t model.Technique, pinned string, agent model.Agent, safeMode bool) (model.Executor, bool) {
	if !t.SupportsPlatform(agent.Platform) {
		return model.Executor{}, false
	}
	var fallback *model.Executor
	for i := range t.Executors {
		e := t.Executors[i]
		if !e.Matches(agent.Platform, agent.Executors, safeMode) {
			continue
		}
		if pinned == "" || e.Name == pinned {
			return e, true
		}
		if fallback == nil {
			fallback = &t.Executors[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return model.Executor{}, false
}
