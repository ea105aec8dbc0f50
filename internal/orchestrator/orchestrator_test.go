package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/model"
)

func testCatalog() map[string]model.Technique {
	return map[string]model.Technique{
		"T1003": {
			ID:        "T1003",
			Name:      "Credential Dumping",
			Platforms: []string{"windows"},
			Executors: []model.Executor{
				{Name: "psh-dump", Type: "psh", Platform: "windows", Command: "Invoke-Dump", IsSafe: false},
				{Name: "psh-sim", Type: "psh", Platform: "windows", Command: "Write-Host simulated", IsSafe: true},
			},
		},
		"T1057": {
			ID:        "T1057",
			Name:      "Process Discovery",
			Platforms: []string{"windows", "linux", "darwin"},
			Executors: []model.Executor{
				{Name: "sh-ps", Type: "sh", Platform: "linux", Command: "ps aux", IsSafe: true},
				{Name: "psh-ps", Type: "psh", Platform: "windows", Command: "Get-Process", IsSafe: true},
			},
		},
	}
}

func testScenario() model.Scenario {
	return model.Scenario{
		ID: "discovery-sweep",
		Phases: []model.Phase{
			{Name: "collect", Order: 2, Techniques: []model.TechniqueSelection{{TechniqueID: "T1003"}}},
			{Name: "discover", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1057"}}},
		},
	}
}

func TestBuildPlanPhaseOrdering(t *testing.T) {
	agents := []model.Agent{
		{Paw: "win-1", Platform: "windows", Executors: []string{"psh"}},
	}

	plan := BuildPlan(uuid.New(), testScenario(), testCatalog(), agents, false)

	require.Len(t, plan.Phases, 2)
	assert.Equal(t, 1, plan.Phases[0].Order)
	assert.Equal(t, "discover", plan.Phases[0].Name)
	assert.Equal(t, 2, plan.Phases[1].Order)
	assert.Equal(t, "T1057", plan.Phases[0].Tasks[0].TechniqueID)
	assert.Equal(t, "T1003", plan.Phases[1].Tasks[0].TechniqueID)
}

func TestBuildPlanSkipsIncompatibleAgents(t *testing.T) {
	agents := []model.Agent{
		{Paw: "win-1", Platform: "windows", Executors: []string{"psh"}},
		{Paw: "lin-1", Platform: "linux", Executors: []string{"sh"}},
	}

	plan := BuildPlan(uuid.New(), testScenario(), testCatalog(), agents, false)

	// T1003 is windows-only: lin-1 gets no task and no result, only a skip record.
	var t1003Paws []string
	for _, phase := range plan.Phases {
		for _, task := range phase.Tasks {
			if task.TechniqueID == "T1003" {
				t1003Paws = append(t1003Paws, task.AgentPaw)
			}
		}
	}
	assert.Equal(t, []string{"win-1"}, t1003Paws)

	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, "T1003", plan.Skipped[0].TechniqueID)
	assert.Equal(t, "lin-1", plan.Skipped[0].AgentPaw)
}

func TestBuildPlanSafeModeFiltersExecutors(t *testing.T) {
	agents := []model.Agent{
		{Paw: "win-1", Platform: "windows", Executors: []string{"psh"}},
	}
	scenario := model.Scenario{
		ID: "dump-only",
		Phases: []model.Phase{
			{Name: "collect", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1003"}}},
		},
	}

	unsafe := BuildPlan(uuid.New(), scenario, testCatalog(), agents, false)
	require.Equal(t, 1, unsafe.TaskCount())
	assert.Equal(t, "psh-dump", unsafe.Phases[0].Tasks[0].Executor)

	safe := BuildPlan(uuid.New(), scenario, testCatalog(), agents, true)
	require.Equal(t, 1, safe.TaskCount())
	assert.Equal(t, "psh-sim", safe.Phases[0].Tasks[0].Executor)
}

func TestBuildPlanPinnedExecutor(t *testing.T) {
	agents := []model.Agent{
		{Paw: "win-1", Platform: "windows", Executors: []string{"psh"}},
	}
	scenario := model.Scenario{
		ID: "pinned",
		Phases: []model.Phase{
			{Name: "collect", Order: 1, Techniques: []model.TechniqueSelection{
				{TechniqueID: "T1003", ExecutorName: "psh-sim"},
			}},
		},
	}

	plan := BuildPlan(uuid.New(), scenario, testCatalog(), agents, false)
	require.Equal(t, 1, plan.TaskCount())
	assert.Equal(t, "psh-sim", plan.Phases[0].Tasks[0].Executor)

	// Pinning a name the agent cannot run falls back to the first compatible
	// executor instead of skipping the pair.
	scenario.Phases[0].Techniques[0].ExecutorName = "no-such-executor"
	plan = BuildPlan(uuid.New(), scenario, testCatalog(), agents, false)
	require.Equal(t, 1, plan.TaskCount())
	assert.Equal(t, "psh-dump", plan.Phases[0].Tasks[0].Executor)
	assert.Empty(t, plan.Skipped)

	// No compatible executor at all still yields a skip.
	safeOnly := []model.Agent{{Paw: "mac-1", Platform: "darwin", Executors: []string{"sh"}}}
	scenario.Phases[0].Techniques[0].ExecutorName = "psh-sim"
	plan = BuildPlan(uuid.New(), scenario, testCatalog(), safeOnly, false)
	assert.Equal(t, 0, plan.TaskCount())
	require.Len(t, plan.Skipped, 1)
}

func TestBuildPlanUnknownTechnique(t *testing.T) {
	agents := []model.Agent{
		{Paw: "win-1", Platform: "windows", Executors: []string{"psh"}},
	}
	scenario := model.Scenario{
		ID: "ghost",
		Phases: []model.Phase{
			{Name: "x", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T9999"}}},
		},
	}

	plan := BuildPlan(uuid.New(), scenario, testCatalog(), agents, false)
	assert.Equal(t, 0, plan.TaskCount())
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, "technique not in catalog", plan.Skipped[0].Reason)
}

func TestBuildPlanExecutionIDPropagates(t *testing.T) {
	execID := uuid.New()
	agents := []model.Agent{
		{Paw: "lin-1", Platform: "linux", Executors: []string{"sh"}},
	}

	plan := BuildPlan(execID, testScenario(), testCatalog(), agents, false)
	require.Equal(t, 1, plan.TaskCount())
	assert.Equal(t, execID, plan.Phases[0].Tasks[0].ExecutionID)
	assert.NotEqual(t, uuid.Nil, plan.Phases[0].Tasks[0].ID)
}
