package execution

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seedCatalog(t *testing.T, store *testutil.MemStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.UpsertTechnique(ctx, model.Technique{
		ID:        "T1057",
		Name:      "Process Discovery",
		Platforms: []string{"linux"},
		Executors: []model.Executor{
			{Name: "sh-ps", Type: "sh", Platform: "linux", Command: "ps aux", IsSafe: true},
		},
	}))
	require.NoError(t, store.UpsertTechnique(ctx, model.Technique{
		ID:        "T1082",
		Name:      "System Information Discovery",
		Platforms: []string{"linux"},
		Executors: []model.Executor{
			{Name: "sh-uname", Type: "sh", Platform: "linux", Command: "uname -a", IsSafe: true},
		},
	}))
	require.NoError(t, store.UpsertScenario(ctx, model.Scenario{
		ID: "two-phase",
		Phases: []model.Phase{
			{Name: "first", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1057"}}},
			{Name: "second", Order: 2, Techniques: []model.TechniqueSelection{{TechniqueID: "T1082"}}},
		},
	}))

	_, err := store.UpsertAgent(ctx, model.Agent{
		Paw: "lin-1", Platform: "linux", Executors: []string{"sh"}, Status: model.AgentOnline,
	})
	require.NoError(t, err)
}

func newTestService(store *testutil.MemStore, channel *testutil.FakeChannel) *Service {
	return NewService(store, channel, 2*time.Second, discardLogger())
}

func waitForStatus(t *testing.T, svc *Service, id uuid.UUID, want model.ExecutionStatus) model.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		if exec.Status == want {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached status %s", id, want)
	return model.Execution{}
}

func TestStartUnknownScenario(t *testing.T) {
	store := testutil.NewMemStore()
	svc := newTestService(store, testutil.NewFakeChannel())

	_, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "ghost"}, "tester")
	assert.ErrorIs(t, err, ErrScenarioNotFound)
}

func TestStartNoEligibleAgents(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	require.NoError(t, store.SetAgentStatus(context.Background(), "lin-1", model.AgentOffline))
	svc := newTestService(store, testutil.NewFakeChannel())

	_, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	assert.ErrorIs(t, err, ErrNoEligibleAgents)
}

func TestStartRunsPhasesInOrder(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	channel := testutil.NewFakeChannel("lin-1")
	svc := newTestService(store, channel)
	defer svc.Close()

	// Agents report success as soon as a task arrives.
	channel.OnSend = func(task model.Task) {
		go svc.IngestResult(context.Background(), task.ID, model.ResultSuccess, "ok")
	}

	exec, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, exec.Status)

	final := waitForStatus(t, svc, exec.ID, model.ExecutionCompleted)
	require.NotNil(t, final.Score)
	assert.InDelta(t, 0, *final.Score, 0.001) // all success = defenses saw nothing

	sent := channel.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "T1057", sent[0].TechniqueID)
	assert.Equal(t, "T1082", sent[1].TechniqueID)

	results, err := svc.Results(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, model.ResultSuccess, r.Status)
	}
}

func TestStartScoresBlockedAndDetected(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	channel := testutil.NewFakeChannel("lin-1")
	svc := newTestService(store, channel)
	defer svc.Close()

	channel.OnSend = func(task model.Task) {
		status := model.ResultBlocked
		if task.TechniqueID == "T1082" {
			status = model.ResultDetected
		}
		go svc.IngestResult(context.Background(), task.ID, status, "")
	}

	exec, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	require.NoError(t, err)

	final := waitForStatus(t, svc, exec.ID, model.ExecutionCompleted)
	require.NotNil(t, final.Score)
	// (1*100 + 1*50) / (2*100) * 100 = 75
	assert.InDelta(t, 75, *final.Score, 0.001)
}

func TestOfflineAgentFailsTask(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	// Agent is online in storage but has no live channel connection.
	channel := testutil.NewFakeChannel()
	svc := newTestService(store, channel)
	defer svc.Close()

	exec, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	require.NoError(t, err)

	final := waitForStatus(t, svc, exec.ID, model.ExecutionCompleted)
	require.NotNil(t, final.Score)
	assert.InDelta(t, 0, *final.Score, 0.001) // all failed, empty denominator

	results, err := svc.Results(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, model.ResultFailed, r.Status)
		assert.Equal(t, "agent offline", r.Output)
	}
	assert.Empty(t, channel.Sent())
}

func TestStopCancelsAndDiscardsLateResults(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	channel := testutil.NewFakeChannel("lin-1")
	svc := newTestService(store, channel)
	defer svc.Close()

	// Agent never replies; tasks stay open until Stop.
	exec, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	require.NoError(t, err)

	// Wait until the first task is actually dispatched.
	deadline := time.Now().Add(2 * time.Second)
	for len(channel.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, channel.Sent())

	stopped, err := svc.Stop(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCancelled, stopped.Status)
	assert.Nil(t, stopped.Score)

	// Stopping again is rejected.
	_, err = svc.Stop(context.Background(), exec.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// A result arriving after cancellation is discarded.
	taskID := channel.Sent()[0].ID
	waitForTerminalResult(t, svc, exec.ID, taskID)
	svc.IngestResult(context.Background(), taskID, model.ResultBlocked, "late")

	results, err := svc.Results(context.Background(), exec.ID)
	require.NoError(t, err)
	for _, r := range results {
		if r.ID == taskID {
			assert.Equal(t, model.ResultFailed, r.Status)
			assert.NotEqual(t, "late", r.Output)
		}
	}
}

func waitForTerminalResult(t *testing.T, svc *Service, execID, resultID uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results, err := svc.Results(context.Background(), execID)
		require.NoError(t, err)
		for _, r := range results {
			if r.ID == resultID && r.Status.Terminal() {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("result %s never became terminal", resultID)
}

func TestStopUnknownExecution(t *testing.T) {
	svc := newTestService(testutil.NewMemStore(), testutil.NewFakeChannel())
	_, err := svc.Stop(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyPlanCompletesImmediately(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()
	// Scenario references only a windows-only technique; the linux agent
	// yields an all-skipped plan.
	require.NoError(t, store.UpsertTechnique(ctx, model.Technique{
		ID:        "T1003",
		Platforms: []string{"windows"},
		Executors: []model.Executor{{Name: "psh", Type: "psh", Platform: "windows", Command: "x"}},
	}))
	require.NoError(t, store.UpsertScenario(ctx, model.Scenario{
		ID: "win-only",
		Phases: []model.Phase{
			{Name: "p", Order: 1, Techniques: []model.TechniqueSelection{{TechniqueID: "T1003"}}},
		},
	}))

	svc := newTestService(store, testutil.NewFakeChannel("lin-1"))
	exec, err := svc.Start(ctx, model.StartExecutionRequest{ScenarioID: "win-only"}, "tester")
	require.NoError(t, err)

	assert.Equal(t, model.ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.Score)
	assert.InDelta(t, 0, *exec.Score, 0.001)

	// No result rows exist for skipped pairs.
	results, err := svc.Results(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDuplicateResultKeepsFirstOutcome(t *testing.T) {
	store := testutil.NewMemStore()
	seedCatalog(t, store)
	channel := testutil.NewFakeChannel("lin-1")
	svc := newTestService(store, channel)
	defer svc.Close()

	first := make(chan uuid.UUID, 4)
	channel.OnSend = func(task model.Task) {
		first <- task.ID
		go svc.IngestResult(context.Background(), task.ID, model.ResultBlocked, "first")
	}

	exec, err := svc.Start(context.Background(), model.StartExecutionRequest{ScenarioID: "two-phase"}, "tester")
	require.NoError(t, err)
	waitForStatus(t, svc, exec.ID, model.ExecutionCompleted)

	taskID := <-first
	svc.IngestResult(context.Background(), taskID, model.ResultSuccess, "second")

	result, err := store.GetResult(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, model.ResultBlocked, result.Status)
	assert.Equal(t, "first", result.Output)
}
