// Package execution owns the attack execution lifecycle: starting scenario
// runs, dispatching tasks phase by phase, ingesting agent results, and
// finalizing scores.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/orchestrator"
	"github.com/breachline/breachline/internal/storage"
)

// Store is the persistence surface the execution service depends on.
// *storage.DB satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetScenario(ctx context.Context, id string) (model.Scenario, error)
	GetTechniques(ctx context.Context, ids []string) (map[string]model.Technique, error)
	GetAgent(ctx context.Context, paw string) (model.Agent, error)
	ListAgents(ctx context.Context, status model.AgentStatus) ([]model.Agent, error)
	CreateExecution(ctx context.Context, exec model.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (model.Execution, error)
	ListExecutions(ctx context.Context, scenarioID string, limit, offset int) ([]model.Execution, int, error)
	CompleteExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, score *float64) error
	CreateResults(ctx context.Context, results []model.Result) error
	ListResults(ctx context.Context, executionID uuid.UUID) ([]model.Result, error)
	FinalizeResult(ctx context.Context, id uuid.UUID, status model.ResultStatus, output string) error
	MarkResultRunning(ctx context.Context, id uuid.UUID) error
}

// Channel delivers tasks to connected agents.
type Channel interface {
	AgentConnected(paw string) bool
	SendTask(paw string, task model.Task) error
}

// dispatchConcurrency caps parallel task sends within one phase.
const dispatchConcurrency = 16

// Service drives executions from start to a terminal status.
type Service struct {
	store        Store
	channel      Channel
	logger       *slog.Logger
	phaseTimeout time.Duration

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc // in-flight executions
	waiters map[uuid.UUID]*phaseWaiter       // result ID -> waiter for its phase
	wg      sync.WaitGroup
}

// NewService creates an execution service.
func NewService(store Store, channel Channel, phaseTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		channel:      channel,
		logger:       logger,
		phaseTimeout: phaseTimeout,
		cancels:      make(map[uuid.UUID]context.CancelFunc),
		waiters:      make(map[uuid.UUID]*phaseWaiter),
	}
}

// phaseWaiter tracks outstanding results for one in-flight phase.
type phaseWaiter struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
}

func newPhaseWaiter(pending int) *phaseWaiter {
	w := &phaseWaiter{pending: pending, done: make(chan struct{})}
	if pending == 0 {
		close(w.done)
	}
	return w
}

func (w *phaseWaiter) taskDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == 0 {
		return
	}
	w.pending--
	if w.pending == 0 {
		close(w.done)
	}
}

// Start validates the request, builds a dispatch plan, persists the execution
// with one pending result per planned task, and launches the background run.
// It returns as soon as the execution record exists.
func (s *Service) Start(ctx context.Context, req model.StartExecutionRequest, startedBy string) (model.Execution, error) {
	scenario, err := s.store.GetScenario(ctx, req.ScenarioID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Execution{}, ErrScenarioNotFound
		}
		return model.Execution{}, err
	}

	agents, err := s.resolveAgents(ctx, req.AgentPaws)
	if err != nil {
		return model.Execution{}, err
	}
	if len(agents) == 0 {
		return model.Execution{}, ErrNoEligibleAgents
	}

	techniques, err := s.store.GetTechniques(ctx, scenario.TechniqueIDs())
	if err != nil {
		return model.Execution{}, err
	}

	execID := uuid.New()
	plan := orchestrator.BuildPlan(execID, scenario, techniques, agents, req.SafeMode)
	for _, skip := range plan.Skipped {
		s.logger.Info("skipping technique for agent",
			"execution_id", execID, "technique_id", skip.TechniqueID,
			"paw", skip.AgentPaw, "reason", skip.Reason)
	}

	paws := make([]string, len(agents))
	for i, a := range agents {
		paws[i] = a.Paw
	}

	now := time.Now().UTC()
	exec := model.Execution{
		ID:         execID,
		ScenarioID: scenario.ID,
		AgentPaws:  paws,
		Status:     model.ExecutionRunning,
		SafeMode:   req.SafeMode,
		StartedBy:  startedBy,
		StartedAt:  now,
	}

	// A plan with nothing to dispatch completes on the spot with score 0.
	if plan.TaskCount() == 0 {
		zero := 0.0
		exec.Status = model.ExecutionCompleted
		exec.Score = &zero
		exec.CompletedAt = &now
		if err := s.store.CreateExecution(ctx, exec); err != nil {
			return model.Execution{}, err
		}
		s.logger.Info("execution completed with empty plan", "execution_id", execID)
		return exec, nil
	}

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return model.Execution{}, err
	}

	var results []model.Result
	for _, phase := range plan.Phases {
		for _, task := range phase.Tasks {
			results = append(results, model.Result{
				ID:           task.ID,
				ExecutionID:  execID,
				TechniqueID:  task.TechniqueID,
				AgentPaw:     task.AgentPaw,
				ExecutorName: task.Executor,
				Command:      task.Command,
				Status:       model.ResultPending,
				StartedAt:    now,
			})
		}
	}
	if err := s.store.CreateResults(ctx, results); err != nil {
		return model.Execution{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[execID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, execID, plan)

	s.logger.Info("execution started",
		"execution_id", execID, "scenario_id", scenario.ID,
		"agents", len(agents), "tasks", plan.TaskCount(), "safe_mode", req.SafeMode)
	return exec, nil
}

// resolveAgents expands the requested paws to online agents. Empty targeting
// means every agent currently online; explicit paws that are unknown or
// offline are dropped with a log line.
func (s *Service) resolveAgents(ctx context.Context, paws []string) ([]model.Agent, error) {
	if len(paws) == 0 {
		return s.store.ListAgents(ctx, model.AgentOnline)
	}

	var agents []model.Agent
	for _, paw := range paws {
		agent, err := s.store.GetAgent(ctx, paw)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("requested agent not found", "paw", paw)
				continue
			}
			return nil, err
		}
		if agent.Status != model.AgentOnline {
			s.logger.Warn("requested agent is offline", "paw", paw)
			continue
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// run walks the plan phase by phase. Phases execute strictly in order; tasks
// within a phase dispatch concurrently. The phase advances once every task has
// a terminal result or the phase deadline expires.
func (s *Service) run(ctx context.Context, execID uuid.UUID, plan orchestrator.Plan) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, execID)
		s.mu.Unlock()
	}()

	for _, phase := range plan.Phases {
		if ctx.Err() != nil {
			s.abortTasks(execID, phase.Tasks, "execution cancelled")
			continue
		}
		s.runPhase(ctx, execID, phase)
	}

	if ctx.Err() != nil {
		// Stop already moved the execution to cancelled.
		s.logger.Info("execution cancelled", "execution_id", execID)
		return
	}
	s.finalize(execID)
}

func (s *Service) runPhase(ctx context.Context, execID uuid.UUID, phase orchestrator.PlannedPhase) {
	waiter := newPhaseWaiter(len(phase.Tasks))
	s.mu.Lock()
	for _, task := range phase.Tasks {
		s.waiters[task.ID] = waiter
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		for _, task := range phase.Tasks {
			delete(s.waiters, task.ID)
		}
		s.mu.Unlock()
	}()

	s.logger.Debug("dispatching phase",
		"execution_id", execID, "phase", phase.Order, "tasks", len(phase.Tasks))

	g := &errgroup.Group{}
	g.SetLimit(dispatchConcurrency)
	for _, task := range phase.Tasks {
		task := task
		g.Go(func() error {
			s.dispatch(ctx, task, waiter)
			return nil
		})
	}
	_ = g.Wait() // dispatch failures become failed results, never errors

	timer := time.NewTimer(s.phaseTimeout)
	defer timer.Stop()
	select {
	case <-waiter.done:
	case <-timer.C:
		s.logger.Warn("phase deadline exceeded",
			"execution_id", execID, "phase", phase.Order)
		s.abortTasks(execID, phase.Tasks, "phase deadline exceeded")
	case <-ctx.Done():
		s.abortTasks(execID, phase.Tasks, "execution cancelled")
	}
}

// dispatch sends one task to its agent. Tasks are delivered at most once: an
// offline agent or a failed send writes an immediate failed result instead of
// queueing a retry.
func (s *Service) dispatch(ctx context.Context, task model.Task, waiter *phaseWaiter) {
	if !s.channel.AgentConnected(task.AgentPaw) {
		s.failTask(task, "agent offline", waiter)
		return
	}
	if err := s.channel.SendTask(task.AgentPaw, task); err != nil {
		s.logger.Warn("task send failed",
			"execution_id", task.ExecutionID, "task_id", task.ID,
			"paw", task.AgentPaw, "error", err)
		s.failTask(task, "agent offline", waiter)
		return
	}
	if err := s.store.MarkResultRunning(ctx, task.ID); err != nil {
		s.logger.Warn("mark result running", "task_id", task.ID, "error", err)
	}
}

func (s *Service) failTask(task model.Task, reason string, waiter *phaseWaiter) {
	ctx := context.Background()
	err := s.store.FinalizeResult(ctx, task.ID, model.ResultFailed, reason)
	switch {
	case err == nil:
		waiter.taskDone()
	case errors.Is(err, storage.ErrConflict):
		// Already terminal; its waiter signal was consumed elsewhere.
	default:
		s.logger.Error("finalize failed task", "task_id", task.ID, "error", err)
		waiter.taskDone()
	}
}

// abortTasks finalizes any still-open results of the given tasks as failed.
func (s *Service) abortTasks(execID uuid.UUID, tasks []model.Task, reason string) {
	ctx := context.Background()
	for _, task := range tasks {
		err := s.store.FinalizeResult(ctx, task.ID, model.ResultFailed, reason)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			s.logger.Error("abort task", "execution_id", execID, "task_id", task.ID, "error", err)
		}
	}
}

// finalize computes the score over all results and moves the execution to
// completed. Losing the race against a concurrent Stop is fine: the
// compare-and-set in the store keeps the first terminal status.
func (s *Service) finalize(execID uuid.UUID) {
	ctx := context.Background()
	results, err := s.store.ListResults(ctx, execID)
	if err != nil {
		s.logger.Error("list results for scoring", "execution_id", execID, "error", err)
		return
	}

	breakdown := orchestrator.Score(results)
	err = s.store.CompleteExecution(ctx, execID, model.ExecutionCompleted, &breakdown.Overall)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return
		}
		s.logger.Error("complete execution", "execution_id", execID, "error", err)
		return
	}
	s.logger.Info("execution completed",
		"execution_id", execID, "score", breakdown.Overall,
		"blocked", breakdown.Blocked, "detected", breakdown.Detected,
		"success", breakdown.Success, "total", breakdown.Total)
}

// IngestResult records an agent-reported outcome for a dispatched task and
// reports whether the result was accepted. Results are write-once: a late or
// duplicate report for an already-terminal result is discarded with a log
// line, never an error to the agent.
func (s *Service) IngestResult(ctx context.Context, taskID uuid.UUID, status model.ResultStatus, output string) bool {
	if !status.Terminal() {
		s.logger.Warn("ignoring non-terminal result status", "task_id", taskID, "status", status)
		return false
	}

	err := s.store.FinalizeResult(ctx, taskID, status, output)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Info("discarding late result", "task_id", taskID, "status", status)
		} else {
			s.logger.Error("finalize result", "task_id", taskID, "error", err)
		}
		return false
	}

	s.mu.Lock()
	waiter := s.waiters[taskID]
	s.mu.Unlock()
	if waiter != nil {
		waiter.taskDone()
	}
	return true
}

// Stop cancels a running execution. Outstanding tasks are failed, the
// execution moves to cancelled without a score, and any results arriving
// afterwards are discarded. Terminal executions return ErrAlreadyTerminal.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Execution{}, ErrNotFound
		}
		return model.Execution{}, err
	}
	if exec.Status.Terminal() {
		return model.Execution{}, ErrAlreadyTerminal
	}

	if err := s.store.CompleteExecution(ctx, id, model.ExecutionCancelled, nil); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Execution{}, ErrAlreadyTerminal
		}
		return model.Execution{}, err
	}

	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.logger.Info("execution stopped", "execution_id", id)
	return s.store.GetExecution(ctx, id)
}

// Get returns one execution.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Execution{}, ErrNotFound
		}
		return model.Execution{}, err
	}
	return exec, nil
}

// List returns executions newest first, optionally filtered by scenario.
func (s *Service) List(ctx context.Context, scenarioID string, limit, offset int) ([]model.Execution, int, error) {
	return s.store.ListExecutions(ctx, scenarioID, limit, offset)
}

// Results returns all results of one execution.
func (s *Service) Results(ctx context.Context, id uuid.UUID) ([]model.Result, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, id)
}

// Score returns the score breakdown of one execution computed from its
// current results, including the per-tactic split.
func (s *Service) Score(ctx context.Context, id uuid.UUID) (model.ScoreBreakdown, error) {
	results, err := s.Results(ctx, id)
	if err != nil {
		return model.ScoreBreakdown{}, err
	}
	breakdown := orchestrator.Score(results)

	techniques, err := s.store.GetTechniques(ctx, resultTechniqueIDs(results))
	if err != nil {
		return model.ScoreBreakdown{}, err
	}
	breakdown.ByTactic = orchestrator.ScoreByTactic(results, techniques)
	return breakdown, nil
}

func resultTechniqueIDs(results []model.Result) []string {
	seen := make(map[string]bool, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.TechniqueID] {
			seen[r.TechniqueID] = true
			ids = append(ids, r.TechniqueID)
		}
	}
	return ids
}

// Close cancels all in-flight executions and waits for their runners to exit.
func (s *Service) Close() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
