// Package scheduler manages recurring and one-shot schedules that start
// scenario executions. A background poller wakes on a fixed tick, finds due
// schedules, and fires them; every firing is recorded as a schedule run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/storage"
)

// Store is the persistence surface the scheduler depends on.
type Store interface {
	GetScenario(ctx context.Context, id string) (model.Scenario, error)
	CreateSchedule(ctx context.Context, s model.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	UpdateSchedule(ctx context.Context, s model.Schedule) error
	SetScheduleStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	FindDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error)
	ConsumeScheduleTrigger(ctx context.Context, id, runID uuid.UUID, firedAt time.Time, nextRunAt *time.Time, status model.ScheduleStatus) error
	CreateScheduleRun(ctx context.Context, run model.ScheduleRun) error
	ListScheduleRuns(ctx context.Context, scheduleID uuid.UUID, limit int) ([]model.ScheduleRun, error)
}

// Starter starts scenario executions. *execution.Service satisfies it.
type Starter interface {
	Start(ctx context.Context, req model.StartExecutionRequest, startedBy string) (model.Execution, error)
}

// Service owns schedule CRUD and the background poller.
type Service struct {
	store   Store
	starter Starter
	tick    time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService creates a scheduler service. Start must be called to begin
// polling.
func NewService(store Store, starter Starter, tick time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		starter: starter,
		tick:    tick,
		logger:  logger,
	}
}

// Start launches the background poller. Calling Start on a running service
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopChan)
	s.logger.Info("scheduler started", "tick", s.tick)
}

// Stop halts the poller and waits for an in-progress sweep to finish.
// Calling Stop on a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context, stopChan chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopChan:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep fires every schedule that is due right now.
func (s *Service) sweep(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.FindDueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("find due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire runs one due schedule. The trigger is consumed whether or not the
// execution starts: a failing scenario must not wedge the poller into
// retrying the same schedule every tick.
func (s *Service) fire(ctx context.Context, sched model.Schedule, now time.Time) {
	runID := uuid.New()
	run := model.ScheduleRun{
		ID:         runID,
		ScheduleID: sched.ID,
		Status:     model.ScheduleRunStarted,
		StartedAt:  now,
	}

	exec, err := s.starter.Start(ctx, model.StartExecutionRequest{
		ScenarioID: sched.ScenarioID,
		AgentPaws:  targetPaws(sched),
		SafeMode:   sched.SafeMode,
	}, "schedule:"+sched.ID.String())
	if err != nil {
		completed := time.Now().UTC()
		run.Status = model.ScheduleRunFailed
		run.Error = err.Error()
		run.CompletedAt = &completed
		s.logger.Warn("scheduled execution failed to start",
			"schedule_id", sched.ID, "scenario_id", sched.ScenarioID, "error", err)
	} else {
		run.ExecutionID = &exec.ID
		s.logger.Info("schedule fired",
			"schedule_id", sched.ID, "execution_id", exec.ID)
	}

	if err := s.store.CreateScheduleRun(ctx, run); err != nil {
		s.logger.Error("record schedule run", "schedule_id", sched.ID, "error", err)
	}

	// Next run is computed from now, not from the missed slot, so a stalled
	// poller never fires a burst of catch-up runs.
	status := sched.Status
	var nextPtr *time.Time
	if sched.Frequency == model.FrequencyOnce {
		status = model.ScheduleDisabled
	} else {
		next, err := NextRun(sched.Frequency, sched.CronExpr, now)
		if err != nil {
			s.logger.Error("compute next run", "schedule_id", sched.ID, "error", err)
			status = model.ScheduleDisabled
		} else {
			nextPtr = &next
		}
	}
	if err := s.store.ConsumeScheduleTrigger(ctx, sched.ID, runID, now, nextPtr, status); err != nil {
		s.logger.Error("consume schedule trigger", "schedule_id", sched.ID, "error", err)
	}
}

func targetPaws(sched model.Schedule) []string {
	if sched.AgentPaw == "" {
		return nil
	}
	return []string{sched.AgentPaw}
}

// Create validates and persists a new schedule. Validation failures leave no
// trace in storage.
func (s *Service) Create(ctx context.Context, req model.ScheduleRequest, createdBy string) (model.Schedule, error) {
	if err := s.validate(ctx, req); err != nil {
		return model.Schedule{}, err
	}

	now := time.Now().UTC()
	next, err := firstRunAt(req, now)
	if err != nil {
		return model.Schedule{}, err
	}

	sched := model.Schedule{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		ScenarioID:  req.ScenarioID,
		AgentPaw:    req.AgentPaw,
		Frequency:   req.Frequency,
		CronExpr:    req.CronExpr,
		SafeMode:    req.SafeMode,
		Status:      model.ScheduleActive,
		NextRunAt:   next,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return model.Schedule{}, err
	}
	s.logger.Info("schedule created",
		"schedule_id", sched.ID, "scenario_id", sched.ScenarioID,
		"frequency", sched.Frequency, "next_run_at", sched.NextRunAt)
	return sched, nil
}

func (s *Service) validate(ctx context.Context, req model.ScheduleRequest) error {
	if !req.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, req.Frequency)
	}
	if req.Frequency == model.FrequencyCron {
		if err := ValidateCron(req.CronExpr); err != nil {
			return err
		}
	}
	if _, err := s.store.GetScenario(ctx, req.ScenarioID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrScenarioNotFound
		}
		return err
	}
	return nil
}

// firstRunAt resolves the initial next_run_at. An explicit StartAt wins only
// while it is still in the future; a stale StartAt is replaced by a fresh
// occurrence computed from now. One-shot schedules without a usable StartAt
// fire at the next poller tick.
func firstRunAt(req model.ScheduleRequest, now time.Time) (*time.Time, error) {
	if req.StartAt != nil && req.StartAt.After(now) {
		t := req.StartAt.UTC()
		return &t, nil
	}
	if req.Frequency == model.FrequencyOnce {
		return &now, nil
	}
	next, err := NextRun(req.Frequency, req.CronExpr, now)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Schedule{}, ErrScheduleNotFound
		}
		return model.Schedule{}, err
	}
	return sched, nil
}

// List returns all schedules, optionally filtered by status.
func (s *Service) List(ctx context.Context, status model.ScheduleStatus) ([]model.Schedule, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return schedules, nil
	}
	filtered := schedules[:0]
	for _, sched := range schedules {
		if sched.Status == status {
			filtered = append(filtered, sched)
		}
	}
	return filtered, nil
}

// Update rewrites a schedule's definition and recomputes its next run.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req model.ScheduleRequest) (model.Schedule, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	if err := s.validate(ctx, req); err != nil {
		return model.Schedule{}, err
	}

	next, err := firstRunAt(req, time.Now().UTC())
	if err != nil {
		return model.Schedule{}, err
	}

	sched.Name = req.Name
	sched.Description = req.Description
	sched.ScenarioID = req.ScenarioID
	sched.AgentPaw = req.AgentPaw
	sched.Frequency = req.Frequency
	sched.CronExpr = req.CronExpr
	sched.SafeMode = req.SafeMode
	sched.NextRunAt = next
	if sched.Status == model.ScheduleDisabled {
		// Redefining a spent one-shot re-arms it.
		sched.Status = model.ScheduleActive
	}

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Schedule{}, ErrScheduleNotFound
		}
		return model.Schedule{}, err
	}
	return s.Get(ctx, id)
}

// Delete removes a schedule and its run history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrScheduleNotFound
		}
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// Pause suspends an active schedule. Paused schedules are never picked up by
// the poller.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	if sched.Status == model.ScheduleDisabled {
		return model.Schedule{}, ErrScheduleDisabled
	}
	if err := s.store.SetScheduleStatus(ctx, id, model.SchedulePaused); err != nil {
		return model.Schedule{}, err
	}
	return s.Get(ctx, id)
}

// Resume reactivates a paused schedule. The next run is always recomputed
// from the current time, so resuming never fires a backlog and never keeps a
// cadence that was set before the pause.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	if sched.Status == model.ScheduleDisabled {
		return model.Schedule{}, ErrScheduleDisabled
	}
	if sched.Status == model.ScheduleActive {
		return sched, nil
	}

	now := time.Now().UTC()
	if sched.Frequency == model.FrequencyOnce {
		sched.NextRunAt = &now
	} else {
		next, err := NextRun(sched.Frequency, sched.CronExpr, now)
		if err != nil {
			return model.Schedule{}, err
		}
		sched.NextRunAt = &next
	}
	sched.Status = model.ScheduleActive
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return model.Schedule{}, err
	}
	return s.Get(ctx, id)
}

// RunNow fires a schedule immediately, outside its cadence. The firing is
// recorded as a schedule run but next_run_at and status are left untouched.
// Disabled schedules refuse it; redefine the schedule to re-arm it first.
func (s *Service) RunNow(ctx context.Context, id uuid.UUID) (model.ScheduleRun, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return model.ScheduleRun{}, err
	}
	if sched.Status == model.ScheduleDisabled {
		return model.ScheduleRun{}, ErrScheduleDisabled
	}

	now := time.Now().UTC()
	runID := uuid.New()
	run := model.ScheduleRun{
		ID:         runID,
		ScheduleID: sched.ID,
		Status:     model.ScheduleRunStarted,
		StartedAt:  now,
	}

	exec, err := s.starter.Start(ctx, model.StartExecutionRequest{
		ScenarioID: sched.ScenarioID,
		AgentPaws:  targetPaws(sched),
		SafeMode:   sched.SafeMode,
	}, "schedule:"+sched.ID.String())
	if err != nil {
		completed := time.Now().UTC()
		run.Status = model.ScheduleRunFailed
		run.Error = err.Error()
		run.CompletedAt = &completed
	} else {
		run.ExecutionID = &exec.ID
	}

	if err := s.store.CreateScheduleRun(ctx, run); err != nil {
		return model.ScheduleRun{}, err
	}
	if err := s.store.ConsumeScheduleTrigger(ctx, sched.ID, runID, now, sched.NextRunAt, sched.Status); err != nil {
		s.logger.Error("record on-demand run", "schedule_id", sched.ID, "error", err)
	}
	return run, nil
}

// Runs returns the firing history of a schedule, newest first.
func (s *Service) Runs(ctx context.Context, id uuid.UUID, limit int) ([]model.ScheduleRun, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListScheduleRuns(ctx, id, limit)
}
