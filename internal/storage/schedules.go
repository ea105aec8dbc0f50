package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/breachline/breachline/internal/model"
)

const scheduleColumns = `id, name, description, scenario_id, agent_paw, frequency, cron_expr,
	safe_mode, status, next_run_at, last_run_at, last_run_id, created_by, created_at, updated_at`

func scanSchedule(row pgx.Row) (model.Schedule, error) {
	var s model.Schedule
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.ScenarioID, &s.AgentPaw, &s.Frequency, &s.CronExpr,
		&s.SafeMode, &s.Status, &s.NextRunAt, &s.LastRunAt, &s.LastRunID, &s.CreatedBy,
		&s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// CreateSchedule inserts a new schedule row.
func (db *DB) CreateSchedule(ctx context.Context, s model.Schedule) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.Name, s.Description, s.ScenarioID, s.AgentPaw, string(s.Frequency), s.CronExpr,
		s.SafeMode, string(s.Status), s.NextRunAt, s.LastRunAt, s.LastRunID, s.CreatedBy,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (db *DB) GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	s, err := scanSchedule(db.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Schedule{}, ErrNotFound
		}
		return model.Schedule{}, fmt.Errorf("storage: get schedule: %w", err)
	}
	return s, nil
}

// ListSchedules returns all schedules ordered by creation time.
func (db *DB) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// UpdateSchedule rewrites a schedule's mutable definition fields.
func (db *DB) UpdateSchedule(ctx context.Context, s model.Schedule) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE schedules SET name = $1, description = $2, scenario_id = $3, agent_paw = $4,
		   frequency = $5, cron_expr = $6, safe_mode = $7, status = $8, next_run_at = $9, updated_at = $10
		 WHERE id = $11`,
		s.Name, s.Description, s.ScenarioID, s.AgentPaw, string(s.Frequency), s.CronExpr,
		s.SafeMode, string(s.Status), s.NextRunAt, time.Now().UTC(), s.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScheduleStatus updates only the lifecycle status of a schedule.
func (db *DB) SetScheduleStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE schedules SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set schedule status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule and its run history.
func (db *DB) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDueSchedules returns active schedules whose next_run_at is at or before
// the given instant.
func (db *DB) FindDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ConsumeScheduleTrigger advances a schedule past one firing: records the run
// bookkeeping and the new next_run_at (nil for one-shot schedules), plus an
// optional status transition (once -> disabled).
func (db *DB) ConsumeScheduleTrigger(ctx context.Context, id uuid.UUID, runID uuid.UUID, firedAt time.Time, nextRunAt *time.Time, status model.ScheduleStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE schedules SET last_run_at = $1, last_run_id = $2, next_run_at = $3, status = $4, updated_at = $5
		 WHERE id = $6`,
		firedAt, runID, nextRunAt, string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: consume schedule trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateScheduleRun inserts an audit record for one trigger firing.
func (db *DB) CreateScheduleRun(ctx context.Context, run model.ScheduleRun) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO schedule_runs (id, schedule_id, execution_id, status, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.ScheduleID, run.ExecutionID, string(run.Status), run.Error,
		run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create schedule run: %w", err)
	}
	return nil
}

// ListScheduleRuns returns the run history of a schedule, newest first.
func (db *DB) ListScheduleRuns(ctx context.Context, scheduleID uuid.UUID, limit int) ([]model.ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, schedule_id, execution_id, status, error, started_at, completed_at
		 FROM schedule_runs WHERE schedule_id = $1
		 ORDER BY started_at DESC LIMIT $2`, scheduleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list schedule runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ScheduleRun
	for rows.Next() {
		var r model.ScheduleRun
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.ExecutionID, &r.Status, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("storage: scan schedule run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
