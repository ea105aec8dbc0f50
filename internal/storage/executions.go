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

// CreateExecution inserts a new execution row.
func (db *DB) CreateExecution(ctx context.Context, exec model.Execution) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO executions (id, scenario_id, agent_paws, status, safe_mode, score, started_by, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exec.ID, exec.ScenarioID, exec.AgentPaws, string(exec.Status), exec.SafeMode,
		exec.Score, exec.StartedBy, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.Execution, error) {
	var e model.Execution
	err := db.pool.QueryRow(ctx,
		`SELECT id, scenario_id, agent_paws, status, safe_mode, score, started_by, started_at, completed_at
		 FROM executions WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.ScenarioID, &e.AgentPaws, &e.Status, &e.SafeMode,
		&e.Score, &e.StartedBy, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Execution{}, ErrNotFound
		}
		return model.Execution{}, fmt.Errorf("storage: get execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions ordered by started_at DESC, newest first,
// optionally filtered by scenario.
func (db *DB) ListExecutions(ctx context.Context, scenarioID string, limit, offset int) ([]model.Execution, int, error) {
	if limit <= 0 {
		limit = 50
	}

	countQuery := `SELECT COUNT(*) FROM executions`
	listQuery := `SELECT id, scenario_id, agent_paws, status, safe_mode, score, started_by, started_at, completed_at
	              FROM executions`
	var countArgs, listArgs []any
	if scenarioID != "" {
		countQuery += ` WHERE scenario_id = $1`
		listQuery += ` WHERE scenario_id = $1`
		countArgs = append(countArgs, scenarioID)
		listArgs = append(listArgs, scenarioID)
	}
	listArgs = append(listArgs, limit, offset)
	listQuery += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, len(listArgs)-1, len(listArgs))

	var total int
	if err := db.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count executions: %w", err)
	}

	rows, err := db.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list executions: %w", err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		var e model.Execution
		if err := rows.Scan(
			&e.ID, &e.ScenarioID, &e.AgentPaws, &e.Status, &e.SafeMode,
			&e.Score, &e.StartedBy, &e.StartedAt, &e.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	return execs, total, rows.Err()
}

// CompleteExecution moves a running execution to a terminal status, recording
// the score and completion time. It is a no-op with ErrConflict if the
// execution is already terminal, which makes completion race-safe.
func (db *DB) CompleteExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus, score *float64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE executions SET status = $1, score = $2, completed_at = $3
		 WHERE id = $4 AND status IN ('pending', 'running')`,
		string(status), score, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: complete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SetExecutionStatus updates a non-terminal execution's status without
// touching score or completion time.
func (db *DB) SetExecutionStatus(ctx context.Context, id uuid.UUID, status model.ExecutionStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE executions SET status = $1 WHERE id = $2 AND status IN ('pending', 'running')`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set execution status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// CreateResults batch-inserts pending result rows for an execution.
func (db *DB) CreateResults(ctx context.Context, results []model.Result) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`INSERT INTO results (id, execution_id, technique_id, agent_paw, executor_name, command, status, output, started_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, r.ExecutionID, r.TechniqueID, r.AgentPaw, r.ExecutorName,
			r.Command, string(r.Status), r.Output, r.StartedAt, r.CompletedAt,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("storage: create results: %w", err)
		}
	}
	return nil
}

// GetResult retrieves a result by ID.
func (db *DB) GetResult(ctx context.Context, id uuid.UUID) (model.Result, error) {
	var r model.Result
	err := db.pool.QueryRow(ctx,
		`SELECT id, execution_id, technique_id, agent_paw, executor_name, command, status, output, started_at, completed_at
		 FROM results WHERE id = $1`, id,
	).Scan(
		&r.ID, &r.ExecutionID, &r.TechniqueID, &r.AgentPaw, &r.ExecutorName,
		&r.Command, &r.Status, &r.Output, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Result{}, ErrNotFound
		}
		return model.Result{}, fmt.Errorf("storage: get result: %w", err)
	}
	return r, nil
}

// ListResults returns all results for an execution ordered by started_at.
func (db *DB) ListResults(ctx context.Context, executionID uuid.UUID) ([]model.Result, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, execution_id, technique_id, agent_paw, executor_name, command, status, output, started_at, completed_at
		 FROM results WHERE execution_id = $1 ORDER BY started_at, id`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var r model.Result
		if err := rows.Scan(
			&r.ID, &r.ExecutionID, &r.TechniqueID, &r.AgentPaw, &r.ExecutorName,
			&r.Command, &r.Status, &r.Output, &r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FinalizeResult writes a terminal status and output to a result that is not
// yet terminal. Returns ErrConflict if the result was already finalized, so a
// late or duplicate callback never overwrites the first outcome.
func (db *DB) FinalizeResult(ctx context.Context, id uuid.UUID, status model.ResultStatus, output string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE results SET status = $1, output = $2, completed_at = $3
		 WHERE id = $4 AND status IN ('pending', 'running')`,
		string(status), output, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkResultRunning flips a pending result to running when its task is
// dispatched. Already-terminal results are left untouched.
func (db *DB) MarkResultRunning(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE results SET status = 'running' WHERE id = $1 AND status = 'pending'`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: mark result running: %w", err)
	}
	return nil
}
