package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/breachline/breachline/internal/model"
)

// UpsertScenario inserts or replaces a scenario keyed by its ID.
func (db *DB) UpsertScenario(ctx context.Context, s model.Scenario) error {
	phases, err := json.Marshal(s.Phases)
	if err != nil {
		return fmt.Errorf("storage: marshal phases: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO scenarios (id, name, description, phases, tags, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   phases = EXCLUDED.phases,
		   tags = EXCLUDED.tags,
		   updated_at = EXCLUDED.updated_at`,
		s.ID, s.Name, s.Description, phases, s.Tags, s.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert scenario: %w", err)
	}
	return nil
}

// GetScenario retrieves a scenario by ID.
func (db *DB) GetScenario(ctx context.Context, id string) (model.Scenario, error) {
	var s model.Scenario
	var phases []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, description, phases, tags, created_at, updated_at
		 FROM scenarios WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Description, &phases, &s.Tags, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Scenario{}, ErrNotFound
		}
		return model.Scenario{}, fmt.Errorf("storage: get scenario: %w", err)
	}
	if err := json.Unmarshal(phases, &s.Phases); err != nil {
		return model.Scenario{}, fmt.Errorf("storage: unmarshal phases: %w", err)
	}
	return s, nil
}

// ListScenarios returns all scenarios ordered by ID.
func (db *DB) ListScenarios(ctx context.Context) ([]model.Scenario, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, description, phases, tags, created_at, updated_at
		 FROM scenarios ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []model.Scenario
	for rows.Next() {
		var s model.Scenario
		var phases []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &phases, &s.Tags, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan scenario: %w", err)
		}
		if err := json.Unmarshal(phases, &s.Phases); err != nil {
			return nil, fmt.Errorf("storage: unmarshal phases: %w", err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, rows.Err()
}

// DeleteScenario removes a scenario by ID.
func (db *DB) DeleteScenario(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM scenarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete scenario: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
