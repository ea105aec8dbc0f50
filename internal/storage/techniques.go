package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/breachline/breachline/internal/model"
)

// UpsertTechnique inserts or replaces a catalog technique keyed by its ID.
func (db *DB) UpsertTechnique(ctx context.Context, t model.Technique) error {
	executors, err := json.Marshal(t.Executors)
	if err != nil {
		return fmt.Errorf("storage: marshal executors: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO techniques (id, name, description, tactics, platforms, executors, is_safe)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   tactics = EXCLUDED.tactics,
		   platforms = EXCLUDED.platforms,
		   executors = EXCLUDED.executors,
		   is_safe = EXCLUDED.is_safe`,
		t.ID, t.Name, t.Description, t.Tactics, t.Platforms, executors, t.IsSafe,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert technique: %w", err)
	}
	return nil
}

// GetTechnique retrieves a technique by ID.
func (db *DB) GetTechnique(ctx context.Context, id string) (model.Technique, error) {
	var t model.Technique
	var executors []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, description, tactics, platforms, executors, is_safe
		 FROM techniques WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.Tactics, &t.Platforms, &executors, &t.IsSafe)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Technique{}, ErrNotFound
		}
		return model.Technique{}, fmt.Errorf("storage: get technique: %w", err)
	}
	if err := json.Unmarshal(executors, &t.Executors); err != nil {
		return model.Technique{}, fmt.Errorf("storage: unmarshal executors: %w", err)
	}
	return t, nil
}

// GetTechniques retrieves multiple techniques by ID, keyed by ID in the
// result. Missing IDs are simply absent from the map.
func (db *DB) GetTechniques(ctx context.Context, ids []string) (map[string]model.Technique, error) {
	if len(ids) == 0 {
		return map[string]model.Technique{}, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, description, tactics, platforms, executors, is_safe
		 FROM techniques WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get techniques: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Technique, len(ids))
	for rows.Next() {
		var t model.Technique
		var executors []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Tactics, &t.Platforms, &executors, &t.IsSafe); err != nil {
			return nil, fmt.Errorf("storage: scan technique: %w", err)
		}
		if err := json.Unmarshal(executors, &t.Executors); err != nil {
			return nil, fmt.Errorf("storage: unmarshal executors: %w", err)
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

// ListTechniques returns catalog techniques, optionally filtered by tactic
// and/or platform. Empty filters match everything.
func (db *DB) ListTechniques(ctx context.Context, tactic, platform string) ([]model.Technique, error) {
	query := `SELECT id, name, description, tactics, platforms, executors, is_safe FROM techniques`
	var args []any
	var where []string
	if tactic != "" {
		args = append(args, tactic)
		where = append(where, fmt.Sprintf("$%d = ANY(tactics)", len(args)))
	}
	if platform != "" {
		args = append(args, platform)
		where = append(where, fmt.Sprintf("$%d = ANY(platforms)", len(args)))
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY id"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list techniques: %w", err)
	}
	defer rows.Close()

	var techniques []model.Technique
	for rows.Next() {
		var t model.Technique
		var executors []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Tactics, &t.Platforms, &executors, &t.IsSafe); err != nil {
			return nil, fmt.Errorf("storage: scan technique: %w", err)
		}
		if err := json.Unmarshal(executors, &t.Executors); err != nil {
			return nil, fmt.Errorf("storage: unmarshal executors: %w", err)
		}
		techniques = append(techniques, t)
	}
	return techniques, rows.Err()
}
