package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/breachline/breachline/internal/model"
)

// UpsertAgent inserts an agent or refreshes an existing one keyed by paw.
// Registration and re-registration share this path.
func (db *DB) UpsertAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	now := time.Now().UTC()
	agent.LastSeen = now
	agent.UpdatedAt = now
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.Status == "" {
		agent.Status = model.AgentOnline
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (paw, hostname, username, platform, executors, status, last_seen, ip_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (paw) DO UPDATE SET
		   hostname = EXCLUDED.hostname,
		   username = EXCLUDED.username,
		   platform = EXCLUDED.platform,
		   executors = EXCLUDED.executors,
		   status = EXCLUDED.status,
		   last_seen = EXCLUDED.last_seen,
		   ip_address = EXCLUDED.ip_address,
		   updated_at = EXCLUDED.updated_at`,
		agent.Paw, agent.Hostname, agent.Username, agent.Platform, agent.Executors,
		string(agent.Status), agent.LastSeen, agent.IPAddress, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: upsert agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent by paw.
func (db *DB) GetAgent(ctx context.Context, paw string) (model.Agent, error) {
	var a model.Agent
	err := db.pool.QueryRow(ctx,
		`SELECT paw, hostname, username, platform, executors, status, last_seen, ip_address, created_at, updated_at
		 FROM agents WHERE paw = $1`, paw,
	).Scan(
		&a.Paw, &a.Hostname, &a.Username, &a.Platform, &a.Executors,
		&a.Status, &a.LastSeen, &a.IPAddress, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, ErrNotFound
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents, optionally filtered by status.
// Pass an empty status to list everything.
func (db *DB) ListAgents(ctx context.Context, status model.AgentStatus) ([]model.Agent, error) {
	query := `SELECT paw, hostname, username, platform, executors, status, last_seen, ip_address, created_at, updated_at
	          FROM agents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY paw`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var a model.Agent
		if err := rows.Scan(
			&a.Paw, &a.Hostname, &a.Username, &a.Platform, &a.Executors,
			&a.Status, &a.LastSeen, &a.IPAddress, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// TouchAgent records a heartbeat: bumps last_seen and forces status online.
func (db *DB) TouchAgent(ctx context.Context, paw string) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET last_seen = $1, status = $2, updated_at = $1 WHERE paw = $3`,
		now, string(model.AgentOnline), paw,
	)
	if err != nil {
		return fmt.Errorf("storage: touch agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAgentStatus updates an agent's status.
func (db *DB) SetAgentStatus(ctx context.Context, paw string, status model.AgentStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = $2 WHERE paw = $3`,
		string(status), time.Now().UTC(), paw,
	)
	if err != nil {
		return fmt.Errorf("storage: set agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStaleAgentsOffline flips agents whose last_seen is older than the cutoff
// to offline and returns their paws.
func (db *DB) MarkStaleAgentsOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE agents SET status = $1, updated_at = $2
		 WHERE status = $3 AND last_seen < $4
		 RETURNING paw`,
		string(model.AgentOffline), time.Now().UTC(), string(model.AgentOnline), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: mark stale agents: %w", err)
	}
	defer rows.Close()

	var paws []string
	for rows.Next() {
		var paw string
		if err := rows.Scan(&paw); err != nil {
			return nil, fmt.Errorf("storage: scan paw: %w", err)
		}
		paws = append(paws, paw)
	}
	return paws, rows.Err()
}

// DeleteAgent removes an agent by paw.
func (db *DB) DeleteAgent(ctx context.Context, paw string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM agents WHERE paw = $1`, paw)
	if err != nil {
		return fmt.Errorf("storage: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
