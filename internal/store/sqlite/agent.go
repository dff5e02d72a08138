package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/agentcore/internal/domain"
)

// agentRepository is a type-converted view over Repository's connections,
// following the teacher's pattern of exposing operation groups as methods
// on the same underlying struct rather than separate types with their own
// connections.
type agentRepository Repository

type agentRow struct {
	ID            string         `db:"id"`
	Type          string         `db:"type"`
	Status        string         `db:"status"`
	Prompt        string         `db:"prompt"`
	Configuration string         `db:"configuration"`
	CreatedAt     sql.NullTime   `db:"created_at"`
	StartedAt     sql.NullTime   `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	ErrorName     sql.NullString `db:"error_name"`
	ErrorMessage  sql.NullString `db:"error_message"`
}

func (r *agentRepository) repo() *Repository { return (*Repository)(r) }

// Save upserts the agent: an existing id is updated in place so that
// message FK children are never orphaned by a delete+recreate (spec §4.2).
func (r *agentRepository) Save(ctx context.Context, agent *domain.Agent) error {
	configJSON, err := json.Marshal(agent.Configuration)
	if err != nil {
		return fmt.Errorf("marshal agent configuration: %w", err)
	}

	var errKind, errMessage sql.NullString
	if agent.Error != nil {
		errKind = sql.NullString{String: agent.Error.Kind, Valid: true}
		errMessage = sql.NullString{String: agent.Error.Message, Valid: true}
	}

	db := r.repo().db
	_, err = db.ExecContext(ctx, db.Rebind(`
		INSERT INTO agents (id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			prompt = excluded.prompt,
			configuration = excluded.configuration,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error_name = excluded.error_name,
			error_message = excluded.error_message
	`), agent.ID, string(agent.Type), string(agent.Status), agent.Prompt, string(configJSON),
		agent.CreatedAt, nullableTime(agent.StartedAt), nullableTime(agent.CompletedAt), errKind, errMessage)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (r *agentRepository) FindByID(ctx context.Context, id string) (*domain.Agent, error) {
	ro := r.repo().ro
	var row agentRow
	err := ro.GetContext(ctx, &row, ro.Rebind(`SELECT id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message FROM agents WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("agent not found: " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("find agent by id: %w", err)
	}
	return rowToAgent(row)
}

func (r *agentRepository) FindAll(ctx context.Context) ([]*domain.Agent, error) {
	return r.query(ctx, `SELECT id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message FROM agents ORDER BY created_at DESC`)
}

func (r *agentRepository) FindByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.Agent, error) {
	ro := r.repo().ro
	return r.query(ctx, ro.Rebind(`SELECT id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message FROM agents WHERE status = ? ORDER BY created_at DESC`), string(status))
}

func (r *agentRepository) FindByType(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error) {
	ro := r.repo().ro
	return r.query(ctx, ro.Rebind(`SELECT id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message FROM agents WHERE type = ? ORDER BY created_at DESC`), string(agentType))
}

func (r *agentRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Agent, error) {
	var rows []agentRow
	if err := r.repo().ro.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	agents := make([]*domain.Agent, 0, len(rows))
	for _, row := range rows {
		agent, err := rowToAgent(row)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

func (r *agentRepository) Delete(ctx context.Context, id string) error {
	db := r.repo().db
	result, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("agent not found: " + id)
	}
	return nil
}

func (r *agentRepository) Exists(ctx context.Context, id string) (bool, error) {
	ro := r.repo().ro
	var count int
	if err := ro.GetContext(ctx, &count, ro.Rebind(`SELECT COUNT(1) FROM agents WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("check agent exists: %w", err)
	}
	return count > 0, nil
}

func rowToAgent(row agentRow) (*domain.Agent, error) {
	var config domain.AgentConfig
	if row.Configuration != "" {
		if err := json.Unmarshal([]byte(row.Configuration), &config); err != nil {
			return nil, fmt.Errorf("unmarshal agent configuration: %w", err)
		}
	}

	agent := &domain.Agent{
		ID:            row.ID,
		Type:          domain.AgentType(row.Type),
		Status:        domain.AgentStatus(row.Status),
		Prompt:        row.Prompt,
		Configuration: config,
		CreatedAt:     row.CreatedAt.Time,
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		agent.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		agent.CompletedAt = &t
	}
	if row.ErrorName.Valid {
		agent.Error = &domain.AgentError{Kind: row.ErrorName.String, Message: row.ErrorMessage.String}
	}
	return agent, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
