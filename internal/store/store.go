// Package store defines the persistence contracts for agents and their
// messages (spec §4.1, §4.2). The concrete backend is store/sqlite, whose
// Repository serves both the SQLite and the Postgres driver.
package store

import (
	"context"

	"github.com/kandev/agentcore/internal/domain"
)

// MessageStore is the append-only message log, owned exclusively by the
// persistence layer. Sequence allocation happens atomically inside Append.
type MessageStore interface {
	// Append assigns the next sequence number for dto.AgentID and persists
	// the message. Returns a domain.Error of KindAgentNotFoundOnAppend if no
	// such agent exists (FK violation).
	Append(ctx context.Context, dto domain.NewMessageDto) (*domain.AgentMessage, error)

	// ListByAgent returns every message for agentID in ascending sequence order.
	ListByAgent(ctx context.Context, agentID string) ([]*domain.AgentMessage, error)

	// ListSince returns messages for agentID with sequenceNumber > sinceSeq,
	// in ascending order.
	ListSince(ctx context.Context, agentID string, sinceSeq int64) ([]*domain.AgentMessage, error)
}

// AgentRepository owns the Agent entity table (spec §4.2). Save is an
// upsert: an existing id is updated in place, never re-inserted, so that
// message FK children are never orphaned by an accidental delete+recreate.
type AgentRepository interface {
	Save(ctx context.Context, agent *domain.Agent) error
	FindByID(ctx context.Context, id string) (*domain.Agent, error)
	FindAll(ctx context.Context) ([]*domain.Agent, error)
	FindByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.Agent, error)
	FindByType(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Store bundles both repositories behind one handle for composition-root
// wiring and lifecycle management (Close).
type Store interface {
	Agents() AgentRepository
	Messages() MessageStore
	Close() error
}
