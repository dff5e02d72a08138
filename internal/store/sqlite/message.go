package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentcore/internal/db/dialect"
	"github.com/kandev/agentcore/internal/domain"
)

// messageStore is a type-converted view over Repository's connections,
// mirroring agentRepository's pattern.
type messageStore Repository

func (m *messageStore) repo() *Repository { return (*Repository)(m) }

type messageRow struct {
	ID             string         `db:"id"`
	AgentID        string         `db:"agent_id"`
	SequenceNumber int64          `db:"sequence_number"`
	Type           string         `db:"type"`
	Role           sql.NullString `db:"role"`
	Content        string         `db:"content"`
	Raw            sql.NullString `db:"raw"`
	Metadata       sql.NullString `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

// Append allocates the next sequence number for dto.AgentID inside the
// INSERT statement itself (spec §4.1: "atomic allocation inside the same
// insertion statement"). For SQLite, the writer pool's single connection
// serializes this subselect-then-insert against every other writer; for
// Postgres, the agent row is locked first so the MAX computation and the
// insert observe a consistent snapshot.
func (m *messageStore) Append(ctx context.Context, dto domain.NewMessageDto) (*domain.AgentMessage, error) {
	content, err := canonicalizeContent(dto.Content)
	if err != nil {
		return nil, fmt.Errorf("canonicalize message content: %w", err)
	}

	metadataJSON := ""
	if dto.Metadata != nil {
		raw, err := json.Marshal(dto.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal message metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	repo := m.repo()
	if repo.isPostgres() {
		return m.appendPostgres(ctx, id, now, dto, content, metadataJSON)
	}
	return m.appendSQLite(ctx, id, now, dto, content, metadataJSON)
}

func (m *messageStore) appendSQLite(ctx context.Context, id string, now time.Time, dto domain.NewMessageDto, content, metadataJSON string) (*domain.AgentMessage, error) {
	db := m.repo().db
	_, err := db.ExecContext(ctx, `
		INSERT INTO agent_messages (id, agent_id, sequence_number, type, role, content, raw, metadata, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM agent_messages WHERE agent_id = ?), ?, ?, ?, ?, ?, ?)
	`, id, dto.AgentID, dto.AgentID, string(dto.Type), nullString(dto.Role), content, nullString(dto.Raw), nullString(metadataJSON), now)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.NewAgentNotFoundOnAppendError(dto.AgentID)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	var seq int64
	if err := db.GetContext(ctx, &seq, db.Rebind(`SELECT sequence_number FROM agent_messages WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("read back assigned sequence: %w", err)
	}

	return &domain.AgentMessage{
		ID: id, AgentID: dto.AgentID, SequenceNumber: seq, Type: dto.Type,
		Role: dto.Role, Content: content, Raw: dto.Raw, Metadata: dto.Metadata, CreatedAt: now,
	}, nil
}

// appendPostgres locks the parent agent row for the duration of the
// transaction so two concurrent appends for the same agent serialize on
// that lock rather than racing the MAX(sequence_number) read.
func (m *messageStore) appendPostgres(ctx context.Context, id string, now time.Time, dto domain.NewMessageDto, content, metadataJSON string) (*domain.AgentMessage, error) {
	db := m.repo().db
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM agents WHERE id = $1 FOR UPDATE`, dto.AgentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewAgentNotFoundOnAppendError(dto.AgentID)
		}
		return nil, fmt.Errorf("lock agent row: %w", err)
	}

	var seq int64
	if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM agent_messages WHERE agent_id = $1`, dto.AgentID); err != nil {
		return nil, fmt.Errorf("compute next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_messages (id, agent_id, sequence_number, type, role, content, raw, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, dto.AgentID, seq, string(dto.Type), nullString(dto.Role), content, nullString(dto.Raw), nullString(metadataJSON), now); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append transaction: %w", err)
	}

	return &domain.AgentMessage{
		ID: id, AgentID: dto.AgentID, SequenceNumber: seq, Type: dto.Type,
		Role: dto.Role, Content: content, Raw: dto.Raw, Metadata: dto.Metadata, CreatedAt: now,
	}, nil
}

func (m *messageStore) ListByAgent(ctx context.Context, agentID string) ([]*domain.AgentMessage, error) {
	ro := m.repo().ro
	return m.query(ctx, ro.Rebind(`SELECT id, agent_id, sequence_number, type, role, content, raw, metadata, created_at FROM agent_messages WHERE agent_id = ? ORDER BY sequence_number ASC`), agentID)
}

func (m *messageStore) ListSince(ctx context.Context, agentID string, sinceSeq int64) ([]*domain.AgentMessage, error) {
	ro := m.repo().ro
	return m.query(ctx, ro.Rebind(`SELECT id, agent_id, sequence_number, type, role, content, raw, metadata, created_at FROM agent_messages WHERE agent_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`), agentID, sinceSeq)
}

func (m *messageStore) query(ctx context.Context, query string, args ...any) ([]*domain.AgentMessage, error) {
	var rows []messageRow
	if err := m.repo().ro.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	messages := make([]*domain.AgentMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, rowToMessage(row))
	}
	return messages, nil
}

func rowToMessage(row messageRow) *domain.AgentMessage {
	msg := &domain.AgentMessage{
		ID:             row.ID,
		AgentID:        row.AgentID,
		SequenceNumber: row.SequenceNumber,
		Type:           domain.MessageType(row.Type),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
	if row.Role.Valid {
		msg.Role = row.Role.String
	}
	if row.Raw.Valid {
		msg.Raw = row.Raw.String
	}
	if row.Metadata.Valid && row.Metadata.String != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(row.Metadata.String), &meta); err == nil {
			msg.Metadata = meta
		}
	}
	return msg
}

// canonicalizeContent stores strings verbatim and serializes anything else
// to its JSON text form (spec §4.1: "content (string or serializable
// object → canonical string form)").
func canonicalizeContent(content any) (string, error) {
	if s, ok := content.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isForeignKeyViolation(err error) bool {
	return dialect.IsForeignKeyViolation(err)
}
