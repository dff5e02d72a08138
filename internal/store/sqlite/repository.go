// Package sqlite provides a SQLite/Postgres-backed implementation of the
// store.Store contract, following the teacher's single-Repository-type,
// dialect-aware pattern: one struct backed by *sqlx.DB serves both drivers,
// branching only where the SQL differs.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/agentcore/internal/db/dialect"
	"github.com/kandev/agentcore/internal/store"
)

// Repository implements store.Store against a writer/reader *sqlx.DB pair.
// The writer pool is a single connection for SQLite (serializing writes so
// sequence allocation stays race-free) or the full pgx pool for Postgres.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	driver string
	ownsDB bool
}

// New creates a Repository owning its connections (closed by Close).
func New(writer, reader *sqlx.DB, driver string) (*Repository, error) {
	return newRepository(writer, reader, driver, true)
}

// NewWithDB creates a Repository over externally-owned connections.
func NewWithDB(writer, reader *sqlx.DB, driver string) (*Repository, error) {
	return newRepository(writer, reader, driver, false)
}

func newRepository(writer, reader *sqlx.DB, driver string, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, driver: driver, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			_ = writer.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the writer/reader connections if this Repository owns them.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	wErr := r.db.Close()
	if r.ro != r.db {
		if rErr := r.ro.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

// Agents returns the agent repository view.
func (r *Repository) Agents() store.AgentRepository { return (*agentRepository)(r) }

// Messages returns the message store view.
func (r *Repository) Messages() store.MessageStore { return (*messageStore)(r) }

func (r *Repository) isPostgres() bool {
	return dialect.IsPostgres(r.driver)
}

func (r *Repository) initSchema() error {
	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL,
			configuration TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error_name TEXT,
			error_message TEXT
		)
	`); err != nil {
		return fmt.Errorf("create agents table: %w", err)
	}

	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`); err != nil {
		return fmt.Errorf("create agents status index: %w", err)
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(type)`); err != nil {
		return fmt.Errorf("create agents type index: %w", err)
	}

	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			sequence_number INTEGER NOT NULL,
			type TEXT NOT NULL,
			role TEXT,
			content TEXT NOT NULL,
			raw TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(agent_id, sequence_number)
		)
	`); err != nil {
		return fmt.Errorf("create agent_messages table: %w", err)
	}

	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agent_messages_agent_id ON agent_messages(agent_id, sequence_number)`); err != nil {
		return fmt.Errorf("create agent_messages index: %w", err)
	}

	return nil
}
