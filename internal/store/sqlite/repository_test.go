package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on&_journal_mode=WAL"

	rawDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	rawDB.SetMaxOpenConns(1)
	db := sqlx.NewDb(rawDB, "sqlite3")

	repo, err := New(db, db, "sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedAgent(t *testing.T, repo *Repository, id string) *domain.Agent {
	t.Helper()
	agent := &domain.Agent{
		ID:        id,
		Type:      domain.AgentTypeSynthetic,
		Status:    domain.AgentStatusInitializing,
		Prompt:    "hello",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Agents().Save(context.Background(), agent))
	return agent
}

func TestAgentRepositorySaveIsUpsert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	agent := seedAgent(t, repo, "agent-1")

	require.NoError(t, agent.MarkAsRunning(time.Now().UTC()))
	require.NoError(t, repo.Agents().Save(ctx, agent))

	found, err := repo.Agents().FindByID(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentStatusRunning, found.Status)

	all, err := repo.Agents().FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must not create a second row")
}

func TestAgentRepositoryFindByIDNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.Agents().FindByID(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestMessageStoreAppendAssignsDenseSequence(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAgent(t, repo, "agent-1")

	for i := 0; i < 5; i++ {
		msg, err := repo.Messages().Append(ctx, domain.NewMessageDto{
			AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "chunk",
		})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), msg.SequenceNumber)
	}

	all, err := repo.Messages().ListByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, msg := range all {
		require.Equal(t, int64(i+1), msg.SequenceNumber)
	}
}

func TestMessageStoreAppendConcurrentStaysDense(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAgent(t, repo, "agent-1")

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := repo.Messages().Append(ctx, domain.NewMessageDto{
				AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "chunk",
			})
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	all, err := repo.Messages().ListByAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, all, n)
	seen := make(map[int64]bool, n)
	for _, msg := range all {
		require.False(t, seen[msg.SequenceNumber], "duplicate sequence number")
		seen[msg.SequenceNumber] = true
	}
	for i := int64(1); i <= n; i++ {
		require.True(t, seen[i], "missing sequence number %d", i)
	}
}

func TestMessageStoreAppendUnknownAgentFails(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.Messages().Append(context.Background(), domain.NewMessageDto{
		AgentID: "00000000-0000-0000-0000-000000000000", Type: domain.MessageTypeAssistant, Content: "x",
	})
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindAgentNotFoundOnAppend))

	all, err := repo.Messages().ListByAgent(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestMessageStoreListSince(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAgent(t, repo, "agent-1")

	for i := 0; i < 10; i++ {
		_, err := repo.Messages().Append(ctx, domain.NewMessageDto{
			AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "chunk",
		})
		require.NoError(t, err)
	}

	since, err := repo.Messages().ListSince(ctx, "agent-1", 4)
	require.NoError(t, err)
	require.Len(t, since, 6)
	require.Equal(t, int64(5), since[0].SequenceNumber)
	require.Equal(t, int64(10), since[len(since)-1].SequenceNumber)
}
