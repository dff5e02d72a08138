package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/gateway/wsgateway"
	"github.com/kandev/agentcore/internal/instructions"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/queue"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/store/sqlite"
	"github.com/kandev/agentcore/internal/streaming"
	"github.com/kandev/agentcore/internal/subscription"
)

type singleRunnerFactory struct {
	rn runner.Runner
}

func (f *singleRunnerFactory) RunnerFor(domain.AgentType) (runner.Runner, error) {
	return f.rn, nil
}

type fixedPaths struct{}

func (fixedPaths) PathsFor(domain.LaunchRequest) instructions.Paths { return instructions.Paths{} }

func newTestStore(t *testing.T) *sqlite.Repository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on&_journal_mode=WAL"
	rawDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	rawDB.SetMaxOpenConns(1)
	db := sqlx.NewDb(rawDB, "sqlite3")
	repo, err := sqlite.New(db, db, "sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// testServer wires a real Coordinator (backed by sqlite, a synthetic
// runner, and the real streaming broadcaster) behind the full gin router,
// exactly as cmd/agentcore's composition root does.
type testServer struct {
	router      *gin.Engine
	store       *sqlite.Repository
	q           *queue.Queue
	coordinator *orchestrator.Coordinator
	synth       *runner.SyntheticRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newTestStore(t)
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	hub := wsgateway.NewHub(log.Zap())
	done := make(chan struct{})
	go hub.Run(done)
	t.Cleanup(func() { close(done) })

	broadcaster := streaming.New(repo, hub, log.Zap())
	q := queue.New(log.Zap())
	synth := runner.NewSyntheticRunner(log.Zap())

	coordinator := orchestrator.New(orchestrator.Config{
		Store:        repo,
		Runners:      &singleRunnerFactory{rn: synth},
		Queue:        q,
		Instructions: instructions.New(log.Zap()),
		Paths:        fixedPaths{},
		Broadcaster:  broadcaster,
		Logger:       log.Zap(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coordinator.Run(ctx)

	registry := subscription.New(broadcaster, log.Zap())

	router := gin.New()
	api := router.Group("/api")
	SetupRoutes(api, coordinator, q, repo.Messages(), registry, hub, log)

	return &testServer{router: router, store: repo, q: q, coordinator: coordinator, synth: synth}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestLaunchAgentReturns201WithFinalStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/agents", LaunchAgentRequest{
		Type:   domain.AgentTypeSynthetic,
		Prompt: "say hi",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp LaunchAgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AgentID)

	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/agents/"+resp.AgentID+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status AgentStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status.Status.IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLaunchAgentRejectsEmptyPrompt(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/agents", LaunchAgentRequest{
		Type:   domain.AgentTypeSynthetic,
		Prompt: "   ",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAgentUnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/agents/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAgentWhileRunningRequiresForce(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Agents().Save(context.Background(), &domain.Agent{
		ID:     "running-agent",
		Type:   domain.AgentTypeSynthetic,
		Status: domain.AgentStatusRunning,
		Prompt: "hi",
	}))

	rec := s.do(t, http.MethodDelete, "/api/agents/running-agent", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/agents/running-agent?force=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteAgentWithResultReturnsSuccessBody(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Agents().Save(context.Background(), &domain.Agent{
		ID:     "done-agent",
		Type:   domain.AgentTypeSynthetic,
		Status: domain.AgentStatusCompleted,
		Prompt: "hi",
	}))

	rec := s.do(t, http.MethodDelete, "/api/agents/done-agent/delete", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
}

func TestGetAgentMessagesSinceFiltersSequence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.store.Agents().Save(ctx, &domain.Agent{
		ID:     "agent-msgs",
		Type:   domain.AgentTypeSynthetic,
		Status: domain.AgentStatusRunning,
		Prompt: "hi",
	}))
	for i := 0; i < 3; i++ {
		_, err := s.store.Messages().Append(ctx, domain.NewMessageDto{
			AgentID: "agent-msgs", Type: domain.MessageTypeAssistant, Content: "line",
		})
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/agents/agent-msgs/messages?since=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []*domain.AgentMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
}

func TestGetQueueLengthAndCancel(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/agents/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lenResp QueueLengthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lenResp))
	require.Equal(t, 0, lenResp.QueueLength)

	rec = s.do(t, http.MethodDelete, "/api/agents/queue/missing-request", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProvidersListsCatalog(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProvidersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, len(domain.ProviderCatalog), resp.TotalCount)
}

func TestGetHealthReportsOK(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.True(t, resp.StorageOK)
}
