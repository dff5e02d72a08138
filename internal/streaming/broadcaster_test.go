package streaming

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/gateway/wsgateway"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/store/sqlite"
)

type emittedEvent struct {
	target string // "room:<room>", "all", "client:<id>"
	event  string
	data   any
}

type fakeGateway struct {
	mu     sync.Mutex
	events []emittedEvent
	rooms  map[string]map[string]struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{rooms: make(map[string]map[string]struct{})}
}

func (g *fakeGateway) EmitToClient(clientID, event string, data any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, emittedEvent{"client:" + clientID, event, data})
}

func (g *fakeGateway) EmitToAll(event string, data any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, emittedEvent{"all", event, data})
}

func (g *fakeGateway) EmitToRoom(room, event string, data any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, emittedEvent{"room:" + room, event, data})
}

func (g *fakeGateway) JoinRoom(clientID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[room] == nil {
		g.rooms[room] = make(map[string]struct{})
	}
	g.rooms[room][clientID] = struct{}{}
}

func (g *fakeGateway) LeaveRoom(clientID, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms[room], clientID)
}

func (g *fakeGateway) CleanupAgentRooms(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, "agent:"+agentID)
}

func (g *fakeGateway) GetConnectedClients() []string { return nil }
func (g *fakeGateway) IsClientConnected(string) bool { return false }

func (g *fakeGateway) eventsOf(event string) []emittedEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emittedEvent
	for _, e := range g.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

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

func seedRunningAgent(t *testing.T, repo *sqlite.Repository, id string) {
	t.Helper()
	now := time.Now().UTC()
	agent := &domain.Agent{
		ID:        id,
		Type:      domain.AgentTypeSynthetic,
		Status:    domain.AgentStatusRunning,
		Prompt:    "hi",
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(t, repo.Agents().Save(context.Background(), agent))
}

func TestHandleMessagePersistsThenEmitsToRoom(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())
	seedRunningAgent(t, repo, "agent-1")

	obs := b.ObserverFor("agent-1")
	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "hello"})

	stored, err := repo.Messages().ListByAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	events := gw.eventsOf("agent:message")
	require.Len(t, events, 1)
	require.Equal(t, "room:agent:agent-1", events[0].target)
}

func TestHandleMessageAgentNotFoundEmitsAgentError(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())

	obs := b.ObserverFor("missing-agent")
	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "hello"})

	require.Len(t, gw.eventsOf("agent:error"), 1)
	require.Empty(t, gw.eventsOf("agent:message"))
}

func TestHandleStatusChangeEmitsTwiceWithoutPersisting(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())
	seedRunningAgent(t, repo, "agent-1")

	obs := b.ObserverFor("agent-1")
	obs.OnStatusChange(context.Background(), domain.AgentStatusRunning)

	require.Len(t, gw.eventsOf("agent:status"), 1)
	require.Len(t, gw.eventsOf("agent:updated"), 1)

	msgs, err := repo.Messages().ListByAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestHandleCompletePersistsBeforeEmitting(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())
	seedRunningAgent(t, repo, "agent-1")

	obs := b.ObserverFor("agent-1")
	obs.OnComplete(context.Background(), runner.CompleteResult{Status: "success"})

	agent, err := repo.Agents().FindByID(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentStatusCompleted, agent.Status)

	require.Len(t, gw.eventsOf("agent:complete"), 1)
	require.Len(t, gw.eventsOf("agent:updated"), 1)
}

func TestHandleErrorMarksAgentFailedBeforeEmitting(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())
	seedRunningAgent(t, repo, "agent-1")

	obs := b.ObserverFor("agent-1")
	obs.OnError(context.Background(), runner.BackendErrorEvent{Kind: "backend", Message: "boom", Fatal: true})

	agent, err := repo.Agents().FindByID(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, domain.AgentStatusFailed, agent.Status)
	require.Equal(t, "boom", agent.Error.Message)

	require.Len(t, gw.eventsOf("agent:error"), 1)
}

func TestObserverForIsMemoizedPerAgent(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())

	first := b.ObserverFor("agent-1")
	second := b.ObserverFor("agent-1")
	require.Same(t, first, second)
}

// TestRapidFireMessagesNoLoss is spec §8 scenario 1: five messages at
// 0/10/20/30/40ms plus a complete at 100ms must all land, in order, with no
// gaps in sequenceNumber.
func TestRapidFireMessagesNoLoss(t *testing.T) {
	repo := newTestStore(t)
	gw := newFakeGateway()
	b := New(repo, gw, zap.NewNop())
	seedRunningAgent(t, repo, "agent-1")

	synth := runner.NewSyntheticRunner(zap.NewNop())
	schedule := make([]runner.ScriptedEvent, 0, 6)
	for i, delay := range []int{0, 10, 10, 10, 10} {
		schedule = append(schedule, runner.ScriptedEvent{
			DelayMS: delay,
			Kind:    "message",
			Message: domain.NewMessageDto{
				Type:    domain.MessageTypeAssistant,
				Content: "chunk",
			},
		})
		_ = i
	}
	schedule = append(schedule, runner.ScriptedEvent{DelayMS: 60, Kind: "complete", Result: runner.CompleteResult{Status: "success"}})
	synth.RegisterSchedule("agent-1", schedule)

	synth.Subscribe("agent-1", b.ObserverFor("agent-1"))
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-1"}))

	require.Eventually(t, func() bool {
		msgs, err := repo.Messages().ListByAgent(context.Background(), "agent-1")
		return err == nil && len(msgs) == 5
	}, 500*time.Millisecond, 5*time.Millisecond)

	msgs, err := repo.Messages().ListByAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.SequenceNumber)
	}
}

type wireEnvelope struct {
	Event string `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialHub(t *testing.T, server *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// TestReconnectSafety is spec §8 scenario 6: a client subscribes, receives
// a live message, disconnects before the next two are stored, reconnects
// and rejoins the room — it must get no replay of what it missed on the
// socket, only new events from the point it rejoined; catch-up for the gap
// is the caller's job via listSince.
func TestReconnectSafety(t *testing.T) {
	repo := newTestStore(t)
	seedRunningAgent(t, repo, "agent-1")

	hub := wsgateway.NewHub(zap.NewNop())
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		require.NoError(t, err)
		clientID := r.URL.Query().Get("id")
		c := wsgateway.NewClient(clientID, conn, hub, nil, nil, zap.NewNop())
		hub.Register(c)
		go c.WritePump()
		go c.ReadPump()
	}))
	defer server.Close()

	b := New(repo, hub, zap.NewNop())
	obs := b.ObserverFor("agent-1")

	connA := dialHub(t, server, "client-a")
	require.Eventually(t, func() bool { return hub.IsClientConnected("client-a") }, time.Second, 10*time.Millisecond)
	hub.JoinRoom("client-a", "agent:agent-1")

	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "first"})
	require.NoError(t, connA.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := connA.ReadMessage()
	require.NoError(t, err)
	var env wireEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "agent:message", env.Event)

	// Disconnect before the next two messages are stored.
	hub.LeaveRoom("client-a", "agent:agent-1")
	require.NoError(t, connA.Close())

	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "second"})
	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "third"})

	require.Eventually(t, func() bool {
		msgs, err := repo.Messages().ListByAgent(context.Background(), "agent-1")
		return err == nil && len(msgs) == 3
	}, time.Second, 10*time.Millisecond)

	// Reconnect and rejoin.
	connA2 := dialHub(t, server, "client-a")
	defer connA2.Close()
	require.Eventually(t, func() bool { return hub.IsClientConnected("client-a") }, time.Second, 10*time.Millisecond)
	hub.JoinRoom("client-a", "agent:agent-1")

	obs.OnMessage(context.Background(), domain.NewMessageDto{Type: domain.MessageTypeAssistant, Content: "fourth"})
	require.NoError(t, connA2.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err = connA2.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "agent:message", env.Event)

	// No queued replay of "second"/"third" waiting behind "fourth".
	require.NoError(t, connA2.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = connA2.ReadMessage()
	require.Error(t, err)

	// The gap is recoverable through listSince, not the socket.
	gap, err := repo.Messages().ListSince(context.Background(), "agent-1", 1)
	require.NoError(t, err)
	require.Len(t, gap, 3)
	require.Equal(t, int64(2), gap[0].SequenceNumber)
	require.Equal(t, int64(4), gap[2].SequenceNumber)
}
