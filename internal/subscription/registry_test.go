package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/runner"
)

type stubObserver struct{}

func (stubObserver) OnMessage(context.Context, domain.NewMessageDto)         {}
func (stubObserver) OnStatusChange(context.Context, domain.AgentStatus)      {}
func (stubObserver) OnError(context.Context, runner.BackendErrorEvent)       {}
func (stubObserver) OnComplete(context.Context, runner.CompleteResult)       {}

type memoizedObserverSource struct {
	byAgent map[string]runner.Observer
}

func newMemoizedObserverSource() *memoizedObserverSource {
	return &memoizedObserverSource{byAgent: make(map[string]runner.Observer)}
}

func (s *memoizedObserverSource) ObserverFor(agentID string) runner.Observer {
	if obs, ok := s.byAgent[agentID]; ok {
		return obs
	}
	obs := stubObserver{}
	s.byAgent[agentID] = obs
	return obs
}

func newTestRegistry() (*Registry, *runner.SyntheticRunner) {
	synth := runner.NewSyntheticRunner(zap.NewNop())
	return New(newMemoizedObserverSource(), zap.NewNop()), synth
}

func TestSubscribeReportsFirstClientForAgent(t *testing.T) {
	reg, synth := newTestRegistry()

	synth.RegisterSchedule("agent-1", nil)
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-1"}))

	first := reg.Subscribe("agent-1", "client-a", synth)
	require.True(t, first)

	second := reg.Subscribe("agent-1", "client-b", synth)
	require.False(t, second)

	require.Equal(t, 2, reg.SubscriberCount("agent-1"))
}

func TestUnsubscribeFromAgentClearsBookkeepingOnlyWhenLastClientLeaves(t *testing.T) {
	reg, synth := newTestRegistry()
	synth.RegisterSchedule("agent-1", nil)
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-1"}))

	reg.Subscribe("agent-1", "client-a", synth)
	reg.Subscribe("agent-1", "client-b", synth)

	reg.UnsubscribeFromAgent("agent-1", "client-a")
	require.Equal(t, 1, reg.SubscriberCount("agent-1"))

	reg.UnsubscribeFromAgent("agent-1", "client-b")
	require.Equal(t, 0, reg.SubscriberCount("agent-1"))
}

func TestUnsubscribeClientMassDetachesFromAllAgents(t *testing.T) {
	reg, synth := newTestRegistry()
	synth.RegisterSchedule("agent-1", nil)
	synth.RegisterSchedule("agent-2", nil)
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-1"}))
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-2"}))

	reg.Subscribe("agent-1", "client-a", synth)
	reg.Subscribe("agent-2", "client-a", synth)
	require.Len(t, reg.AgentsForClient("client-a"), 2)

	reg.UnsubscribeClient("client-a")
	require.Empty(t, reg.AgentsForClient("client-a"))
	require.Equal(t, 0, reg.SubscriberCount("agent-1"))
	require.Equal(t, 0, reg.SubscriberCount("agent-2"))
}

func TestUnsubscribeAllForAgentClearsEverySubscriber(t *testing.T) {
	reg, synth := newTestRegistry()
	synth.RegisterSchedule("agent-1", nil)
	require.NoError(t, synth.Start(context.Background(), runner.Session{AgentID: "agent-1"}))

	reg.Subscribe("agent-1", "client-a", synth)
	reg.Subscribe("agent-1", "client-b", synth)

	reg.UnsubscribeAllForAgent("agent-1")

	require.Equal(t, 0, reg.SubscriberCount("agent-1"))
	require.Empty(t, reg.AgentsForClient("client-a"))
	require.Empty(t, reg.AgentsForClient("client-b"))
}
