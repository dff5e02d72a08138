package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

type recordingObserver struct {
	mu        sync.Mutex
	messages  []domain.NewMessageDto
	statuses  []domain.AgentStatus
	errors    []BackendErrorEvent
	completes []CompleteResult
	panicOn   string
}

func (o *recordingObserver) OnMessage(_ context.Context, msg domain.NewMessageDto) {
	if o.panicOn == "message" {
		panic("boom")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) OnStatusChange(_ context.Context, status domain.AgentStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) OnError(_ context.Context, event BackendErrorEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, event)
}

func (o *recordingObserver) OnComplete(_ context.Context, result CompleteResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes = append(o.completes, result)
}

func (o *recordingObserver) count() (messages, statuses, errs, completes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages), len(o.statuses), len(o.errors), len(o.completes)
}

func TestSyntheticRunnerPlaysBackScheduleInOrder(t *testing.T) {
	r := NewSyntheticRunner(zap.NewNop())
	obs := &recordingObserver{}
	r.Subscribe("agent-1", obs)
	r.RegisterSchedule("agent-1", []ScriptedEvent{
		{Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "hi"}},
		{Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "there"}},
		{Kind: "complete", Result: CompleteResult{Status: "success"}},
	})

	require.NoError(t, r.Start(context.Background(), Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic}))

	require.Eventually(t, func() bool {
		messages, _, _, completes := obs.count()
		return messages == 2 && completes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyntheticRunnerObserverPanicDoesNotStopDelivery(t *testing.T) {
	r := NewSyntheticRunner(zap.NewNop())
	panicky := &recordingObserver{panicOn: "message"}
	steady := &recordingObserver{}
	r.Subscribe("agent-1", panicky)
	r.Subscribe("agent-1", steady)
	r.RegisterSchedule("agent-1", []ScriptedEvent{
		{Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "hi"}},
	})

	require.NoError(t, r.Start(context.Background(), Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic}))

	require.Eventually(t, func() bool {
		messages, _, _, _ := steady.count()
		return messages == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyntheticRunnerZeroDelayEventSurvivesStartBeforeSubscribe(t *testing.T) {
	r := NewSyntheticRunner(zap.NewNop())
	r.RegisterSchedule("agent-1", []ScriptedEvent{
		{DelayMS: 0, Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "first"}},
		{DelayMS: 10, Kind: "complete", Result: CompleteResult{Status: "success"}},
	})

	require.NoError(t, r.Start(context.Background(), Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic}))

	obs := &recordingObserver{}
	r.Subscribe("agent-1", obs)

	require.Eventually(t, func() bool {
		messages, _, _, completes := obs.count()
		return messages == 1 && completes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyntheticRunnerScheduleRegisteredAfterStartStillPlays(t *testing.T) {
	r := NewSyntheticRunner(zap.NewNop())

	require.NoError(t, r.Start(context.Background(), Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic}))

	r.RegisterSchedule("agent-1", []ScriptedEvent{
		{Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "late-registered"}},
	})

	obs := &recordingObserver{}
	r.Subscribe("agent-1", obs)

	require.Eventually(t, func() bool {
		messages, _, _, _ := obs.count()
		return messages == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSyntheticRunnerStopMarksTerminated(t *testing.T) {
	r := NewSyntheticRunner(zap.NewNop())
	r.RegisterSchedule("agent-1", []ScriptedEvent{
		{DelayMS: 500, Kind: "message", Message: domain.NewMessageDto{AgentID: "agent-1", Type: domain.MessageTypeAssistant, Content: "late"}},
	})
	require.NoError(t, r.Start(context.Background(), Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic}))

	require.NoError(t, r.Stop(context.Background(), "agent-1"))

	status, ok := r.GetStatus("agent-1")
	require.True(t, ok)
	require.Equal(t, domain.AgentStatusTerminated, status)
}
