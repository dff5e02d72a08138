// Package eventbridge fans the same lifecycle/message events the streaming
// broadcaster persists-then-emits out to an external event bus (SPEC_FULL.md
// Domain Stack: "an alternate EventBus implementation... used to fan the
// same lifecycle/message events... out to other processes for log shipping
// or analytics"). It is explicitly not on the path of any delivery
// guarantee: publishing to the bus is fire-and-forget, logged on failure,
// never blocking or failing a launch.
package eventbridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/events"
	"github.com/kandev/agentcore/internal/events/bus"
	"github.com/kandev/agentcore/internal/runner"
)

const bridgeSource = "agentcore-orchestrator"

// ObserverSource is the subset of streaming.Broadcaster this package wraps.
type ObserverSource interface {
	ObserverFor(agentID string) runner.Observer
}

// Bridge wraps an ObserverSource, forwarding every event to the wrapped
// observer. Messages and RUNNING/COMPLETED/FAILED/TERMINATED status changes
// are also published to an EventBus; errors and completions are forwarded
// only.
type Bridge struct {
	inner  ObserverSource
	bus    bus.EventBus
	logger *zap.Logger

	mu        sync.Mutex
	observers map[string]runner.Observer
}

// New constructs a Bridge over inner, publishing to b.
func New(inner ObserverSource, b bus.EventBus, logger *zap.Logger) *Bridge {
	return &Bridge{inner: inner, bus: b, logger: logger, observers: make(map[string]runner.Observer)}
}

// ObserverFor returns a memoized observer for agentID that forwards to the
// wrapped source's observer and publishes a corresponding bus event.
func (br *Bridge) ObserverFor(agentID string) runner.Observer {
	br.mu.Lock()
	defer br.mu.Unlock()
	if obs, ok := br.observers[agentID]; ok {
		return obs
	}
	obs := &bridgedObserver{agentID: agentID, br: br, next: br.inner.ObserverFor(agentID)}
	br.observers[agentID] = obs
	return obs
}

type bridgedObserver struct {
	agentID string
	br      *Bridge
	next    runner.Observer
}

func (o *bridgedObserver) OnMessage(ctx context.Context, msg domain.NewMessageDto) {
	o.next.OnMessage(ctx, msg)
	o.publish(ctx, events.BuildAgentMessageSubject(o.agentID), map[string]any{
		"type":    string(msg.Type),
		"content": msg.Content,
	})
}

func (o *bridgedObserver) OnStatusChange(ctx context.Context, status domain.AgentStatus) {
	o.next.OnStatusChange(ctx, status)
	subject, ok := statusEvent(status)
	if !ok {
		return
	}
	o.publish(ctx, subject, map[string]any{"status": string(status)})
}

func (o *bridgedObserver) OnError(ctx context.Context, event runner.BackendErrorEvent) {
	o.next.OnError(ctx, event)
}

func (o *bridgedObserver) OnComplete(ctx context.Context, result runner.CompleteResult) {
	o.next.OnComplete(ctx, result)
}

func (o *bridgedObserver) publish(ctx context.Context, subject string, data map[string]any) {
	data["agentId"] = o.agentID
	evt := bus.NewEvent(subject, bridgeSource, data)
	if err := o.br.bus.Publish(ctx, subject, evt); err != nil {
		o.br.logger.Warn("failed to publish event to bus",
			zap.String("subject", subject), zap.String("agent_id", o.agentID), zap.Error(err))
	}
}

func statusEvent(status domain.AgentStatus) (string, bool) {
	switch status {
	case domain.AgentStatusRunning:
		return events.AgentRunning, true
	case domain.AgentStatusCompleted:
		return events.AgentCompleted, true
	case domain.AgentStatusFailed:
		return events.AgentFailed, true
	case domain.AgentStatusTerminated:
		return events.AgentTerminated, true
	default:
		return "", false
	}
}
