// Package streaming implements the persist-then-emit broadcaster from spec
// §4.8: one runner.Observer per agent that writes every message to storage
// before telling the gateway about it, and finalizes status transitions in
// storage before emitting them, so a client fetching history immediately
// after an event sees the terminal state.
package streaming

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/gateway"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/store"
)

// Broadcaster wires runner events into storage and the gateway. It
// satisfies both orchestrator.Broadcaster and subscription.ObserverSource
// structurally via ObserverFor, without either package importing it.
type Broadcaster struct {
	store   store.Store
	gateway gateway.Gateway
	logger  *zap.Logger

	mu        sync.Mutex
	observers map[string]runner.Observer
}

// New constructs a Broadcaster.
func New(st store.Store, gw gateway.Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		store:     st,
		gateway:   gw,
		logger:    logger,
		observers: make(map[string]runner.Observer),
	}
}

// ObserverFor returns the memoized observer for agentID, creating it on
// first use. Because it always returns the same pointer for a given
// agentID, subscribing it to a runner more than once collapses to a single
// registration (spec §4.7's invariant).
func (b *Broadcaster) ObserverFor(agentID string) runner.Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if obs, ok := b.observers[agentID]; ok {
		return obs
	}
	obs := &agentObserver{agentID: agentID, b: b}
	b.observers[agentID] = obs
	return obs
}

// agentObserver implements runner.Observer for exactly one agent.
type agentObserver struct {
	agentID string
	b       *Broadcaster
}

func (o *agentObserver) OnMessage(ctx context.Context, msg domain.NewMessageDto) {
	o.b.handleMessage(ctx, o.agentID, msg)
}

func (o *agentObserver) OnStatusChange(ctx context.Context, status domain.AgentStatus) {
	o.b.handleStatusChange(ctx, o.agentID, status)
}

func (o *agentObserver) OnError(ctx context.Context, event runner.BackendErrorEvent) {
	o.b.handleError(ctx, o.agentID, event)
}

func (o *agentObserver) OnComplete(ctx context.Context, result runner.CompleteResult) {
	o.b.handleComplete(ctx, o.agentID, result)
}

// handleMessage is the persist-then-emit path of spec §4.8's pseudocode.
// runner.Observer.OnMessage has no error return, so a persistence failure
// cannot be propagated back to the runner the way the pseudocode's
// caller-visible error suggests; instead it is logged at Error level (never
// silently swallowed) and, when the failure is that the agent does not
// exist, surfaced to any connected clients as agent:error.
func (b *Broadcaster) handleMessage(ctx context.Context, agentID string, msg domain.NewMessageDto) {
	msg.AgentID = agentID
	saved, err := b.store.Messages().Append(ctx, msg)
	if err != nil {
		b.logger.Error("failed to persist agent message", zap.String("agent_id", agentID), zap.Error(err))
		if domain.IsKind(err, domain.KindAgentNotFoundOnAppend) {
			b.gateway.EmitToRoom(gateway.AgentRoom(agentID), "agent:error", map[string]any{
				"agentId":   agentID,
				"error":     "AgentNotFoundError",
				"message":   err.Error(),
				"timestamp": time.Now(),
			})
		}
		return
	}

	b.gateway.EmitToRoom(gateway.AgentRoom(agentID), "agent:message", map[string]any{
		"agentId":   agentID,
		"message":   saved,
		"timestamp": time.Now(),
	})
}

// handleStatusChange emits agent:status to the room and agent:updated to
// everyone, without persisting anything (status changes are not messages).
func (b *Broadcaster) handleStatusChange(_ context.Context, agentID string, status domain.AgentStatus) {
	now := time.Now()
	b.gateway.EmitToRoom(gateway.AgentRoom(agentID), "agent:status", map[string]any{
		"agentId":   agentID,
		"status":    status,
		"timestamp": now,
	})
	b.gateway.EmitToAll("agent:updated", map[string]any{
		"agentId":   agentID,
		"status":    status,
		"timestamp": now,
	})
}

// handleComplete persists the COMPLETED transition before emitting, so a
// client fetching the agent right after agent:complete sees the terminal
// status. Persistence failures are logged but do not prevent emission.
func (b *Broadcaster) handleComplete(ctx context.Context, agentID string, result runner.CompleteResult) {
	b.finalize(ctx, agentID, func(agent *domain.Agent, now time.Time) error {
		return agent.MarkAsCompleted(now)
	})

	now := time.Now()
	b.gateway.EmitToRoom(gateway.AgentRoom(agentID), "agent:complete", map[string]any{
		"agentId":   agentID,
		"result":    result,
		"timestamp": now,
	})
	b.gateway.EmitToAll("agent:updated", map[string]any{
		"agentId":   agentID,
		"status":    domain.AgentStatusCompleted,
		"timestamp": now,
	})
}

// handleError mirrors handleComplete for the FAILED transition.
func (b *Broadcaster) handleError(ctx context.Context, agentID string, event runner.BackendErrorEvent) {
	b.finalize(ctx, agentID, func(agent *domain.Agent, now time.Time) error {
		return agent.MarkAsFailed(now, domain.AgentError{Kind: event.Kind, Message: event.Message})
	})

	now := time.Now()
	b.gateway.EmitToRoom(gateway.AgentRoom(agentID), "agent:error", map[string]any{
		"agentId":   agentID,
		"error":     event,
		"timestamp": now,
	})
	b.gateway.EmitToAll("agent:updated", map[string]any{
		"agentId":   agentID,
		"status":    domain.AgentStatusFailed,
		"timestamp": now,
	})
}

func (b *Broadcaster) finalize(ctx context.Context, agentID string, transition func(agent *domain.Agent, now time.Time) error) {
	agent, err := b.store.Agents().FindByID(ctx, agentID)
	if err != nil {
		b.logger.Error("failed to load agent for finalization", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if agent == nil {
		b.logger.Warn("finalize called for unknown agent", zap.String("agent_id", agentID))
		return
	}
	if agent.Status.IsTerminal() {
		return
	}
	if err := transition(agent, time.Now()); err != nil {
		b.logger.Error("invalid terminal transition", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	if err := b.store.Agents().Save(ctx, agent); err != nil {
		b.logger.Error("failed to persist terminal transition", zap.String("agent_id", agentID), zap.Error(err))
	}
}
