// Package subscription tracks which clients are watching which agents (spec
// §4.7), independent of the transport.
//
// The runner's observer itself is attached once, for the agent's whole
// lifetime, by the orchestration coordinator at launch (spec §4.6 step 9) —
// persistence must not depend on whether any client happens to be
// connected. This registry therefore does not attach or detach runner
// observers; it is pure bookkeeping of which clients are watching which
// agents, used to decide gateway room membership and to answer
// "who is watching" queries.
package subscription

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/runner"
)

// ObserverSource is accepted for backward-compatible construction only; the
// registry no longer calls it. Defined locally so this package never
// imports streaming or orchestrator.
type ObserverSource interface {
	ObserverFor(agentID string) runner.Observer
}

type agentSubscribers struct {
	clientIDs map[string]struct{}
}

// Registry is the subscriptionsByAgent / agentsByClient bookkeeping from
// spec §4.7.
type Registry struct {
	logger    *zap.Logger
	observers ObserverSource

	mu               sync.Mutex
	subscriptionsByAgent map[string]*agentSubscribers
	agentsByClient       map[string]map[string]struct{}
}

// New constructs an empty Registry.
func New(observers ObserverSource, logger *zap.Logger) *Registry {
	return &Registry{
		logger:               logger,
		observers:            observers,
		subscriptionsByAgent: make(map[string]*agentSubscribers),
		agentsByClient:       make(map[string]map[string]struct{}),
	}
}

// Subscribe adds clientID as a watcher of agentID. rn is accepted for
// call-site convenience (the caller already has it to hand) but is not
// touched here; the runner's observer is owned by the coordinator for the
// agent's whole lifetime. Returns true if this call created the first
// subscription entry for the agent (the caller uses this to decide whether
// a gateway room needs creating).
func (r *Registry) Subscribe(agentID, clientID string, rn runner.Runner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := false
	sub, ok := r.subscriptionsByAgent[agentID]
	if !ok {
		sub = &agentSubscribers{clientIDs: make(map[string]struct{})}
		r.subscriptionsByAgent[agentID] = sub
		first = true
	}
	sub.clientIDs[clientID] = struct{}{}

	clientAgents, ok := r.agentsByClient[clientID]
	if !ok {
		clientAgents = make(map[string]struct{})
		r.agentsByClient[clientID] = clientAgents
	}
	clientAgents[agentID] = struct{}{}

	r.logger.Debug("client subscribed to agent",
		zap.String("agent_id", agentID), zap.String("client_id", clientID), zap.Bool("first_subscriber", first))
	return first
}

// UnsubscribeFromAgent removes clientID from agentID's subscribers. When the
// last subscriber leaves, the agent's bookkeeping entry is removed; the
// runner's observer stays attached regardless, since the coordinator owns
// its lifetime independently of subscriber count.
func (r *Registry) UnsubscribeFromAgent(agentID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(agentID, clientID)
}

func (r *Registry) unsubscribeLocked(agentID, clientID string) {
	sub, ok := r.subscriptionsByAgent[agentID]
	if !ok {
		return
	}
	delete(sub.clientIDs, clientID)
	if clientAgents, ok := r.agentsByClient[clientID]; ok {
		delete(clientAgents, agentID)
		if len(clientAgents) == 0 {
			delete(r.agentsByClient, clientID)
		}
	}

	if len(sub.clientIDs) == 0 {
		delete(r.subscriptionsByAgent, agentID)
		r.logger.Debug("last subscriber left agent", zap.String("agent_id", agentID))
	}
}

// UnsubscribeClient mass-detaches a disconnected client from every agent it
// was watching.
func (r *Registry) UnsubscribeClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agentIDs := make([]string, 0, len(r.agentsByClient[clientID]))
	for agentID := range r.agentsByClient[clientID] {
		agentIDs = append(agentIDs, agentID)
	}
	for _, agentID := range agentIDs {
		r.unsubscribeLocked(agentID, clientID)
	}
}

// UnsubscribeAllForAgent tears down every subscriber of agentID, used by
// terminate. The runner's observer is detached separately by whoever owns
// its lifecycle (the coordinator), not by this registry.
func (r *Registry) UnsubscribeAllForAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subscriptionsByAgent[agentID]
	if !ok {
		return
	}
	for clientID := range sub.clientIDs {
		if clientAgents, ok := r.agentsByClient[clientID]; ok {
			delete(clientAgents, agentID)
			if len(clientAgents) == 0 {
				delete(r.agentsByClient, clientID)
			}
		}
	}
	delete(r.subscriptionsByAgent, agentID)
}

// SubscriberCount reports how many clients currently watch agentID.
func (r *Registry) SubscriberCount(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptionsByAgent[agentID]
	if !ok {
		return 0
	}
	return len(sub.clientIDs)
}

// AgentsForClient returns the set of agent ids clientID currently watches.
func (r *Registry) AgentsForClient(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	agents := make([]string, 0, len(r.agentsByClient[clientID]))
	for agentID := range r.agentsByClient[clientID] {
		agents = append(agents, agentID)
	}
	return agents
}
