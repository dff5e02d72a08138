// Package events provides the external event-bus subject names that fan
// agent lifecycle and message events out to other processes (log shipping,
// analytics). These are distinct from the in-process WebSocket events of
// §6.2 — the event bus here is explicitly not part of the ordering or
// delivery guarantees of §5.
package events

// Event types for agent lifecycle transitions (spec.md §3 AgentStatus).
const (
	AgentLaunched   = "agent.launched"
	AgentRunning    = "agent.running"
	AgentCompleted  = "agent.completed"
	AgentFailed     = "agent.failed"
	AgentTerminated = "agent.terminated"
)

// AgentMessageEvent is the base subject for appended agent messages.
const AgentMessageEvent = "agent.message"

// BuildAgentMessageSubject creates a subject for messages belonging to a
// specific agent.
func BuildAgentMessageSubject(agentID string) string {
	return AgentMessageEvent + "." + agentID
}

// BuildAgentMessageWildcardSubject creates a wildcard subscription matching
// messages for every agent.
func BuildAgentMessageWildcardSubject() string {
	return AgentMessageEvent + ".*"
}

