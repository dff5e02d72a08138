// Package domain holds the identifier and value types shared by every
// component of the orchestration engine: agents, messages, launch requests,
// MCP configuration, and the provider catalog.
package domain

import "time"

// AgentType selects which backend CLI a launch targets.
type AgentType string

const (
	AgentTypeClaudeCode AgentType = "claude-code"
	AgentTypeGeminiCLI  AgentType = "gemini-cli"
	AgentTypeSynthetic  AgentType = "synthetic"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentStatusInitializing AgentStatus = "INITIALIZING"
	AgentStatusRunning      AgentStatus = "RUNNING"
	AgentStatusCompleted    AgentStatus = "COMPLETED"
	AgentStatusFailed       AgentStatus = "FAILED"
	AgentStatusTerminated   AgentStatus = "TERMINATED"
)

// legalTransitions enumerates the status DAG from spec §3: INITIALIZING may
// only move to RUNNING; RUNNING may only move to a terminal state.
var legalTransitions = map[AgentStatus]map[AgentStatus]bool{
	AgentStatusInitializing: {AgentStatusRunning: true},
	AgentStatusRunning: {
		AgentStatusCompleted:  true,
		AgentStatusFailed:     true,
		AgentStatusTerminated: true,
	},
}

// CanTransition reports whether moving from "from" to "to" is a legal status
// transition.
func CanTransition(from, to AgentStatus) bool {
	return legalTransitions[from][to]
}

// AgentError carries the kind/message pair recorded when an Agent transitions
// to FAILED.
type AgentError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Agent is the lifecycle entity owned exclusively by the agent repository.
// All readers hold cloned snapshots; orchestration and the broadcaster are
// the only mutators.
type Agent struct {
	ID            string          `json:"id"`
	Type          AgentType       `json:"type"`
	Status        AgentStatus     `json:"status"`
	Prompt        string          `json:"prompt"`
	Configuration AgentConfig     `json:"configuration"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	Error         *AgentError     `json:"error,omitempty"`
}

// Clone returns a deep-enough copy safe for callers to read without racing
// the owning repository's mutations.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Configuration = a.Configuration.clone()
	if a.StartedAt != nil {
		t := *a.StartedAt
		clone.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		clone.CompletedAt = &t
	}
	if a.Error != nil {
		e := *a.Error
		clone.Error = &e
	}
	return &clone
}

// MarkAsRunning transitions an INITIALIZING agent to RUNNING and stamps
// startedAt. Returns a conflict error (NewConflictError) if the current
// status disallows it.
func (a *Agent) MarkAsRunning(now time.Time) error {
	if !CanTransition(a.Status, AgentStatusRunning) {
		return NewConflictError("agent cannot transition to RUNNING from " + string(a.Status))
	}
	a.Status = AgentStatusRunning
	a.StartedAt = &now
	return nil
}

// MarkAsCompleted transitions a RUNNING agent to COMPLETED and stamps
// completedAt.
func (a *Agent) MarkAsCompleted(now time.Time) error {
	if !CanTransition(a.Status, AgentStatusCompleted) {
		return NewConflictError("agent cannot transition to COMPLETED from " + string(a.Status))
	}
	a.Status = AgentStatusCompleted
	a.CompletedAt = &now
	return nil
}

// MarkAsFailed transitions a RUNNING agent to FAILED, records the error, and
// stamps completedAt.
func (a *Agent) MarkAsFailed(now time.Time, agentErr AgentError) error {
	if !CanTransition(a.Status, AgentStatusFailed) {
		return NewConflictError("agent cannot transition to FAILED from " + string(a.Status))
	}
	a.Status = AgentStatusFailed
	a.CompletedAt = &now
	a.Error = &agentErr
	return nil
}

// MarkAsTerminated transitions a RUNNING agent to TERMINATED and stamps
// completedAt. Terminate is authoritative: it always succeeds from RUNNING,
// regardless of whether the backend cooperated.
func (a *Agent) MarkAsTerminated(now time.Time) error {
	if !CanTransition(a.Status, AgentStatusTerminated) {
		return NewConflictError("agent cannot transition to TERMINATED from " + string(a.Status))
	}
	a.Status = AgentStatusTerminated
	a.CompletedAt = &now
	return nil
}

// IsTerminal reports whether the status is one of the three terminal states.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed || s == AgentStatusTerminated
}
