// Package runner defines the contract every agent backend must honor (spec
// §4.3) and provides four concrete adapters: a subprocess runner, a Docker
// container runner, an HTTP-SSE proxy runner, and a scripted/synthetic
// runner for tests.
package runner

import (
	"context"

	"github.com/kandev/agentcore/internal/domain"
)

// Session is what the coordinator hands a runner to start an agent. It
// carries the coordinator-minted agent id explicitly (spec §9: "replace
// [the side-channel id] with an explicit parameter to runner.start so the
// contract is visible and cannot be forgotten").
type Session struct {
	AgentID       string
	Type          domain.AgentType
	Prompt        string
	Configuration domain.AgentConfig
}

// CompleteResult is the payload of an Observer's OnComplete callback.
type CompleteResult struct {
	Status       string         `json:"status"` // "success" or "failed"
	DurationMS   int64          `json:"duration_ms"`
	MessageCount int            `json:"message_count"`
	Stats        map[string]any `json:"stats,omitempty"`
}

// BackendErrorEvent is the payload of an Observer's OnError callback.
type BackendErrorEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// Observer receives events from a runner for one agent. Implementations
// must never block indefinitely and must never let a panic escape — a
// runner calling an observer recovers from panics and logs them instead of
// letting one bad observer abort delivery to its siblings (spec §4.3).
type Observer interface {
	OnMessage(ctx context.Context, msg domain.NewMessageDto)
	OnStatusChange(ctx context.Context, status domain.AgentStatus)
	OnError(ctx context.Context, event BackendErrorEvent)
	OnComplete(ctx context.Context, result CompleteResult)
}

// Runner is the contract every backend (subprocess, HTTP-SSE proxy,
// synthetic) must implement (spec §4.3).
type Runner interface {
	// Start registers backend-side state for session.AgentID and begins
	// emitting events to subscribed observers. It returns once the backend
	// has accepted the session; it does not wait for completion.
	Start(ctx context.Context, session Session) error

	// Stop is a best-effort, idempotent termination request.
	Stop(ctx context.Context, agentID string) error

	// GetStatus returns the runner's own view of an agent's status, for
	// diagnostics; the repository remains the source of truth.
	GetStatus(agentID string) (domain.AgentStatus, bool)

	// Subscribe registers an observer for agentID's events. Safe to call
	// concurrently with event delivery.
	Subscribe(agentID string, observer Observer)

	// Unsubscribe removes a previously registered observer.
	Unsubscribe(agentID string, observer Observer)
}

// Factory builds a Runner for a given agent type, used by the orchestration
// coordinator at launch time (spec §4.6 step 4).
type Factory interface {
	RunnerFor(agentType domain.AgentType) (Runner, error)
}
