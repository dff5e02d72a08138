// Package api wires the HTTP and WebSocket surface of spec §6.1/§6.2 onto
// the orchestration coordinator, launch queue, and realtime subscription
// registry.
package api

import (
	"time"

	"github.com/kandev/agentcore/internal/domain"
)

// LaunchAgentRequest is the `LaunchAgentDto` body of `POST /agents`. The
// embedded domain.AgentConfig is promoted by encoding/json, so callers send
// a single flat JSON object carrying both the launch basics and the
// optional configuration fields.
type LaunchAgentRequest struct {
	Type     domain.AgentType `json:"type" binding:"required"`
	Prompt   string           `json:"prompt" binding:"required"`
	Priority int              `json:"priority"`
	domain.AgentConfig
}

func (r LaunchAgentRequest) toDomain() domain.LaunchRequest {
	return domain.LaunchRequest{
		Type:        r.Type,
		Prompt:      r.Prompt,
		Priority:    r.Priority,
		AgentConfig: r.AgentConfig,
	}
}

// LaunchAgentResponse is the `201 {agentId, status, createdAt}` body of
// `POST /agents`.
type LaunchAgentResponse struct {
	AgentID   string            `json:"agentId"`
	Status    domain.AgentStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// AgentStatusResponse is the `{agentId, status}` body of
// `GET /agents/:id/status`.
type AgentStatusResponse struct {
	AgentID string            `json:"agentId"`
	Status  domain.AgentStatus `json:"status"`
}

// QueueLengthResponse is the `{queueLength}` body of `GET /agents/queue`.
type QueueLengthResponse struct {
	QueueLength int `json:"queueLength"`
}

// SuccessResponse is the `{success}` body of `DELETE /agents/:id/delete`.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ProvidersResponse is the `{totalCount, providers:[...]}` body of
// `GET /providers`.
type ProvidersResponse struct {
	TotalCount int                    `json:"totalCount"`
	Providers  []domain.ProviderInfo `json:"providers"`
}

// HealthResponse is the health snapshot of `GET /health`.
type HealthResponse struct {
	Status       string    `json:"status"`
	UptimeMillis int64     `json:"uptimeMillis"`
	StorageOK    bool      `json:"storageOk"`
	QueueDepth   int       `json:"queueDepth"`
	ActiveAgents int       `json:"activeAgents"`
	Timestamp    time.Time `json:"timestamp"`
}
