package domain

import (
	"strings"
)

// MaxInstructionsLength is the inclusive upper bound on AgentConfig.Instructions.
const MaxInstructionsLength = 100_000

// OutputFormat selects how a runner should ask its backend to format output.
type OutputFormat string

const (
	OutputFormatStreamJSON OutputFormat = "stream-json"
	OutputFormatJSON       OutputFormat = "json"
)

// AgentConfig is the recognized set of launch-time options (spec §3
// "AgentConfiguration"). All fields are optional; zero values mean "unset".
type AgentConfig struct {
	SessionID       string            `json:"sessionId,omitempty"`
	OutputFormat    OutputFormat      `json:"outputFormat,omitempty"`
	CustomArgs      []string          `json:"customArgs,omitempty"`
	TimeoutMillis   int64             `json:"timeout,omitempty"`
	AllowedTools    []string          `json:"allowedTools,omitempty"`
	DisallowedTools []string          `json:"disallowedTools,omitempty"`
	Instructions    string            `json:"instructions,omitempty"`
	WorkingDirectory string           `json:"workingDirectory,omitempty"`
	MCP             *MCPConfiguration `json:"mcp,omitempty"`
	Model           string            `json:"model,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

func (c AgentConfig) clone() AgentConfig {
	clone := c
	clone.CustomArgs = append([]string{}, c.CustomArgs...)
	clone.AllowedTools = append([]string{}, c.AllowedTools...)
	clone.DisallowedTools = append([]string{}, c.DisallowedTools...)
	if c.MCP != nil {
		mcp := c.MCP.Clone()
		clone.MCP = &mcp
	}
	if c.Metadata != nil {
		meta := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		clone.Metadata = meta
	}
	return clone
}

// Validate checks the instructions-length bound from spec §8's boundary
// behavior ("instructions of length 100_000 accepted; 100_001 rejected").
func (c AgentConfig) Validate() error {
	if len(c.Instructions) > MaxInstructionsLength {
		return NewValidationError("instructions exceeds maximum length of 100000 characters")
	}
	return nil
}

// LaunchRequest is the ephemeral, queue-owned request that becomes an Agent
// once the coordinator processes it.
//
// Priority is accepted and reported for observability only (queue listing,
// metrics) — the launch queue is strict FIFO (spec §4.4/§8 property 5) and
// Priority never reorders it.
type LaunchRequest struct {
	ID       string
	Type     AgentType
	Prompt   string
	Priority int
	AgentConfig
}

// Validate enforces the invariants from spec §3/§8: prompt must be non-empty
// after trimming, and the configuration's own bounds must hold.
func (r *LaunchRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return NewValidationError("prompt must not be empty")
	}
	return r.AgentConfig.Validate()
}
