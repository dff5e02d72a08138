package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentStatusTransitions(t *testing.T) {
	now := time.Now()

	t.Run("initializing to running", func(t *testing.T) {
		a := &Agent{Status: AgentStatusInitializing}
		require.NoError(t, a.MarkAsRunning(now))
		assert.Equal(t, AgentStatusRunning, a.Status)
		assert.NotNil(t, a.StartedAt)
	})

	t.Run("running to completed", func(t *testing.T) {
		a := &Agent{Status: AgentStatusRunning}
		require.NoError(t, a.MarkAsCompleted(now))
		assert.Equal(t, AgentStatusCompleted, a.Status)
		assert.NotNil(t, a.CompletedAt)
	})

	t.Run("running to failed records error", func(t *testing.T) {
		a := &Agent{Status: AgentStatusRunning}
		require.NoError(t, a.MarkAsFailed(now, AgentError{Kind: "backend", Message: "boom"}))
		assert.Equal(t, AgentStatusFailed, a.Status)
		require.NotNil(t, a.Error)
		assert.Equal(t, "boom", a.Error.Message)
	})

	t.Run("terminate is authoritative from running", func(t *testing.T) {
		a := &Agent{Status: AgentStatusRunning}
		require.NoError(t, a.MarkAsTerminated(now))
		assert.Equal(t, AgentStatusTerminated, a.Status)
	})

	t.Run("illegal transitions rejected", func(t *testing.T) {
		a := &Agent{Status: AgentStatusCompleted}
		err := a.MarkAsRunning(now)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))

		b := &Agent{Status: AgentStatusInitializing}
		err = b.MarkAsCompleted(now)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))
	})
}

func TestAgentCloneIsIndependent(t *testing.T) {
	started := time.Now()
	original := &Agent{
		ID:     "a1",
		Status: AgentStatusRunning,
		Configuration: AgentConfig{
			CustomArgs: []string{"--foo"},
			Metadata:   map[string]any{"k": "v"},
		},
		StartedAt: &started,
	}

	clone := original.Clone()
	clone.Configuration.CustomArgs[0] = "--mutated"
	clone.Configuration.Metadata["k"] = "mutated"
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "--foo", original.Configuration.CustomArgs[0])
	assert.Equal(t, "v", original.Configuration.Metadata["k"])
	assert.Equal(t, started, *original.StartedAt)
}

func TestLaunchRequestValidate(t *testing.T) {
	t.Run("empty prompt rejected", func(t *testing.T) {
		r := &LaunchRequest{Prompt: "   "}
		err := r.Validate()
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
	})

	t.Run("prompt is trimmed", func(t *testing.T) {
		r := &LaunchRequest{Prompt: "  hello  "}
		require.NoError(t, r.Validate())
		assert.Equal(t, "hello", r.Prompt)
	})

	t.Run("instructions boundary", func(t *testing.T) {
		ok := &LaunchRequest{Prompt: "hi", AgentConfig: AgentConfig{Instructions: strings.Repeat("x", MaxInstructionsLength)}}
		require.NoError(t, ok.Validate())

		tooLong := &LaunchRequest{Prompt: "hi", AgentConfig: AgentConfig{Instructions: strings.Repeat("x", MaxInstructionsLength+1)}}
		err := tooLong.Validate()
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
	})
}

func TestMCPConfigurationRoundTrip(t *testing.T) {
	cfg := MCPConfiguration{
		Servers: map[string]MCPServerDef{
			"fs": {Command: "mcp-fs", Args: []string{"--root", "/tmp"}, Env: map[string]string{"A": "1"}},
			"web": {Command: "mcp-web", Transport: MCPTransportHTTP},
		},
		Strict: true,
	}
	require.NoError(t, cfg.Validate())

	wire, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, wire, "mcpServers")
	assert.NotContains(t, wire, `"transport":"stdio"`)

	roundTripped, err := MCPConfigurationFromJSON(wire)
	require.NoError(t, err)
	assert.Equal(t, cfg.Servers["fs"].Command, roundTripped.Servers["fs"].Command)
	assert.Equal(t, cfg.Servers["fs"].Args, roundTripped.Servers["fs"].Args)
	assert.Equal(t, MCPTransportStdio, roundTripped.Servers["fs"].Transport)
	assert.Equal(t, MCPTransportHTTP, roundTripped.Servers["web"].Transport)
}

func TestMCPConfigurationValidateRejectsBadNames(t *testing.T) {
	cfg := MCPConfiguration{Servers: map[string]MCPServerDef{
		"bad name!": {Command: "x"},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
}

func TestResolveMCPServersAppliesPolicy(t *testing.T) {
	cfg := MCPConfiguration{Servers: map[string]MCPServerDef{
		"fs":  {Command: "mcp-fs", Transport: MCPTransportStdio},
		"web": {Command: "mcp-web", Transport: MCPTransportHTTP},
	}}
	policy := MCPPolicy{AllowStdio: true, AllowHTTP: false, EnvInjection: map[string]string{"INJECTED": "1"}}

	resolved, warnings := ResolveMCPServers(cfg, policy)
	require.Len(t, resolved, 1)
	assert.Equal(t, "fs", resolved[0].Name)
	assert.Equal(t, "1", resolved[0].Env["INJECTED"])
	require.Len(t, warnings, 1)
}
