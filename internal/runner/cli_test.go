package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/domain"
)

func TestAgentCLIBuilderBuildsClaudeCodeArgv(t *testing.T) {
	builder := NewAgentCLIBuilder(DefaultCLIProfiles)

	argv, dir, _, err := builder.Build(Session{
		AgentID: "agent-1",
		Type:    domain.AgentTypeClaudeCode,
		Prompt:  "say hi",
		Configuration: domain.AgentConfig{
			Model:           "claude-opus",
			AllowedTools:    []string{"Read"},
			WorkingDirectory: "/tmp/work",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "/tmp/work", dir)
	require.Contains(t, argv, "--print")
	require.Contains(t, argv, "say hi")
	require.Contains(t, argv, "--model")
	require.Contains(t, argv, "claude-opus")
	require.Contains(t, argv, "--allowedTools")
	require.Contains(t, argv, "Read")
	require.Contains(t, argv, "--output-format")
	require.Contains(t, argv, string(domain.OutputFormatStreamJSON))
}

func TestAgentCLIBuilderHonorsExplicitOutputFormat(t *testing.T) {
	builder := NewAgentCLIBuilder(DefaultCLIProfiles)

	argv, _, _, err := builder.Build(Session{
		AgentID: "agent-1",
		Type:    domain.AgentTypeGeminiCLI,
		Prompt:  "say hi",
		Configuration: domain.AgentConfig{
			OutputFormat: domain.OutputFormatJSON,
		},
	})
	require.NoError(t, err)
	require.Contains(t, argv, string(domain.OutputFormatJSON))
}

func TestAgentCLIBuilderRejectsUnknownAgentType(t *testing.T) {
	builder := NewAgentCLIBuilder(DefaultCLIProfiles)
	_, _, _, err := builder.Build(Session{AgentID: "agent-1", Type: domain.AgentTypeSynthetic, Prompt: "hi"})
	require.Error(t, err)
}
