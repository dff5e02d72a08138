package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/domain"
)

func TestStaticProfileResolverLooksUpKnownAgentType(t *testing.T) {
	resolver := NewStaticProfileResolver(DefaultContainerProfiles)

	profile, ok := resolver.ProfileFor(domain.AgentTypeClaudeCode)
	require.True(t, ok)
	require.Equal(t, "agentcore/claude-code-runner:latest", profile.Image)
}

func TestStaticProfileResolverRejectsUnknownAgentType(t *testing.T) {
	resolver := NewStaticProfileResolver(DefaultContainerProfiles)
	_, ok := resolver.ProfileFor(domain.AgentTypeSynthetic)
	require.False(t, ok)
}
