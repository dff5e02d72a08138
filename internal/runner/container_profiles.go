package runner

import "github.com/kandev/agentcore/internal/domain"

// StaticProfileResolver maps agent types to container profiles from a fixed
// table, the containerized counterpart to DefaultCLIProfiles.
type StaticProfileResolver struct {
	profiles map[domain.AgentType]ContainerProfile
}

// NewStaticProfileResolver builds a resolver from the given table.
func NewStaticProfileResolver(profiles map[domain.AgentType]ContainerProfile) StaticProfileResolver {
	return StaticProfileResolver{profiles: profiles}
}

func (r StaticProfileResolver) ProfileFor(agentType domain.AgentType) (ContainerProfile, bool) {
	profile, ok := r.profiles[agentType]
	return profile, ok
}

// DefaultContainerProfiles are the stock images this engine knows how to run
// claude-code/gemini-cli inside, mirroring DefaultCLIProfiles' argv but as an
// image entrypoint instead of a local binary.
var DefaultContainerProfiles = map[domain.AgentType]ContainerProfile{
	domain.AgentTypeClaudeCode: {
		Image:      "agentcore/claude-code-runner:latest",
		Entrypoint: []string{"claude", "--print", "--output-format", string(domain.OutputFormatStreamJSON)},
	},
	domain.AgentTypeGeminiCLI: {
		Image:      "agentcore/gemini-cli-runner:latest",
		Entrypoint: []string{"gemini", "--prompt", "--output-format", string(domain.OutputFormatStreamJSON)},
	},
}
