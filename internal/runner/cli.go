package runner

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kandev/agentcore/internal/domain"
)

// CLIProfile names the binary and flag conventions of one backend CLI
// family, letting a single CommandBuilder serve every subprocess-based
// provider instead of one bespoke builder per agent type.
type CLIProfile struct {
	// Binary is the executable name or path invoked for this agent type.
	Binary string
	// PromptFlag, ModelFlag, OutputFormatFlag name the CLI's own flags for
	// those concerns. An empty ModelFlag or OutputFormatFlag means the CLI
	// doesn't support it and AgentCLIBuilder omits it rather than guessing;
	// an empty PromptFlag passes the prompt as a positional argument.
	PromptFlag       string
	ModelFlag        string
	OutputFormatFlag string
	AllowedToolsFlag string
	DisallowedToolsFlag string
}

// DefaultCLIProfiles is the builtin binary/flag registry for the two
// subprocess-backed providers (spec §3 ProviderInfo, supplemented feature 3).
var DefaultCLIProfiles = map[domain.AgentType]CLIProfile{
	domain.AgentTypeClaudeCode: {
		Binary:              "claude",
		PromptFlag:          "--print",
		ModelFlag:           "--model",
		OutputFormatFlag:    "--output-format",
		AllowedToolsFlag:    "--allowedTools",
		DisallowedToolsFlag: "--disallowedTools",
	},
	domain.AgentTypeGeminiCLI: {
		Binary:           "gemini",
		PromptFlag:       "--prompt",
		ModelFlag:        "--model",
		OutputFormatFlag: "--output-format",
	},
}

// AgentCLIBuilder translates a Session into the argv/env a subprocess
// runner spawns, one CLIProfile per agent type (spec §6.3's "the subprocess
// runner launches the configured CLI binary").
type AgentCLIBuilder struct {
	profiles map[domain.AgentType]CLIProfile
	env      []string
}

// NewAgentCLIBuilder constructs a builder over profiles, inheriting the
// current process environment plus any extra entries (e.g. ANTHROPIC_API_KEY).
func NewAgentCLIBuilder(profiles map[domain.AgentType]CLIProfile, extraEnv ...string) *AgentCLIBuilder {
	env := append(os.Environ(), extraEnv...)
	return &AgentCLIBuilder{profiles: profiles, env: env}
}

func (b *AgentCLIBuilder) Build(session Session) ([]string, string, []string, error) {
	profile, ok := b.profiles[session.Type]
	if !ok {
		return nil, "", nil, fmt.Errorf("no CLI profile registered for agent type %q", session.Type)
	}

	argv := []string{profile.Binary}
	if profile.PromptFlag != "" {
		argv = append(argv, profile.PromptFlag, session.Prompt)
	} else {
		argv = append(argv, session.Prompt)
	}

	cfg := session.Configuration
	if cfg.Model != "" && profile.ModelFlag != "" {
		argv = append(argv, profile.ModelFlag, cfg.Model)
	}
	if profile.OutputFormatFlag != "" {
		format := cfg.OutputFormat
		if format == "" {
			format = domain.OutputFormatStreamJSON
		}
		argv = append(argv, profile.OutputFormatFlag, string(format))
	}
	if profile.AllowedToolsFlag != "" {
		for _, tool := range cfg.AllowedTools {
			argv = append(argv, profile.AllowedToolsFlag, tool)
		}
	}
	if profile.DisallowedToolsFlag != "" {
		for _, tool := range cfg.DisallowedTools {
			argv = append(argv, profile.DisallowedToolsFlag, tool)
		}
	}
	argv = append(argv, cfg.CustomArgs...)

	if cfg.TimeoutMillis > 0 {
		argv = append(argv, "--timeout", strconv.FormatInt(cfg.TimeoutMillis, 10))
	}

	dir := cfg.WorkingDirectory
	return argv, dir, b.env, nil
}
