package runner

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// ProxyEndpointResolver builds the single HTTP-SSE proxy URL every agent
// type shares (spec §6.3's ClaudeProxyURL wiring), posting the session as a
// JSON body.
type ProxyEndpointResolver struct {
	BaseURL string
}

func (r ProxyEndpointResolver) Resolve(session Session) (string, []byte, error) {
	body, err := json.Marshal(struct {
		AgentID string             `json:"agentId"`
		Type    domain.AgentType   `json:"type"`
		Prompt  string             `json:"prompt"`
		Config  domain.AgentConfig `json:"config"`
	}{AgentID: session.AgentID, Type: session.Type, Prompt: session.Prompt, Config: session.Configuration})
	if err != nil {
		return "", nil, fmt.Errorf("marshal sse proxy body: %w", err)
	}
	return r.BaseURL, body, nil
}

// AdapterFactory selects the configured runner variant ("sdk" for the
// subprocess runner, "python-proxy" for the HTTP-SSE runner, or "container")
// for claude-code/gemini-cli launches, and always routes AgentTypeSynthetic
// to the in-memory scripted runner regardless of the configured adapter,
// since synthetic agents exist purely for tests and demos (spec §6.6's
// CLAUDE_ADAPTER selecting among "real" backends). The older "subprocess"
// and "sse" spellings are still accepted as aliases for "sdk" and
// "python-proxy" respectively.
type AdapterFactory struct {
	Adapter    string
	Subprocess *SubprocessRunner
	SSE        *SSERunner
	Synthetic  *SyntheticRunner
	// Container is populated by the composition root only when a Docker
	// daemon was reachable at startup (see NewContainerRunner); nil means
	// the "container" adapter is unavailable and RunnerFor rejects it.
	Container *ContainerRunner
}

// NewAdapterFactory wires all three runner variants behind one Factory,
// choosing which of Subprocess/SSE backs claude-code and gemini-cli launches
// per adapter.
func NewAdapterFactory(adapter string, proxyURL string, logger *zap.Logger) *AdapterFactory {
	builder := NewAgentCLIBuilder(DefaultCLIProfiles)
	return &AdapterFactory{
		Adapter:    adapter,
		Subprocess: NewSubprocessRunner(builder, logger),
		SSE:        NewSSERunner(http.DefaultClient, ProxyEndpointResolver{BaseURL: proxyURL}, logger),
		Synthetic:  NewSyntheticRunner(logger),
	}
}

func (f *AdapterFactory) RunnerFor(agentType domain.AgentType) (Runner, error) {
	if agentType == domain.AgentTypeSynthetic {
		return f.Synthetic, nil
	}

	if _, known := domain.FindProvider(agentType); !known {
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}

	switch f.Adapter {
	case "python-proxy", "sse", "":
		return f.SSE, nil
	case "sdk", "subprocess":
		return f.Subprocess, nil
	case "container":
		if f.Container == nil {
			return nil, fmt.Errorf("CLAUDE_ADAPTER=container but no docker daemon was reachable at startup")
		}
		return f.Container, nil
	default:
		return nil, fmt.Errorf("unrecognized CLAUDE_ADAPTER %q", f.Adapter)
	}
}
