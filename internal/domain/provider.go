package domain

// ModelCapabilities describes what a given model supports. It is reported
// through the static provider catalog (`GET /api/providers`); launch
// handling does not consult it.
type ModelCapabilities struct {
	SupportsMCP             bool `json:"supportsMcp"`
	SupportsCustomInstructions bool `json:"supportsCustomInstructions"`
	SupportsResumableSession bool `json:"supportsResumableSession"`
}

// ModelInfo is one selectable model within a provider.
type ModelInfo struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities ModelCapabilities `json:"capabilities"`
}

// ProviderInfo is one backend CLI family exposed by `GET /api/providers`.
type ProviderInfo struct {
	Type   AgentType   `json:"type"`
	Name   string      `json:"name"`
	Models []ModelInfo `json:"models"`
}

// ProviderCatalog is the static registry of known providers (spec §3
// "ProviderInfo / ModelInfo / Capabilities", supplemented feature 3).
var ProviderCatalog = []ProviderInfo{
	{
		Type: AgentTypeClaudeCode,
		Name: "Claude Code",
		Models: []ModelInfo{
			{ID: "claude-sonnet", Name: "Claude Sonnet", Capabilities: ModelCapabilities{
				SupportsMCP: true, SupportsCustomInstructions: true, SupportsResumableSession: true,
			}},
			{ID: "claude-opus", Name: "Claude Opus", Capabilities: ModelCapabilities{
				SupportsMCP: true, SupportsCustomInstructions: true, SupportsResumableSession: true,
			}},
		},
	},
	{
		Type: AgentTypeGeminiCLI,
		Name: "Gemini CLI",
		Models: []ModelInfo{
			{ID: "gemini-pro", Name: "Gemini Pro", Capabilities: ModelCapabilities{
				SupportsMCP: true, SupportsCustomInstructions: false, SupportsResumableSession: false,
			}},
		},
	},
	{
		Type: AgentTypeSynthetic,
		Name: "Synthetic (test double)",
		Models: []ModelInfo{
			{ID: "synthetic-default", Name: "Synthetic Default", Capabilities: ModelCapabilities{
				SupportsMCP: true, SupportsCustomInstructions: true, SupportsResumableSession: true,
			}},
		},
	},
}

// FindProvider looks up a provider by agent type.
func FindProvider(agentType AgentType) (ProviderInfo, bool) {
	for _, p := range ProviderCatalog {
		if p.Type == agentType {
			return p, true
		}
	}
	return ProviderInfo{}, false
}
