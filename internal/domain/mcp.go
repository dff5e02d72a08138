package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MCPTransport is the wire transport an MCP server definition uses.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
	MCPTransportSSE   MCPTransport = "sse"
)

var mcpServerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MCPServerDef is one entry of an MCPConfiguration's server map.
type MCPServerDef struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport MCPTransport      `json:"transport,omitempty"`
}

// MCPConfiguration is the value type from spec §3: a name -> server map plus
// an optional strict flag. Serialization format is specified in §6.5.
type MCPConfiguration struct {
	Servers map[string]MCPServerDef `json:"mcpServers"`
	Strict  bool                    `json:"-"`
}

// Clone returns a deep copy.
func (c MCPConfiguration) Clone() MCPConfiguration {
	clone := MCPConfiguration{Strict: c.Strict}
	if c.Servers != nil {
		clone.Servers = make(map[string]MCPServerDef, len(c.Servers))
		for name, def := range c.Servers {
			cp := def
			cp.Args = append([]string{}, def.Args...)
			if def.Env != nil {
				cp.Env = make(map[string]string, len(def.Env))
				for k, v := range def.Env {
					cp.Env[k] = v
				}
			}
			clone.Servers[name] = cp
		}
	}
	return clone
}

// Validate enforces spec §3's naming, uniqueness, and non-empty-command
// constraints. Map keys are already unique by construction; what remains to
// check is the name pattern and the command field per server.
func (c MCPConfiguration) Validate() error {
	for name, def := range c.Servers {
		if !mcpServerNamePattern.MatchString(name) {
			return NewValidationError(fmt.Sprintf("mcp server name %q must match [A-Za-z0-9_-]+", name))
		}
		if strings.TrimSpace(def.Command) == "" {
			return NewValidationError(fmt.Sprintf("mcp server %q must have a non-empty command", name))
		}
		switch def.Transport {
		case "", MCPTransportStdio, MCPTransportHTTP, MCPTransportSSE:
		default:
			return NewValidationError(fmt.Sprintf("mcp server %q has unknown transport %q", name, def.Transport))
		}
	}
	return nil
}

// mcpWireServer is the serialization shape from spec §6.5: transport is
// omitted entirely when stdio.
type mcpWireServer struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport MCPTransport      `json:"transport,omitempty"`
}

type mcpWireDocument struct {
	Servers map[string]mcpWireServer `json:"mcpServers"`
}

// ToJSON serializes the configuration to the `{"mcpServers": {...}}` wire
// format of spec §6.5, passed as a JSON string to the upstream proxy.
func (c MCPConfiguration) ToJSON() (string, error) {
	doc := mcpWireDocument{Servers: make(map[string]mcpWireServer, len(c.Servers))}
	for name, def := range c.Servers {
		wire := mcpWireServer{Command: def.Command, Args: def.Args, Env: def.Env}
		if def.Transport != MCPTransportStdio {
			wire.Transport = def.Transport
		}
		doc.Servers[name] = wire
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal mcp configuration: %w", err)
	}
	return string(out), nil
}

// MCPConfigurationFromJSON parses the wire format back into a
// MCPConfiguration, defaulting an omitted transport to stdio.
func MCPConfigurationFromJSON(raw string) (MCPConfiguration, error) {
	var doc mcpWireDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return MCPConfiguration{}, fmt.Errorf("unmarshal mcp configuration: %w", err)
	}
	cfg := MCPConfiguration{Servers: make(map[string]MCPServerDef, len(doc.Servers))}
	for name, wire := range doc.Servers {
		transport := wire.Transport
		if transport == "" {
			transport = MCPTransportStdio
		}
		cfg.Servers[name] = MCPServerDef{
			Command:   wire.Command,
			Args:      wire.Args,
			Env:       wire.Env,
			Transport: transport,
		}
	}
	return cfg, nil
}

// MCPPolicy controls which MCP transports are allowed for a launch, and how
// their definitions should be rewritten before use. Grounded on the
// allow/deny and URL-rewrite shape of the teacher's executor policy.
type MCPPolicy struct {
	AllowStdio       bool
	AllowHTTP        bool
	AllowSSE         bool
	EnvInjection     map[string]string
	AllowlistServers []string
	DenylistServers  []string
}

// DefaultMCPPolicy returns a permissive policy allowing every transport.
func DefaultMCPPolicy() MCPPolicy {
	return MCPPolicy{AllowStdio: true, AllowHTTP: true, AllowSSE: true}
}

// ResolvedMCPServer is one server definition after policy resolution.
type ResolvedMCPServer struct {
	Name      string
	Transport MCPTransport
	Command   string
	Args      []string
	Env       map[string]string
}

// ResolveMCPServers filters and env-injects the configuration's servers
// against a policy, returning warnings for servers skipped rather than
// failing the whole launch.
func ResolveMCPServers(cfg MCPConfiguration, policy MCPPolicy) ([]ResolvedMCPServer, []string) {
	var warnings []string
	resolved := make([]ResolvedMCPServer, 0, len(cfg.Servers))

	for name, def := range cfg.Servers {
		if !policyAllowsServerName(policy, name) {
			warnings = append(warnings, fmt.Sprintf("mcp server %q skipped: not allowed by policy", name))
			continue
		}
		transport := def.Transport
		if transport == "" {
			transport = MCPTransportStdio
		}
		if !policyAllowsTransport(policy, transport) {
			warnings = append(warnings, fmt.Sprintf("mcp server %q skipped: transport %q not allowed", name, transport))
			continue
		}

		env := make(map[string]string, len(policy.EnvInjection)+len(def.Env))
		for k, v := range policy.EnvInjection {
			env[k] = v
		}
		for k, v := range def.Env {
			env[k] = v
		}

		resolved = append(resolved, ResolvedMCPServer{
			Name:      name,
			Transport: transport,
			Command:   def.Command,
			Args:      append([]string{}, def.Args...),
			Env:       env,
		})
	}

	return resolved, warnings
}

func policyAllowsTransport(policy MCPPolicy, transport MCPTransport) bool {
	switch transport {
	case MCPTransportStdio:
		return policy.AllowStdio
	case MCPTransportHTTP:
		return policy.AllowHTTP
	case MCPTransportSSE:
		return policy.AllowSSE
	default:
		return false
	}
}

func policyAllowsServerName(policy MCPPolicy, name string) bool {
	if len(policy.AllowlistServers) > 0 && !containsString(policy.AllowlistServers, name) {
		return false
	}
	if len(policy.DenylistServers) > 0 && containsString(policy.DenylistServers, name) {
		return false
	}
	return true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
