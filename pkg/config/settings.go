package config

import (
	"errors"
	"fmt"
	"strings"
)

// Settings models the runtime configuration file (agentcore.yaml).
// Optional booleans use *bool so nil means "unset" and lower layers apply.
type Settings struct {
	Provider    string   `yaml:"provider,omitempty"`    // "anthropic" or "openai".
	Model       string   `yaml:"model,omitempty"`       // Provider model id.
	MaxSteps    int      `yaml:"maxSteps,omitempty"`    // Loop step limit per call.
	MaxTokens   int      `yaml:"maxTokens,omitempty"`   // Completion token cap.
	System      string   `yaml:"system,omitempty"`      // Default system prompt.
	Temperature *float64 `yaml:"temperature,omitempty"` // Optional sampling temperature.

	Tools    *ToolsConfig    `yaml:"tools,omitempty"`
	SubAgent *SubAgentConfig `yaml:"subagents,omitempty"`
	Trace    *TraceConfig    `yaml:"trace,omitempty"`

	// MCPServers lists transport specs (stdio command or http URL) whose
	// tools are registered at startup.
	MCPServers []string `yaml:"mcpServers,omitempty"`
}

// ToolsConfig controls which tools are exposed to the model.
type ToolsConfig struct {
	Allow        []string `yaml:"allow,omitempty"`        // When set, only these names are registered.
	Deny         []string `yaml:"deny,omitempty"`         // Names never registered.
	WebFetch     *bool    `yaml:"webFetch,omitempty"`     // Enable the builtin WebFetch tool.
	Bash         *bool    `yaml:"bash,omitempty"`         // Enable the builtin bash tool.
	AllowedHosts []string `yaml:"allowedHosts,omitempty"` // WebFetch host allowlist.
}

// SubAgentConfig bounds the sub-agent pool.
type SubAgentConfig struct {
	Enabled  *bool `yaml:"enabled,omitempty"`
	MaxLive  int   `yaml:"maxLive,omitempty"`  // Instance cap per parent; 0 = unlimited.
	MaxDepth int   `yaml:"maxDepth,omitempty"` // Nesting cap for agent trees.
}

// TraceConfig wires the OTLP exporter.
type TraceConfig struct {
	Enabled     *bool  `yaml:"enabled,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"` // OTLP/HTTP collector endpoint.
	ServiceName string `yaml:"serviceName,omitempty"`
}

// DefaultSettings returns the base layer every load starts from.
func DefaultSettings() Settings {
	return Settings{
		Provider: "anthropic",
		MaxSteps: 50,
		SubAgent: &SubAgentConfig{
			Enabled:  boolPtr(true),
			MaxLive:  8,
			MaxDepth: 2,
		},
	}
}

// Validate rejects values the runtime cannot honor.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings is nil")
	}
	var errs []error
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", s.Provider))
	}
	if s.MaxSteps < 0 {
		errs = append(errs, errors.New("maxSteps cannot be negative"))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, errors.New("maxTokens cannot be negative"))
	}
	if s.SubAgent != nil {
		if s.SubAgent.MaxLive < 0 {
			errs = append(errs, errors.New("subagents.maxLive cannot be negative"))
		}
		if s.SubAgent.MaxDepth < 0 {
			errs = append(errs, errors.New("subagents.maxDepth cannot be negative"))
		}
	}
	for _, spec := range s.MCPServers {
		if strings.TrimSpace(spec) == "" {
			errs = append(errs, errors.New("mcpServers entries cannot be empty"))
		}
	}
	return errors.Join(errs...)
}

// Merge overlays src on top of dst and returns the result. Zero values in
// src leave dst untouched; slices and maps replace wholesale.
func Merge(dst, src *Settings) *Settings {
	if dst == nil {
		return src
	}
	if src == nil {
		return dst
	}
	out := *dst
	if src.Provider != "" {
		out.Provider = src.Provider
	}
	if src.Model != "" {
		out.Model = src.Model
	}
	if src.MaxSteps != 0 {
		out.MaxSteps = src.MaxSteps
	}
	if src.MaxTokens != 0 {
		out.MaxTokens = src.MaxTokens
	}
	if src.System != "" {
		out.System = src.System
	}
	if src.Temperature != nil {
		out.Temperature = src.Temperature
	}
	if src.Tools != nil {
		out.Tools = mergeTools(out.Tools, src.Tools)
	}
	if src.SubAgent != nil {
		out.SubAgent = mergeSubAgent(out.SubAgent, src.SubAgent)
	}
	if src.Trace != nil {
		out.Trace = mergeTrace(out.Trace, src.Trace)
	}
	if len(src.MCPServers) > 0 {
		out.MCPServers = append([]string(nil), src.MCPServers...)
	}
	return &out
}

func mergeTools(dst, src *ToolsConfig) *ToolsConfig {
	if dst == nil {
		cp := *src
		return &cp
	}
	out := *dst
	if len(src.Allow) > 0 {
		out.Allow = append([]string(nil), src.Allow...)
	}
	if len(src.Deny) > 0 {
		out.Deny = append([]string(nil), src.Deny...)
	}
	if src.WebFetch != nil {
		out.WebFetch = src.WebFetch
	}
	if src.Bash != nil {
		out.Bash = src.Bash
	}
	if len(src.AllowedHosts) > 0 {
		out.AllowedHosts = append([]string(nil), src.AllowedHosts...)
	}
	return &out
}

func mergeSubAgent(dst, src *SubAgentConfig) *SubAgentConfig {
	if dst == nil {
		cp := *src
		return &cp
	}
	out := *dst
	if src.Enabled != nil {
		out.Enabled = src.Enabled
	}
	if src.MaxLive != 0 {
		out.MaxLive = src.MaxLive
	}
	if src.MaxDepth != 0 {
		out.MaxDepth = src.MaxDepth
	}
	return &out
}

func mergeTrace(dst, src *TraceConfig) *TraceConfig {
	if dst == nil {
		cp := *src
		return &cp
	}
	out := *dst
	if src.Enabled != nil {
		out.Enabled = src.Enabled
	}
	if src.Endpoint != "" {
		out.Endpoint = src.Endpoint
	}
	if src.ServiceName != "" {
		out.ServiceName = src.ServiceName
	}
	return &out
}

func boolPtr(v bool) *bool { return &v }
