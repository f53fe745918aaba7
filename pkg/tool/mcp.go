package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	mcpClientName    = "agentcore-go"
	mcpClientVersion = "dev"
)

// mcpTransportBuilder enables tests to swap transport implementations.
var mcpTransportBuilder = buildMCPTransport

// RegisterMCPServer connects to a Model Context Protocol server, discovers
// its tools and registers each of them. serverPath accepts an http(s) URL
// (streamable HTTP transport) or a stdio command, optionally prefixed with
// "stdio://". Registration is all-or-nothing: a name collision or schema
// error leaves the registry untouched.
func (r *Registry) RegisterMCPServer(ctx context.Context, serverPath string) error {
	if strings.TrimSpace(serverPath) == "" {
		return fmt.Errorf("server path is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	transport, err := mcpTransportBuilder(ctx, serverPath)
	if err != nil {
		return err
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: mcpClientName, Version: mcpClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect MCP server: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = session.Close()
		}
	}()

	var wrappers []Tool
	for remote, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("list MCP tools: %w", err)
		}
		name := strings.TrimSpace(remote.Name)
		if name == "" {
			return fmt.Errorf("encountered MCP tool with empty name")
		}
		if r.Has(name) {
			return fmt.Errorf("tool %s already registered", name)
		}
		schema, err := convertMCPSchema(remote.InputSchema)
		if err != nil {
			return fmt.Errorf("parse schema for %s: %w", name, err)
		}
		wrappers = append(wrappers, &remoteTool{
			name:        name,
			description: remote.Description,
			schema:      schema,
			session:     session,
		})
	}
	if len(wrappers) == 0 {
		return fmt.Errorf("MCP server returned no tools")
	}

	for _, t := range wrappers {
		if err := r.Register(t); err != nil {
			return err
		}
	}

	r.trackSession(session)
	success = true
	return nil
}

// trackSession keeps the session alive for the registry's lifetime.
func (r *Registry) trackSession(session *mcpsdk.ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, session)
}

// CloseMCP shuts down every MCP session opened through this registry.
func (r *Registry) CloseMCP() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildMCPTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, fmt.Errorf("server path is empty")
	case strings.HasPrefix(spec, "http://"), strings.HasPrefix(spec, "https://"):
		return &mcpsdk.StreamableClientTransport{Endpoint: spec}, nil
	default:
		if after, ok := strings.CutPrefix(spec, "stdio://"); ok {
			spec = after
		}
		parts := strings.Fields(spec)
		if len(parts) == 0 {
			return nil, fmt.Errorf("invalid stdio server path")
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	}
}

func convertMCPSchema(raw any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	if m, ok := raw.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// remoteTool proxies execution to an MCP session.
type remoteTool struct {
	name        string
	description string
	schema      map[string]any
	session     *mcpsdk.ClientSession
}

func (r *remoteTool) Name() string           { return r.name }
func (r *remoteTool) Description() string    { return r.description }
func (r *remoteTool) Schema() map[string]any { return r.schema }

func (r *remoteTool) Execute(ctx context.Context, params map[string]any, _ map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}
	res, err := r.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: r.name, Arguments: params})
	if err != nil {
		return nil, err
	}

	text := flattenMCPContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return nil, fmt.Errorf("%s", text)
	}
	return text, nil
}

func flattenMCPContent(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
