package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/tool"
)

// Tool names the feature registers. The wait tool shares its name with the
// loop's wait primitive so the loop can intercept it.
const (
	SpawnToolName = "spawn_agent"
	SendToolName  = "send_to_agent"
	CloseToolName = "close_agent"
	ListToolName  = "list_agents"
	WaitToolName  = tool.WaitToolName

	poolContextKey = "subagent.pool"
)

// Feature wires a Pool into an agent: it contributes the management tools,
// injects the pool into them, and supplies the loop hooks that keep the
// parent running while children work.
type Feature struct {
	pool *Pool
}

// NewFeature wraps an existing pool.
func NewFeature(pool *Pool) *Feature {
	return &Feature{pool: pool}
}

// Pool exposes the underlying pool, mostly for tests and host wiring.
func (f *Feature) Pool() *Pool { return f.pool }

func (f *Feature) Name() string { return "subagents" }

// Tools returns the five management tools.
func (f *Feature) Tools() []tool.Tool {
	return []tool.Tool{
		&spawnTool{fallback: f.pool},
		&sendTool{fallback: f.pool},
		&waitTool{fallback: f.pool},
		&closeTool{fallback: f.pool},
		&listTool{fallback: f.pool},
	}
}

// AsyncToolNames marks dispatch as asynchronous: its effect completes after
// the tool message is recorded.
func (f *Feature) AsyncToolNames() []string {
	return []string{SendToolName}
}

// Injectors provides the pool to every management tool.
func (f *Feature) Injectors() []*tool.Injector {
	pattern := strings.Join([]string{
		SpawnToolName, SendToolName, WaitToolName, CloseToolName, ListToolName,
	}, "|")
	return []*tool.Injector{{
		Pattern: pattern,
		Provide: func(context.Context) map[string]any {
			return map[string]any{poolContextKey: f.pool}
		},
	}}
}

// LoopHooks keeps the parent loop alive while children are busy and relays
// their results.
func (f *Feature) LoopHooks() hook.LoopHooks {
	return &poolHooks{pool: f.pool}
}

// OnDestroy closes every live child.
func (f *Feature) OnDestroy(ctx context.Context) error {
	f.pool.CloseAll(ctx)
	return nil
}

type poolHooks struct {
	hook.NopLoopHooks
	pool *Pool
}

// PendingWork relays the next queued child result, so a finished sub-agent
// is never stranded in the mailbox when the model answers without tool
// calls. With nothing queued but children still busy it reports the count.
func (h *poolHooks) PendingWork(context.Context) (string, bool) {
	if d, ok := h.pool.TakeDelivery(); ok {
		return fmt.Sprintf("[%s] %s", d.AgentID, d.Message), true
	}
	if !h.pool.HasActiveAgents() {
		return "", false
	}
	return fmt.Sprintf("Waiting on %d pending sub-agent task(s).", h.pool.PendingCount()), true
}

func (h *poolHooks) ShouldWait(context.Context) bool {
	return h.pool.HasActiveAgents()
}

func (h *poolHooks) AwaitResult(ctx context.Context) (string, bool) {
	d, err := h.pool.WaitForMessage(ctx, "")
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("[%s] %s", d.AgentID, d.Message), true
}

// poolFrom prefers the injected pool so hosts can swap it per call.
func poolFrom(injected map[string]any, fallback *Pool) *Pool {
	if p, ok := injected[poolContextKey].(*Pool); ok && p != nil {
		return p
	}
	return fallback
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return strings.TrimSpace(value), nil
}

type spawnTool struct {
	fallback *Pool
}

func (t *spawnTool) Name() string { return SpawnToolName }
func (t *spawnTool) Description() string {
	return "Create a new sub-agent of the given type. Returns its id."
}

func (t *spawnTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_type": map[string]any{
				"type":        "string",
				"description": "Kind of sub-agent to create.",
			},
		},
		"required": []any{"agent_type"},
	}
}

func (t *spawnTool) Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error) {
	agentType, err := stringParam(params, "agent_type")
	if err != nil {
		return nil, err
	}
	inst, err := poolFrom(injected, t.fallback).Spawn(ctx, agentType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": inst.ID, "status": inst.Status}, nil
}

type sendTool struct {
	fallback *Pool
}

func (t *sendTool) Name() string { return SendToolName }
func (t *sendTool) Description() string {
	return "Dispatch a message to an idle sub-agent. The sub-agent works in the background; use wait_for_message to collect its result."
}

func (t *sendTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "Id returned by spawn_agent.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Task or question for the sub-agent.",
			},
		},
		"required": []any{"agent_id", "message"},
	}
}

func (t *sendTool) Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error) {
	agentID, err := stringParam(params, "agent_id")
	if err != nil {
		return nil, err
	}
	msg, err := stringParam(params, "message")
	if err != nil {
		return nil, err
	}
	if err := poolFrom(injected, t.fallback).SendTo(ctx, agentID, msg); err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agentID, "dispatched": true}, nil
}

type waitTool struct {
	fallback *Pool
}

func (t *waitTool) Name() string { return WaitToolName }
func (t *waitTool) Description() string {
	return "Wait until a sub-agent reports a result and return it."
}

func (t *waitTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "Optional id to wait for; omit to take the next result from any sub-agent.",
			},
		},
	}
}

// Execute only handles the degenerate case of nothing to wait on. When work
// is pending the loop intercepts the call and suspends on the mailbox
// instead of running the tool.
func (t *waitTool) Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error) {
	pool := poolFrom(injected, t.fallback)
	if !pool.HasActiveAgents() {
		return "no pending sub-agent work", nil
	}
	agentID, _ := params["agent_id"].(string)
	d, err := pool.WaitForMessage(ctx, strings.TrimSpace(agentID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": d.AgentID, "message": d.Message}, nil
}

type closeTool struct {
	fallback *Pool
}

func (t *closeTool) Name() string { return CloseToolName }
func (t *closeTool) Description() string {
	return "Terminate a sub-agent and remove it from the pool. Its id is never reused."
}

func (t *closeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_id": map[string]any{
				"type":        "string",
				"description": "Id returned by spawn_agent.",
			},
		},
		"required": []any{"agent_id"},
	}
}

func (t *closeTool) Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error) {
	agentID, err := stringParam(params, "agent_id")
	if err != nil {
		return nil, err
	}
	if err := poolFrom(injected, t.fallback).Close(ctx, agentID); err != nil {
		return nil, err
	}
	return map[string]any{"agent_id": agentID, "closed": true}, nil
}

type listTool struct {
	fallback *Pool
}

func (t *listTool) Name() string { return ListToolName }
func (t *listTool) Description() string {
	return "List live sub-agents with their status."
}

func (t *listTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listTool) Execute(ctx context.Context, _ map[string]any, injected map[string]any) (any, error) {
	instances := poolFrom(injected, t.fallback).List()
	out := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		item := map[string]any{
			"agent_id": inst.ID,
			"type":     inst.Type,
			"status":   inst.Status,
		}
		if inst.Err != "" {
			item["error"] = inst.Err
		}
		out = append(out, item)
	}
	return out, nil
}
