package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentcore-go/pkg/tool"
)

const (
	CreateToolName = "task_create"
	UpdateToolName = "task_update"
	ListToolName   = "task_list"
)

// Feature wires a Store into an agent as a set of task-tracking tools.
type Feature struct {
	store *Store
}

// NewFeature wraps the store, creating one when nil is given.
func NewFeature(store *Store) *Feature {
	if store == nil {
		store = NewStore()
	}
	return &Feature{store: store}
}

func (f *Feature) Name() string { return "tasks" }

// Store exposes the underlying store for host wiring.
func (f *Feature) Store() *Store { return f.store }

func (f *Feature) Tools() []tool.Tool {
	return []tool.Tool{
		&createTool{store: f.store},
		&updateTool{store: f.store},
		&listTool{store: f.store},
	}
}

type createTool struct {
	store *Store
}

func (t *createTool) Name() string { return CreateToolName }
func (t *createTool) Description() string {
	return "Create a task to track a unit of work. Returns its id."
}

func (t *createTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject": map[string]any{
				"type":        "string",
				"description": "Short imperative summary of the task.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Optional longer description.",
			},
			"activeForm": map[string]any{
				"type":        "string",
				"description": "Present-continuous form shown while the task runs.",
			},
		},
		"required": []any{"subject", "activeForm"},
	}
}

func (t *createTool) Execute(_ context.Context, params map[string]any, _ map[string]any) (any, error) {
	subject, _ := params["subject"].(string)
	description, _ := params["description"].(string)
	activeForm, _ := params["activeForm"].(string)
	id, err := t.store.Create(subject, description, activeForm)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": id, "status": StatusPending}, nil
}

type updateTool struct {
	store *Store
}

func (t *updateTool) Name() string { return UpdateToolName }
func (t *updateTool) Description() string {
	return "Update a task's status, owner, and dependencies."
}

func (t *updateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId": map[string]any{
				"type":        "string",
				"description": "ID of the task to update.",
			},
			"status": map[string]any{
				"type":        "string",
				"description": "New task status.",
				"enum":        []string{StatusPending, StatusInProgress, StatusCompleted},
			},
			"owner": map[string]any{
				"type":        "string",
				"description": "Optional task owner.",
			},
			"blocks": map[string]any{
				"type":        "array",
				"description": "IDs of tasks blocked by this task.",
				"items":       map[string]any{"type": "string"},
			},
			"blockedBy": map[string]any{
				"type":        "array",
				"description": "IDs of tasks that block this task.",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []any{"taskId"},
	}
}

func (t *updateTool) Execute(_ context.Context, params map[string]any, _ map[string]any) (any, error) {
	id, ok := params["taskId"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("taskId is required")
	}

	var u Update
	if raw, ok := params["status"]; ok && raw != nil {
		value, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("status must be string, got %T", raw)
		}
		normalized := NormalizeStatus(value)
		if normalized == "" {
			return nil, fmt.Errorf("status %q is invalid", strings.TrimSpace(value))
		}
		u.Status = &normalized
	}
	if raw, ok := params["owner"]; ok {
		owner, _ := raw.(string)
		u.Owner = &owner
	}
	if raw, ok := params["blocks"]; ok {
		list, err := idList(raw, "blocks")
		if err != nil {
			return nil, err
		}
		u.Blocks, u.HasBlocks = list, true
	}
	if raw, ok := params["blockedBy"]; ok {
		list, err := idList(raw, "blockedBy")
		if err != nil {
			return nil, err
		}
		u.BlockedBy, u.HasBlockedBy = list, true
	}

	res, err := t.store.Update(id, u)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"task_id":  res.Task.ID,
		"status":   res.Task.Status,
		"blocks":   res.Blocks,
		"revision": res.Revision,
	}
	if res.Task.Owner != "" {
		out["owner"] = res.Task.Owner
	}
	if len(res.Task.BlockedBy) > 0 {
		out["blocked_by"] = res.Task.BlockedBy
	}
	if len(res.Unblocked) > 0 {
		out["unblocked"] = res.Unblocked
	}
	return out, nil
}

func idList(value any, field string) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, raw := range v {
			id, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be string, got %T", field, i, raw)
			}
			out = append(out, id)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array, got %T", field, value)
	}
}

type listTool struct {
	store *Store
}

func (t *listTool) Name() string { return ListToolName }
func (t *listTool) Description() string {
	return "List tracked tasks with status and dependencies."
}

func (t *listTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listTool) Execute(context.Context, map[string]any, map[string]any) (any, error) {
	all := t.store.List()
	out := make([]map[string]any, 0, len(all))
	for _, task := range all {
		item := map[string]any{
			"task_id": task.ID,
			"subject": task.Subject,
			"status":  task.Status,
		}
		if task.Owner != "" {
			item["owner"] = task.Owner
		}
		if len(task.BlockedBy) > 0 {
			item["blocked_by"] = task.BlockedBy
		}
		out = append(out, item)
	}
	return out, nil
}
