package tool

import "context"

// WaitToolName is the reserved tool name the loop intercepts instead of
// dispatching. When the model calls it and a Feature reports pending async
// work, the loop suspends until a result arrives.
const WaitToolName = "wait_for_message"

// Tool is a single capability the model may invoke. Schema returns a JSON
// schema object in generic map form, or nil for tools without parameters.
// Execute receives the model-supplied params plus the injected context
// assembled from matching Feature injectors.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolSchema      map[string]any
	Fn              func(ctx context.Context, params map[string]any, injected map[string]any) (any, error)
}

func (f *Func) Name() string           { return f.ToolName }
func (f *Func) Description() string    { return f.ToolDescription }
func (f *Func) Schema() map[string]any { return f.ToolSchema }

func (f *Func) Execute(ctx context.Context, params map[string]any, injected map[string]any) (any, error) {
	return f.Fn(ctx, params, injected)
}
