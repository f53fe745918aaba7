package feature

import (
	"context"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/tool"
)

// Feature is a composable unit of agent behavior. The base interface only
// names the feature; everything else is an optional capability asserted once
// at registration time.
type Feature interface {
	Name() string
}

// ToolProvider contributes tools to the agent's registry.
type ToolProvider interface {
	Feature
	Tools() []tool.Tool
}

// AsyncToolProvider marks tool names whose effects complete asynchronously.
// The loop keeps running while any of them have pending work.
type AsyncToolProvider interface {
	Feature
	AsyncToolNames() []string
}

// ContextProvider contributes injected-context values to matching tools.
type ContextProvider interface {
	Feature
	Injectors() []*tool.Injector
}

// LoopHookProvider contributes control-flow hooks to the loop runner.
type LoopHookProvider interface {
	Feature
	LoopHooks() hook.LoopHooks
}

// Initializer runs once when the owning agent starts, after dependency
// resolution, in topological order.
type Initializer interface {
	Feature
	OnInitiate(ctx context.Context) error
}

// Destroyer runs once when the owning agent shuts down, in reverse
// initialization order.
type Destroyer interface {
	Feature
	OnDestroy(ctx context.Context) error
}

// Dependent declares hard dependencies on other features by name. A missing
// dependency or a cycle is a registration error.
type Dependent interface {
	Feature
	DependsOn() []string
}
