package hook

import (
	"context"
	"time"

	"github.com/cexll/agentcore-go/pkg/message"
)

// Lifecycle receives observability callbacks from the runtime. Implementations
// are injected where needed; there is no global registry. All callbacks are
// pure observers and must not assume they influence control flow.
type Lifecycle interface {
	CallStart(ctx context.Context, agentID, input string)
	CallEnd(ctx context.Context, agentID string, completed bool, steps int)

	StepStart(ctx context.Context, step int)
	StepFinished(ctx context.Context, step int, toolCalls int)

	LLMStart(ctx context.Context, step int)
	LLMFinish(ctx context.Context, step int, msg message.Message, elapsed time.Duration)

	ToolUse(ctx context.Context, call message.ToolCall)
	ToolFinished(ctx context.Context, call message.ToolCall, success bool, elapsed time.Duration)

	Interrupt(ctx context.Context, reason string)

	SubAgentSpawn(ctx context.Context, id, agentType string)
	SubAgentUpdate(ctx context.Context, id, status, detail string)
	SubAgentDestroy(ctx context.Context, id string)
}

// NopLifecycle is the default observer. Embed it to override a subset.
type NopLifecycle struct{}

func (NopLifecycle) CallStart(context.Context, string, string)     {}
func (NopLifecycle) CallEnd(context.Context, string, bool, int)    {}
func (NopLifecycle) StepStart(context.Context, int)                {}
func (NopLifecycle) StepFinished(context.Context, int, int)        {}
func (NopLifecycle) LLMStart(context.Context, int)                 {}
func (NopLifecycle) LLMFinish(context.Context, int, message.Message, time.Duration) {
}
func (NopLifecycle) ToolUse(context.Context, message.ToolCall) {}
func (NopLifecycle) ToolFinished(context.Context, message.ToolCall, bool, time.Duration) {
}
func (NopLifecycle) Interrupt(context.Context, string)            {}
func (NopLifecycle) SubAgentSpawn(context.Context, string, string) {}
func (NopLifecycle) SubAgentUpdate(context.Context, string, string, string) {
}
func (NopLifecycle) SubAgentDestroy(context.Context, string) {}
