package hook

import (
	"context"
	"time"

	"github.com/cexll/agentcore-go/pkg/message"
)

// LoopHooks is the full set of control-flow extension points a Feature may
// implement. Embed NopLoopHooks and override only what the Feature needs;
// the runner treats a None result the same as an absent hook.
type LoopHooks interface {
	// OnStepStart fires at the top of every loop step.
	OnStepStart(ctx context.Context, step int)

	// OnLLMStart runs before the model call. Block short-circuits the step:
	// the reason is appended as an assistant message and the call completes.
	OnLLMStart(ctx context.Context, log *message.Log, step int) Result

	// OnLLMFinish runs after the model call, before the assistant message is
	// appended. End finishes the call once the message is recorded.
	OnLLMFinish(ctx context.Context, log *message.Log, msg message.Message, elapsed time.Duration) Result

	// OnStepFinished runs after all tool calls of a step executed. End stops
	// the loop; Continue forces another step.
	OnStepFinished(ctx context.Context, step int, toolCalls int) Result

	// OnPreToolUse guards a single tool execution. Block records a failure
	// outcome instead of running the tool.
	OnPreToolUse(ctx context.Context, call message.ToolCall) Result

	// OnPostToolUse observes a finished tool execution.
	OnPostToolUse(ctx context.Context, call message.ToolCall, success bool, elapsed time.Duration)

	// PendingWork reports outstanding asynchronous work the loop should keep
	// running for when the model produced no tool calls. The string becomes a
	// synthetic assistant message.
	PendingWork(ctx context.Context) (string, bool)

	// ShouldWait reports whether the wait primitive should suspend the loop.
	ShouldWait(ctx context.Context) bool

	// AwaitResult blocks until an asynchronous result is available. Returns
	// false when this Feature has nothing to wait on.
	AwaitResult(ctx context.Context) (string, bool)

	// OnMaxSteps fires when the step limit interrupts the call.
	OnMaxSteps(ctx context.Context)
}

// NopLoopHooks implements every LoopHooks method as a no-op.
type NopLoopHooks struct{}

func (NopLoopHooks) OnStepStart(context.Context, int) {}

func (NopLoopHooks) OnLLMStart(context.Context, *message.Log, int) Result { return None }

func (NopLoopHooks) OnLLMFinish(context.Context, *message.Log, message.Message, time.Duration) Result {
	return None
}

func (NopLoopHooks) OnStepFinished(context.Context, int, int) Result { return None }

func (NopLoopHooks) OnPreToolUse(context.Context, message.ToolCall) Result { return None }

func (NopLoopHooks) OnPostToolUse(context.Context, message.ToolCall, bool, time.Duration) {}

func (NopLoopHooks) PendingWork(context.Context) (string, bool) { return "", false }

func (NopLoopHooks) ShouldWait(context.Context) bool { return false }

func (NopLoopHooks) AwaitResult(context.Context) (string, bool) { return "", false }

func (NopLoopHooks) OnMaxSteps(context.Context) {}
