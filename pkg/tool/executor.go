package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/message"
)

// Executor runs a single tool call and records exactly one tool-role message
// in the log. It never returns an error: every failure mode, including
// unknown tools, hook vetoes, tool errors and panics, becomes a structured
// {success:false} outcome the model can read and react to.
type Executor struct {
	registry  *Registry
	hooks     []hook.LoopHooks
	injectors []*Injector
	lifecycle hook.Lifecycle
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithHooks installs the Features' loop hooks consulted before and after
// every tool execution.
func WithHooks(hooks []hook.LoopHooks) ExecutorOption {
	return func(e *Executor) { e.hooks = hooks }
}

// WithInjectors installs the context injectors merged per tool name.
func WithInjectors(injectors []*Injector) ExecutorOption {
	return func(e *Executor) { e.injectors = injectors }
}

// WithLifecycle installs the observability sink.
func WithLifecycle(lc hook.Lifecycle) ExecutorOption {
	return func(e *Executor) { e.lifecycle = lc }
}

// NewExecutor builds an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		lifecycle: hook.NopLifecycle{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lifecycle == nil {
		e.lifecycle = hook.NopLifecycle{}
	}
	return e
}

// Execute runs one tool call end to end. The returned outcome mirrors the
// tool message appended to the log.
func (e *Executor) Execute(ctx context.Context, call message.ToolCall, log *message.Log) message.Outcome {
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}

	e.lifecycle.ToolUse(ctx, call)
	start := time.Now()

	outcome := e.run(ctx, call)

	elapsed := time.Since(start)
	log.Append(message.NewToolOutcome(call.ID, outcome))

	for _, h := range e.hooks {
		h.OnPostToolUse(ctx, call, outcome.Success, elapsed)
	}
	e.lifecycle.ToolFinished(ctx, call, outcome.Success, elapsed)

	return outcome
}

func (e *Executor) run(ctx context.Context, call message.ToolCall) message.Outcome {
	for _, h := range e.hooks {
		res := h.OnPreToolUse(ctx, call)
		switch res.Kind {
		case hook.KindBlock:
			reason := res.Reason
			if reason == "" {
				reason = "blocked by hook"
			}
			return message.Outcome{Success: false, Error: reason}
		case hook.KindAllow, hook.KindContinue, hook.KindEnd:
			// Only Block carries meaning at this hook point.
		default:
		}
	}

	t, err := e.registry.Get(call.Name)
	if err != nil {
		return message.Outcome{Success: false, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	injected := mergeInjected(ctx, e.injectors, call.Name)

	result, err := e.invoke(ctx, t, call.Arguments, injected)
	if err != nil {
		return message.Outcome{Success: false, Error: err.Error()}
	}
	return message.Outcome{Success: true, Result: result}
}

// invoke isolates the panic boundary: a panicking tool yields a failure
// outcome instead of unwinding the loop.
func (e *Executor) invoke(ctx context.Context, t Tool, params, injected map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	if params == nil {
		params = map[string]any{}
	}
	return t.Execute(ctx, params, injected)
}
