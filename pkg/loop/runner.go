package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/message"
	"github.com/cexll/agentcore-go/pkg/model"
	"github.com/cexll/agentcore-go/pkg/tool"
)

const (
	defaultMaxSteps = 50

	// InterruptStepLimit is the reason reported when a call runs out of steps.
	InterruptStepLimit = "step_limit_reached"

	stepLimitFallback = "[interrupted: step limit reached]"
)

// Result is the outcome of one full call.
type Result struct {
	FinalResponse string
	Completed     bool
	Steps         int
}

// Runner drives the think/act cycle for one agent. It owns no state of its
// own; everything it touches is passed in or injected at construction.
type Runner struct {
	model     model.Model
	registry  *tool.Registry
	executor  *tool.Executor
	hooks     []hook.LoopHooks
	lifecycle hook.Lifecycle
	system    string
	modelName string
	maxSteps  int
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHooks installs the Features' loop hooks, in registration order.
func WithHooks(hooks []hook.LoopHooks) Option {
	return func(r *Runner) { r.hooks = hooks }
}

// WithLifecycle installs the observability sink.
func WithLifecycle(lc hook.Lifecycle) Option {
	return func(r *Runner) { r.lifecycle = lc }
}

// WithSystemPrompt sets the system prompt sent with every model call.
func WithSystemPrompt(system string) Option {
	return func(r *Runner) { r.system = system }
}

// WithModelName overrides the provider's default model per call.
func WithModelName(name string) Option {
	return func(r *Runner) { r.modelName = name }
}

// WithMaxSteps bounds the number of loop steps per call.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// NewRunner builds a runner over a model, a tool registry and an executor.
func NewRunner(m model.Model, registry *tool.Registry, executor *tool.Executor, opts ...Option) *Runner {
	r := &Runner{
		model:     m,
		registry:  registry,
		executor:  executor,
		lifecycle: hook.NopLifecycle{},
		maxSteps:  defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lifecycle == nil {
		r.lifecycle = hook.NopLifecycle{}
	}
	return r
}

// Run executes the loop until the call completes, a hook ends it, the model
// fails, or the step limit interrupts it. The input is appended to the log
// as a user message before the first step. A model error propagates out
// unchanged; every other failure mode resolves to a Result.
func (r *Runner) Run(ctx context.Context, input string, log *message.Log) (Result, error) {
	log.Append(message.Message{Role: message.RoleUser, Content: input})

	for step := 1; step <= r.maxSteps; step++ {
		r.lifecycle.StepStart(ctx, step)
		for _, h := range r.hooks {
			h.OnStepStart(ctx, step)
		}

		if res, done := r.preLLM(ctx, log, step); done {
			return res, nil
		}

		msg, elapsed, err := r.complete(ctx, log, step)
		if err != nil {
			return Result{Steps: step}, err
		}

		directive := r.postLLM(ctx, log, msg, elapsed, step)
		if directive.Kind == hook.KindEnd || directive.Kind == hook.KindBlock {
			return Result{FinalResponse: msg.Content, Completed: true, Steps: step}, nil
		}

		if len(msg.ToolCalls) == 0 {
			if directive.Kind == hook.KindContinue {
				if sd := r.finishStep(ctx, step, 0); sd.Kind == hook.KindEnd {
					return Result{FinalResponse: msg.Content, Completed: true, Steps: step}, nil
				}
				continue
			}
			if pending, ok := r.pendingWork(ctx); ok {
				log.Append(message.Message{Role: message.RoleAssistant, Content: pending})
				if sd := r.finishStep(ctx, step, 0); sd.Kind == hook.KindEnd {
					return Result{FinalResponse: pending, Completed: true, Steps: step}, nil
				}
				continue
			}
			r.finishStep(ctx, step, 0)
			return Result{FinalResponse: msg.Content, Completed: true, Steps: step}, nil
		}

		// The wait primitive resolves only after every other call in the
		// step has finished, so a dispatch later in the same step counts as
		// pending work by the time should-wait is consulted.
		var waits []message.ToolCall
		for _, call := range msg.ToolCalls {
			if call.Name == tool.WaitToolName {
				waits = append(waits, call)
				continue
			}
			r.executor.Execute(ctx, call, log)
		}
		for _, call := range waits {
			r.resolveWait(ctx, call, log)
		}

		stepDirective := r.finishStep(ctx, step, len(msg.ToolCalls))
		if stepDirective.Kind == hook.KindEnd {
			return Result{FinalResponse: log.LastAssistantContent(), Completed: true, Steps: step}, nil
		}
	}

	return r.interrupt(ctx, log), nil
}

// preLLM runs the LLM-start hooks. The first Block short-circuits the step:
// its reason is recorded as the assistant's answer and the call completes.
func (r *Runner) preLLM(ctx context.Context, log *message.Log, step int) (Result, bool) {
	for _, h := range r.hooks {
		res := h.OnLLMStart(ctx, log, step)
		if res.Kind == hook.KindBlock {
			reason := res.Reason
			if reason == "" {
				reason = "blocked by hook"
			}
			log.Append(message.Message{Role: message.RoleAssistant, Content: reason})
			return Result{FinalResponse: reason, Completed: true, Steps: step}, true
		}
	}
	return Result{}, false
}

func (r *Runner) complete(ctx context.Context, log *message.Log, step int) (message.Message, time.Duration, error) {
	r.lifecycle.LLMStart(ctx, step)

	req := model.Request{
		Messages: log.All(),
		Tools:    r.registry.Definitions(),
		System:   r.system,
		Model:    r.modelName,
	}

	start := time.Now()
	resp, err := r.model.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return message.Message{}, elapsed, fmt.Errorf("model call: %w", err)
	}

	msg := message.Message{
		Role:      message.RoleAssistant,
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
	}
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	return msg, elapsed, nil
}

// postLLM consults the LLM-finish hooks, then appends the assistant message
// unconditionally. The strongest directive wins: Block over End over
// Continue.
func (r *Runner) postLLM(ctx context.Context, log *message.Log, msg message.Message, elapsed time.Duration, step int) hook.Result {
	directive := hook.None
	for _, h := range r.hooks {
		res := h.OnLLMFinish(ctx, log, msg, elapsed)
		directive = stronger(directive, res)
	}

	log.Append(msg)
	r.lifecycle.LLMFinish(ctx, step, msg, elapsed)
	return directive
}

func (r *Runner) pendingWork(ctx context.Context) (string, bool) {
	for _, h := range r.hooks {
		if text, ok := h.PendingWork(ctx); ok && text != "" {
			return text, true
		}
	}
	return "", false
}

// resolveWait handles one wait call once the rest of the step has run. When
// a Feature reports pending asynchronous work, the loop suspends on that
// Feature's mailbox instead of executing the tool; with nothing pending the
// tool runs normally and reports the degenerate case.
func (r *Runner) resolveWait(ctx context.Context, call message.ToolCall, log *message.Log) {
	for _, h := range r.hooks {
		if !h.ShouldWait(ctx) {
			continue
		}
		r.lifecycle.ToolUse(ctx, call)
		start := time.Now()
		text, ok := h.AwaitResult(ctx)
		outcome := message.Outcome{Success: ok, Result: text}
		if !ok {
			outcome = message.Outcome{Success: false, Error: "wait aborted"}
		}
		log.Append(message.NewToolOutcome(call.ID, outcome))
		elapsed := time.Since(start)
		for _, hk := range r.hooks {
			hk.OnPostToolUse(ctx, call, outcome.Success, elapsed)
		}
		r.lifecycle.ToolFinished(ctx, call, outcome.Success, elapsed)
		return
	}
	r.executor.Execute(ctx, call, log)
}

func (r *Runner) finishStep(ctx context.Context, step, toolCalls int) hook.Result {
	directive := hook.None
	for _, h := range r.hooks {
		res := h.OnStepFinished(ctx, step, toolCalls)
		directive = stronger(directive, res)
	}
	r.lifecycle.StepFinished(ctx, step, toolCalls)
	return directive
}

// interrupt finalizes a call that ran out of steps. The last assistant
// content is salvaged so the caller always receives something readable.
func (r *Runner) interrupt(ctx context.Context, log *message.Log) Result {
	r.lifecycle.Interrupt(ctx, InterruptStepLimit)
	for _, h := range r.hooks {
		h.OnMaxSteps(ctx)
	}

	final := log.LastAssistantContent()
	if final == "" {
		final = stepLimitFallback
	}
	return Result{FinalResponse: final, Completed: false, Steps: r.maxSteps}
}

// stronger merges two hook results by precedence: Block > End > Continue >
// Allow > None.
func stronger(a, b hook.Result) hook.Result {
	if rank(b.Kind) > rank(a.Kind) {
		return b
	}
	return a
}

func rank(k hook.Kind) int {
	switch k {
	case hook.KindBlock:
		return 4
	case hook.KindEnd:
		return 3
	case hook.KindContinue:
		return 2
	case hook.KindAllow:
		return 1
	default:
		return 0
	}
}
