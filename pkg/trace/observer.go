package trace

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/message"
)

// Observer implements hook.Lifecycle on top of OpenTelemetry: one span per
// call, child spans per step, model round-trip and tool execution. It is an
// injected observer, not a global; create one per agent.
//
// Calls on one agent are serialized and steps within a call are sequential,
// so a small amount of mutable span state guarded by a mutex suffices.
type Observer struct {
	hook.NopLifecycle
	tracer oteltrace.Tracer

	mu       sync.Mutex
	callCtx  context.Context
	callSpan oteltrace.Span
	stepCtx  context.Context
	stepSpan oteltrace.Span
	llmSpan  oteltrace.Span
	tools    map[string]oteltrace.Span
}

// NewObserver creates an observer using the globally installed provider.
func NewObserver() *Observer {
	return &Observer{
		tracer: otel.Tracer(tracerName),
		tools:  make(map[string]oteltrace.Span),
	}
}

// Sink returns a log observer that records every append as a span event.
func (o *Observer) Sink() message.Sink {
	return func(msg message.Message) {
		o.mu.Lock()
		span := o.callSpan
		o.mu.Unlock()
		if span == nil {
			return
		}
		span.AddEvent("log.append", oteltrace.WithAttributes(
			attribute.String("message.role", msg.Role),
			attribute.Int("message.tool_calls", len(msg.ToolCalls)),
		))
	}
}

func (o *Observer) CallStart(ctx context.Context, agentID, input string) {
	callCtx, span := o.tracer.Start(ctx, "agent.call", oteltrace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.Int("input.chars", len(input)),
	))
	o.mu.Lock()
	o.callCtx = callCtx
	o.callSpan = span
	o.mu.Unlock()
}

func (o *Observer) CallEnd(_ context.Context, agentID string, completed bool, steps int) {
	o.mu.Lock()
	span := o.callSpan
	o.callCtx = nil
	o.callSpan = nil
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Bool("call.completed", completed),
		attribute.Int("call.steps", steps),
	)
	if !completed {
		span.SetStatus(codes.Error, "interrupted")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (o *Observer) StepStart(_ context.Context, step int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.callCtx
	if parent == nil {
		parent = context.Background()
	}
	o.stepCtx, o.stepSpan = o.tracer.Start(parent, "agent.step", oteltrace.WithAttributes(
		attribute.Int("step", step),
	))
}

func (o *Observer) StepFinished(_ context.Context, step, toolCalls int) {
	o.mu.Lock()
	span := o.stepSpan
	o.stepSpan = nil
	o.stepCtx = nil
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("step.tool_calls", toolCalls))
	span.End()
}

func (o *Observer) LLMStart(_ context.Context, step int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.stepCtx
	if parent == nil {
		parent = context.Background()
	}
	_, o.llmSpan = o.tracer.Start(parent, "model.complete", oteltrace.WithAttributes(
		attribute.Int("step", step),
	))
}

func (o *Observer) LLMFinish(_ context.Context, _ int, msg message.Message, elapsed time.Duration) {
	o.mu.Lock()
	span := o.llmSpan
	o.llmSpan = nil
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int64("elapsed_ms", elapsed.Milliseconds()),
		attribute.Int("response.tool_calls", len(msg.ToolCalls)),
		attribute.Int("response.chars", len(msg.Content)),
	)
	span.End()
}

func (o *Observer) ToolUse(_ context.Context, call message.ToolCall) {
	o.mu.Lock()
	defer o.mu.Unlock()
	parent := o.stepCtx
	if parent == nil {
		parent = context.Background()
	}
	_, span := o.tracer.Start(parent, "tool.execute", oteltrace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	o.tools[call.ID] = span
}

func (o *Observer) ToolFinished(_ context.Context, call message.ToolCall, success bool, elapsed time.Duration) {
	o.mu.Lock()
	span := o.tools[call.ID]
	delete(o.tools, call.ID)
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Bool("tool.success", success),
		attribute.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	if !success {
		span.SetStatus(codes.Error, "tool failed")
	}
	span.End()
}

func (o *Observer) Interrupt(_ context.Context, reason string) {
	o.mu.Lock()
	span := o.callSpan
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.AddEvent("interrupt", oteltrace.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (o *Observer) SubAgentSpawn(_ context.Context, id, agentType string) {
	o.addEvent("subagent.spawn",
		attribute.String("subagent.id", id),
		attribute.String("subagent.type", agentType),
	)
}

func (o *Observer) SubAgentUpdate(_ context.Context, id, status, detail string) {
	attrs := []attribute.KeyValue{
		attribute.String("subagent.id", id),
		attribute.String("subagent.status", status),
	}
	if detail != "" {
		attrs = append(attrs, attribute.String("subagent.detail", detail))
	}
	o.addEvent("subagent.update", attrs...)
}

func (o *Observer) SubAgentDestroy(_ context.Context, id string) {
	o.addEvent("subagent.destroy", attribute.String("subagent.id", id))
}

func (o *Observer) addEvent(name string, attrs ...attribute.KeyValue) {
	o.mu.Lock()
	span := o.callSpan
	o.mu.Unlock()
	if span == nil {
		return
	}
	span.AddEvent(name, oteltrace.WithAttributes(attrs...))
}
