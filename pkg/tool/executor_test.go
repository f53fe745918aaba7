package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/message"
)

type recordingHooks struct {
	hook.NopLoopHooks
	pre   hook.Result
	posts []bool
}

func (h *recordingHooks) OnPreToolUse(context.Context, message.ToolCall) hook.Result {
	return h.pre
}

func (h *recordingHooks) OnPostToolUse(_ context.Context, _ message.ToolCall, success bool, _ time.Duration) {
	h.posts = append(h.posts, success)
}

func echoTool(name string) Tool {
	return &Func{
		ToolName: name,
		Fn: func(_ context.Context, params, injected map[string]any) (any, error) {
			return map[string]any{"params": params, "injected": injected}, nil
		},
	}
}

func TestExecutorRecordsExactlyOneMessage(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	exec := NewExecutor(reg)
	log := message.NewLog()

	outcome := exec.Execute(context.Background(), message.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"x": 1}}, log)
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if log.Len() != 1 {
		t.Fatalf("expected exactly one tool message, got %d", log.Len())
	}
	last, _ := log.Last()
	if last.Role != message.RoleTool || last.ToolCallID != "call_1" {
		t.Fatalf("tool message malformed: %+v", last)
	}
	decoded, err := message.DecodeOutcome(last.Content)
	if err != nil || !decoded.Success {
		t.Fatalf("outcome round-trip failed: %+v err=%v", decoded, err)
	}
}

func TestExecutorUnknownToolIsFailureOutcome(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	log := message.NewLog()

	outcome := exec.Execute(context.Background(), message.ToolCall{ID: "c", Name: "missing"}, log)
	if outcome.Success {
		t.Fatal("unknown tool must fail")
	}
	if outcome.Error != "unknown tool: missing" {
		t.Fatalf("error mismatch: %q", outcome.Error)
	}
	// Failure still lands in the log so the model can see it.
	if log.Len() != 1 {
		t.Fatalf("expected failure message in log, got %d", log.Len())
	}
}

func TestExecutorHookBlockShortCircuits(t *testing.T) {
	reg := NewRegistry()
	called := false
	if err := reg.Register(&Func{
		ToolName: "guarded",
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			called = true
			return nil, nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	h := &recordingHooks{pre: hook.Block("quota exceeded")}
	exec := NewExecutor(reg, WithHooks([]hook.LoopHooks{h}))
	log := message.NewLog()

	outcome := exec.Execute(context.Background(), message.ToolCall{ID: "c", Name: "guarded"}, log)
	if outcome.Success || outcome.Error != "quota exceeded" {
		t.Fatalf("block not honored: %+v", outcome)
	}
	if called {
		t.Fatal("blocked tool must not run")
	}
	// Post hooks still fire with the failure.
	if len(h.posts) != 1 || h.posts[0] {
		t.Fatalf("post hook mismatch: %v", h.posts)
	}
}

func TestExecutorBlockDefaultReason(t *testing.T) {
	reg := NewRegistry()
	h := &recordingHooks{pre: hook.Result{Kind: hook.KindBlock}}
	exec := NewExecutor(reg, WithHooks([]hook.LoopHooks{h}))

	outcome := exec.Execute(context.Background(), message.ToolCall{ID: "c", Name: "x"}, message.NewLog())
	if outcome.Error != "blocked by hook" {
		t.Fatalf("default reason missing: %+v", outcome)
	}
}

func TestExecutorToolErrorAndPanic(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Func{
		ToolName: "failing",
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			return nil, errors.New("disk full")
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(&Func{
		ToolName: "panicking",
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			panic("oops")
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	exec := NewExecutor(reg)
	log := message.NewLog()

	outcome := exec.Execute(context.Background(), message.ToolCall{ID: "a", Name: "failing"}, log)
	if outcome.Success || outcome.Error != "disk full" {
		t.Fatalf("tool error not surfaced: %+v", outcome)
	}

	outcome = exec.Execute(context.Background(), message.ToolCall{ID: "b", Name: "panicking"}, log)
	if outcome.Success || outcome.Error != "tool panicked: oops" {
		t.Fatalf("panic not contained: %+v", outcome)
	}
	if log.Len() != 2 {
		t.Fatalf("expected one message per call, got %d", log.Len())
	}
}

func TestExecutorAssignsCallID(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	exec := NewExecutor(reg)
	log := message.NewLog()

	exec.Execute(context.Background(), message.ToolCall{Name: "echo"}, log)
	last, _ := log.Last()
	if last.ToolCallID == "" {
		t.Fatal("executor should assign a call id")
	}
}

func TestExecutorInjectorMerge(t *testing.T) {
	reg := NewRegistry()
	var got map[string]any
	if err := reg.Register(&Func{
		ToolName: "send_to_agent",
		Fn: func(_ context.Context, _, injected map[string]any) (any, error) {
			got = injected
			return "ok", nil
		},
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	injectors := []*Injector{
		{Pattern: "send_to_agent", Provide: func(context.Context) map[string]any {
			return map[string]any{"pool": "first", "owner": "agent_1"}
		}},
		{Pattern: "send_to_agent|spawn_agent", Provide: func(context.Context) map[string]any {
			return map[string]any{"pool": "second"}
		}},
		{Pattern: "other_tool", Provide: func(context.Context) map[string]any {
			return map[string]any{"unrelated": true}
		}},
	}
	exec := NewExecutor(reg, WithInjectors(injectors))
	exec.Execute(context.Background(), message.ToolCall{ID: "c", Name: "send_to_agent"}, message.NewLog())

	if got["owner"] != "agent_1" {
		t.Fatalf("exact injector missed: %+v", got)
	}
	if got["pool"] != "second" {
		t.Fatalf("later injector should win collisions: %+v", got)
	}
	if _, ok := got["unrelated"]; ok {
		t.Fatalf("non-matching injector leaked: %+v", got)
	}
}

func TestInjectorMatching(t *testing.T) {
	exact := &Injector{Pattern: "bash_execute"}
	if !exact.Matches("bash_execute") {
		t.Fatal("exact match failed")
	}
	if exact.Matches("bash_execute_extra") {
		t.Fatal("exact pattern must not match a superstring")
	}

	alt := &Injector{Pattern: "spawn_agent|send_to_agent"}
	if !alt.Matches("spawn_agent") || !alt.Matches("send_to_agent") {
		t.Fatal("alternation match failed")
	}
	if alt.Matches("spawn") {
		t.Fatal("alternation must anchor the whole name")
	}

	bad := &Injector{Pattern: "(["}
	if bad.Matches("anything") {
		t.Fatal("invalid regexp must match nothing beyond exact")
	}
	if !bad.Matches("([") {
		t.Fatal("invalid regexp still matches itself exactly")
	}
}

func TestRegistryDuplicateAndList(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("b")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(echoTool("a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(echoTool("a")); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("nil tool should fail")
	}
	if err := reg.Register(&Func{}); err == nil {
		t.Fatal("empty name should fail")
	}

	tools := reg.List()
	if len(tools) != 2 || tools[0].Name() != "a" || tools[1].Name() != "b" {
		t.Fatalf("list not name-ordered: %+v", tools)
	}

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "a" {
		t.Fatalf("definitions mismatch: %+v", defs)
	}
	if !reg.Has("a") || reg.Has("zz") {
		t.Fatal("has mismatch")
	}
}
