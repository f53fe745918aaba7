package loop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/message"
	"github.com/cexll/agentcore-go/pkg/model"
	"github.com/cexll/agentcore-go/pkg/tool"
)

// scriptedModel returns canned responses in order and records requests.
type scriptedModel struct {
	responses []*model.Response
	err       error
	calls     int
	requests  []model.Request
}

func (m *scriptedModel) Complete(_ context.Context, req model.Request) (*model.Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.responses) {
		return &model.Response{Content: "fallback done"}, nil
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

type scriptedHooks struct {
	hook.NopLoopHooks

	llmStart     []hook.Result
	llmFinish    hook.Result
	continueOnce bool
	stepDone     hook.Result
	finished     []int

	pendingOnce bool
	pendingText string

	shouldWait  bool
	awaitText   string
	awaitOK     bool
	maxSteps    int
	startSteps  []int
	postCalls   []string
	awaitCalled int
}

func (h *scriptedHooks) OnStepStart(_ context.Context, step int) {
	h.startSteps = append(h.startSteps, step)
}

func (h *scriptedHooks) OnLLMStart(_ context.Context, _ *message.Log, step int) hook.Result {
	if len(h.llmStart) >= step {
		return h.llmStart[step-1]
	}
	return hook.None
}

func (h *scriptedHooks) OnLLMFinish(context.Context, *message.Log, message.Message, time.Duration) hook.Result {
	if h.continueOnce {
		h.continueOnce = false
		return hook.Continue
	}
	return h.llmFinish
}

func (h *scriptedHooks) OnStepFinished(_ context.Context, step, _ int) hook.Result {
	h.finished = append(h.finished, step)
	return h.stepDone
}

func (h *scriptedHooks) OnPostToolUse(_ context.Context, call message.ToolCall, _ bool, _ time.Duration) {
	h.postCalls = append(h.postCalls, call.Name)
}

func (h *scriptedHooks) PendingWork(context.Context) (string, bool) {
	if !h.pendingOnce {
		return "", false
	}
	h.pendingOnce = false
	return h.pendingText, true
}

func (h *scriptedHooks) ShouldWait(context.Context) bool { return h.shouldWait }

func (h *scriptedHooks) AwaitResult(context.Context) (string, bool) {
	h.awaitCalled++
	return h.awaitText, h.awaitOK
}

func (h *scriptedHooks) OnMaxSteps(context.Context) { h.maxSteps++ }

func newRunnerEnv(t *testing.T, m model.Model, hooks []hook.LoopHooks, tools ...tool.Tool) *Runner {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	exec := tool.NewExecutor(reg, tool.WithHooks(hooks))
	return NewRunner(m, reg, exec, WithHooks(hooks))
}

func TestRunnerSimpleCompletion(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{{Content: "hello there"}}}
	r := newRunnerEnv(t, m, nil)
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "hello there" || res.Steps != 1 {
		t.Fatalf("result wrong: %+v", res)
	}

	// Log: user then assistant.
	all := log.All()
	if len(all) != 2 || all[0].Role != message.RoleUser || all[1].Role != message.RoleAssistant {
		t.Fatalf("log shape wrong: %+v", all)
	}
}

func TestRunnerToolRoundTrip(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "checking", ToolCalls: []message.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: map[string]any{"key": "a"}},
			{ID: "call_2", Name: "lookup", Arguments: map[string]any{"key": "b"}},
		}},
		{Content: "all done"},
	}}

	var order []string
	lookup := &tool.Func{
		ToolName: "lookup",
		Fn: func(_ context.Context, params, _ map[string]any) (any, error) {
			order = append(order, params["key"].(string))
			return "value", nil
		},
	}
	r := newRunnerEnv(t, m, nil, lookup)
	log := message.NewLog()

	res, err := r.Run(context.Background(), "look both up", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "all done" || res.Steps != 2 {
		t.Fatalf("result wrong: %+v", res)
	}

	// Tool calls run in response order.
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("tool order wrong: %v", order)
	}

	// Log: user, assistant(+calls), tool, tool, assistant.
	all := log.All()
	if len(all) != 5 {
		t.Fatalf("log length wrong: %d", len(all))
	}
	if all[2].Role != message.RoleTool || all[2].ToolCallID != "call_1" {
		t.Fatalf("first tool message wrong: %+v", all[2])
	}
	if all[3].ToolCallID != "call_2" {
		t.Fatalf("second tool message wrong: %+v", all[3])
	}

	// The second model request sees the tool results.
	if len(m.requests) != 2 || len(m.requests[1].Messages) != 4 {
		t.Fatalf("follow-up request shape wrong: %d messages", len(m.requests[1].Messages))
	}
}

func TestRunnerLLMStartBlockSkipsModel(t *testing.T) {
	m := &scriptedModel{}
	h := &scriptedHooks{llmStart: []hook.Result{hook.Block("quota exceeded")}}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "quota exceeded" {
		t.Fatalf("block not honored: %+v", res)
	}
	if m.calls != 0 {
		t.Fatalf("model must not be called, got %d calls", m.calls)
	}
	// The reason is recorded as the assistant's answer.
	last, _ := log.Last()
	if last.Role != message.RoleAssistant || last.Content != "quota exceeded" {
		t.Fatalf("reason not logged: %+v", last)
	}
}

func TestRunnerLLMFinishEndStops(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "partial", ToolCalls: []message.ToolCall{{ID: "c", Name: "lookup"}}},
	}}
	h := &scriptedHooks{llmFinish: hook.End}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "partial" || res.Steps != 1 {
		t.Fatalf("end not honored: %+v", res)
	}
	// Tool calls are not dispatched after End, but the assistant message is
	// still recorded.
	all := log.All()
	if len(all) != 2 {
		t.Fatalf("log shape wrong: %+v", all)
	}
}

func TestRunnerLLMFinishContinueForcesAnotherStep(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "thinking out loud"},
		{Content: "final answer"},
	}}
	h := &scriptedHooks{llmFinish: hook.Continue}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})

	// Continue on every finish forces the loop to the step limit.
	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Completed {
		t.Fatalf("permanent Continue should interrupt: %+v", res)
	}
	if res.Steps != defaultMaxSteps {
		t.Fatalf("expected %d steps, got %d", defaultMaxSteps, res.Steps)
	}
	if m.calls < 2 {
		t.Fatalf("model should be re-consulted after Continue, got %d calls", m.calls)
	}
}

// Every step fires the step-finished hook, including steps that loop again
// through Continue or pending work instead of dispatching tools.
func TestRunnerStepFinishedFiresOnContinuation(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "musing"},
		{Content: "kicked off work"},
		{Content: "done"},
	}}
	h := &scriptedHooks{
		continueOnce: true,
		pendingOnce:  true,
		pendingText:  "Waiting on 1 pending sub-agent task(s).",
	}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})

	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "done" || res.Steps != 3 {
		t.Fatalf("result wrong: %+v", res)
	}
	// Step 1 continued, step 2 synthesized pending work, step 3 completed.
	if len(h.finished) != 3 || h.finished[0] != 1 || h.finished[1] != 2 || h.finished[2] != 3 {
		t.Fatalf("step-finished calls wrong: %v", h.finished)
	}
}

func TestRunnerStepFinishedEndStopsContinuation(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{{Content: "musing"}}}
	h := &scriptedHooks{continueOnce: true, stepDone: hook.End}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})

	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "musing" || res.Steps != 1 {
		t.Fatalf("end at step finish not honored: %+v", res)
	}
	if m.calls != 1 {
		t.Fatalf("model called %d times after End", m.calls)
	}
}

func TestRunnerPendingWorkSynthesizesContinuation(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "kicked off work"},
		{Content: "done waiting"},
	}}
	h := &scriptedHooks{pendingOnce: true, pendingText: "Waiting on 1 pending sub-agent task(s)."}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "done waiting" || res.Steps != 2 {
		t.Fatalf("result wrong: %+v", res)
	}

	// The synthetic assistant message keeps the transcript coherent.
	all := log.All()
	found := false
	for _, msg := range all {
		if msg.Role == message.RoleAssistant && strings.Contains(msg.Content, "pending sub-agent") {
			found = true
		}
	}
	if !found {
		t.Fatalf("synthetic continuation missing: %+v", all)
	}
}

func TestRunnerWaitInterception(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "waiting", ToolCalls: []message.ToolCall{{ID: "call_w", Name: tool.WaitToolName}}},
		{Content: "got it"},
	}}
	h := &scriptedHooks{shouldWait: true, awaitText: "[explorer_1] found treasure", awaitOK: true}

	// Register a wait tool that would fail the test if actually executed.
	trap := &tool.Func{
		ToolName: tool.WaitToolName,
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			t.Error("wait tool must be intercepted, not executed")
			return nil, nil
		},
	}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h}, trap)
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "got it" {
		t.Fatalf("result wrong: %+v", res)
	}
	if h.awaitCalled != 1 {
		t.Fatalf("await called %d times", h.awaitCalled)
	}

	// The intercepted call still records a tool outcome and fires post hooks.
	all := log.All()
	var outcome message.Outcome
	for _, msg := range all {
		if msg.Role == message.RoleTool && msg.ToolCallID == "call_w" {
			outcome, err = message.DecodeOutcome(msg.Content)
			if err != nil {
				t.Fatalf("outcome decode failed: %v", err)
			}
		}
	}
	if !outcome.Success || outcome.Result != "[explorer_1] found treasure" {
		t.Fatalf("wait outcome wrong: %+v", outcome)
	}
	if len(h.postCalls) == 0 || h.postCalls[0] != tool.WaitToolName {
		t.Fatalf("post hooks not fired: %v", h.postCalls)
	}
}

// A wait issued before a dispatch in the same step must still see the
// dispatch: all other calls run first, then the wait consults should-wait.
func TestRunnerWaitResolvesAfterOtherCalls(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "wait then dispatch", ToolCalls: []message.ToolCall{
			{ID: "call_w", Name: tool.WaitToolName},
			{ID: "call_d", Name: "dispatch"},
		}},
		{Content: "collected"},
	}}
	h := &scriptedHooks{awaitText: "[explorer_1] survey complete", awaitOK: true}

	// Nothing is pending until the dispatch tool runs.
	dispatch := &tool.Func{
		ToolName: "dispatch",
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			h.shouldWait = true
			return "dispatched", nil
		},
	}
	trap := &tool.Func{
		ToolName: tool.WaitToolName,
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			t.Error("wait tool must be intercepted, not executed")
			return nil, nil
		},
	}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h}, dispatch, trap)
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed || res.FinalResponse != "collected" {
		t.Fatalf("result wrong: %+v", res)
	}
	if h.awaitCalled != 1 {
		t.Fatalf("await called %d times", h.awaitCalled)
	}

	// Post hooks record the actual execution order: dispatch, then wait.
	if len(h.postCalls) != 2 || h.postCalls[0] != "dispatch" || h.postCalls[1] != tool.WaitToolName {
		t.Fatalf("execution order wrong: %v", h.postCalls)
	}

	var outcome message.Outcome
	for _, msg := range log.All() {
		if msg.Role == message.RoleTool && msg.ToolCallID == "call_w" {
			outcome, err = message.DecodeOutcome(msg.Content)
			if err != nil {
				t.Fatalf("outcome decode failed: %v", err)
			}
		}
	}
	if !outcome.Success || outcome.Result != "[explorer_1] survey complete" {
		t.Fatalf("wait outcome wrong: %+v", outcome)
	}
}

func TestRunnerWaitAborted(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "waiting", ToolCalls: []message.ToolCall{{ID: "call_w", Name: tool.WaitToolName}}},
		{Content: "recovered"},
	}}
	h := &scriptedHooks{shouldWait: true, awaitOK: false}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h})
	log := message.NewLog()

	res, err := r.Run(context.Background(), "hi", log)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Completed {
		t.Fatalf("result wrong: %+v", res)
	}

	var outcome message.Outcome
	for _, msg := range log.All() {
		if msg.Role == message.RoleTool {
			outcome, _ = message.DecodeOutcome(msg.Content)
		}
	}
	if outcome.Success || outcome.Error != "wait aborted" {
		t.Fatalf("aborted wait outcome wrong: %+v", outcome)
	}
}

func TestRunnerWaitFallsThroughWhenNothingPending(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{
		{Content: "waiting", ToolCalls: []message.ToolCall{{ID: "call_w", Name: tool.WaitToolName}}},
		{Content: "nothing to do"},
	}}
	h := &scriptedHooks{shouldWait: false}
	executed := false
	waitTool := &tool.Func{
		ToolName: tool.WaitToolName,
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			executed = true
			return "no pending sub-agent work", nil
		},
	}
	r := newRunnerEnv(t, m, []hook.LoopHooks{h}, waitTool)

	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !executed {
		t.Fatal("wait tool should execute normally when no hook is waiting")
	}
	if !res.Completed {
		t.Fatalf("result wrong: %+v", res)
	}
}

func TestRunnerStepLimitInterrupt(t *testing.T) {
	// Model always asks for another tool call, never settles.
	loopTool := &tool.Func{
		ToolName: "noop",
		Fn: func(context.Context, map[string]any, map[string]any) (any, error) {
			return "ok", nil
		},
	}
	busy := &busyModel{}
	h := &scriptedHooks{}
	r := newRunnerEnv(t, busy, []hook.LoopHooks{h}, loopTool)

	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Completed {
		t.Fatal("interrupted call must not be completed")
	}
	if res.Steps != defaultMaxSteps {
		t.Fatalf("expected %d steps, got %d", defaultMaxSteps, res.Steps)
	}
	if res.FinalResponse == "" {
		t.Fatal("interrupted call must still produce a readable response")
	}
	if h.maxSteps != 1 {
		t.Fatalf("OnMaxSteps fired %d times", h.maxSteps)
	}
}

// busyModel always requests another tool call.
type busyModel struct{ n int }

func (m *busyModel) Complete(context.Context, model.Request) (*model.Response, error) {
	m.n++
	return &model.Response{
		Content:   "still working",
		ToolCalls: []message.ToolCall{{ID: "", Name: "noop"}},
	}, nil
}

func TestRunnerStepLimitFallbackText(t *testing.T) {
	// A model that only emits tool calls with empty content leaves nothing to
	// salvage; the fallback notice is used.
	silent := &silentBusyModel{}
	reg := tool.NewRegistry()
	r := NewRunner(silent, reg, tool.NewExecutor(reg), WithMaxSteps(2))

	res, err := r.Run(context.Background(), "hi", message.NewLog())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Completed || res.FinalResponse != stepLimitFallback {
		t.Fatalf("fallback wrong: %+v", res)
	}
}

type silentBusyModel struct{}

func (silentBusyModel) Complete(context.Context, model.Request) (*model.Response, error) {
	return &model.Response{ToolCalls: []message.ToolCall{{ID: "x", Name: "noop"}}}, nil
}

func TestRunnerModelErrorPropagates(t *testing.T) {
	m := &scriptedModel{err: errors.New("api down")}
	r := newRunnerEnv(t, m, nil)

	_, err := r.Run(context.Background(), "hi", message.NewLog())
	if err == nil || !strings.Contains(err.Error(), "model call") {
		t.Fatalf("model error not wrapped: %v", err)
	}
}

func TestRunnerAssignsMissingCallIDs(t *testing.T) {
	noop := &tool.Func{
		ToolName: "noop",
		Fn:       func(context.Context, map[string]any, map[string]any) (any, error) { return "ok", nil },
	}
	m := &scriptedModel{responses: []*model.Response{
		{ToolCalls: []message.ToolCall{{Name: "noop"}}},
		{Content: "done"},
	}}
	r := newRunnerEnv(t, m, nil, noop)
	log := message.NewLog()

	if _, err := r.Run(context.Background(), "hi", log); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, msg := range log.All() {
		if msg.Role == message.RoleAssistant && len(msg.ToolCalls) > 0 {
			if msg.ToolCalls[0].ID == "" {
				t.Fatal("runner should assign missing call ids")
			}
		}
	}
}

func TestStrongerPrecedence(t *testing.T) {
	if got := stronger(hook.End, hook.Block("r")); got.Kind != hook.KindBlock {
		t.Fatalf("block should beat end: %+v", got)
	}
	if got := stronger(hook.Continue, hook.End); got.Kind != hook.KindEnd {
		t.Fatalf("end should beat continue: %+v", got)
	}
	if got := stronger(hook.Allow, hook.Continue); got.Kind != hook.KindContinue {
		t.Fatalf("continue should beat allow: %+v", got)
	}
	if got := stronger(hook.None, hook.Allow); got.Kind != hook.KindAllow {
		t.Fatalf("allow should beat none: %+v", got)
	}
	// Ties keep the earlier result.
	first := hook.Block("first")
	if got := stronger(first, hook.Block("second")); got.Reason != "first" {
		t.Fatalf("tie should keep first: %+v", got)
	}
}
