package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cexll/agentcore-go/pkg/feature"
	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/loop"
	"github.com/cexll/agentcore-go/pkg/message"
	"github.com/cexll/agentcore-go/pkg/model"
	"github.com/cexll/agentcore-go/pkg/tool"
)

var (
	// ErrCallInFlight is returned when Call is invoked while another call on
	// the same agent is still running.
	ErrCallInFlight = errors.New("agent: call already in flight")
	// ErrClosed is returned for calls after Close.
	ErrClosed = errors.New("agent: closed")
)

// Agent is the assembled runtime for one conversational agent: a model, a
// tool registry, a feature set and the shared log, driven by the loop
// runner. Calls on one Agent are serialized; follow-up calls reuse the log
// so the conversation continues.
type Agent struct {
	id        string
	mdl       model.Model
	registry  *tool.Registry
	features  *feature.Set
	log       *message.Log
	lifecycle hook.Lifecycle
	system    string
	modelName string
	maxSteps  int

	runner *loop.Runner

	mu       sync.Mutex
	inFlight bool
	started  bool
	closed   bool
}

// Option customizes an Agent.
type Option func(*Agent) error

// WithID labels the agent; used in lifecycle callbacks and as the default
// sub-agent owner.
func WithID(id string) Option {
	return func(a *Agent) error {
		a.id = id
		return nil
	}
}

// WithSystemPrompt sets the system prompt for every model call.
func WithSystemPrompt(system string) Option {
	return func(a *Agent) error {
		a.system = system
		return nil
	}
}

// WithModelName overrides the provider default model.
func WithModelName(name string) Option {
	return func(a *Agent) error {
		a.modelName = name
		return nil
	}
}

// WithMaxSteps bounds loop steps per call.
func WithMaxSteps(n int) Option {
	return func(a *Agent) error {
		a.maxSteps = n
		return nil
	}
}

// WithLifecycle installs the observability sink used across the runtime.
func WithLifecycle(lc hook.Lifecycle) Option {
	return func(a *Agent) error {
		a.lifecycle = lc
		return nil
	}
}

// WithFeature registers a feature. Order matters: hooks and injectors fire
// in registration order.
func WithFeature(f feature.Feature) Option {
	return func(a *Agent) error {
		return a.features.Add(f)
	}
}

// WithTool registers a standalone tool not owned by any feature.
func WithTool(t tool.Tool) Option {
	return func(a *Agent) error {
		return a.registry.Register(t)
	}
}

// WithLog seeds the agent with an existing conversation, resuming it.
func WithLog(log *message.Log) Option {
	return func(a *Agent) error {
		if log == nil {
			return errors.New("agent: nil log")
		}
		a.log = log
		return nil
	}
}

// New assembles an agent. Feature tools are registered into the shared
// registry here; a name collision is a construction error.
func New(mdl model.Model, opts ...Option) (*Agent, error) {
	if mdl == nil {
		return nil, errors.New("agent: model is required")
	}

	a := &Agent{
		mdl:       mdl,
		registry:  tool.NewRegistry(),
		features:  feature.NewSet(),
		log:       message.NewLog(),
		lifecycle: hook.NopLifecycle{},
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.id == "" {
		a.id = "agent_" + uuid.NewString()[:8]
	}
	if a.lifecycle == nil {
		a.lifecycle = hook.NopLifecycle{}
	}

	for _, t := range a.features.Tools() {
		if err := a.registry.Register(t); err != nil {
			return nil, fmt.Errorf("agent: register feature tool: %w", err)
		}
	}
	if _, err := a.features.Resolve(); err != nil {
		return nil, err
	}

	hooks := a.features.LoopHooks()
	executor := tool.NewExecutor(a.registry,
		tool.WithHooks(hooks),
		tool.WithInjectors(a.features.Injectors()),
		tool.WithLifecycle(a.lifecycle),
	)

	runnerOpts := []loop.Option{
		loop.WithHooks(hooks),
		loop.WithLifecycle(a.lifecycle),
		loop.WithSystemPrompt(a.system),
		loop.WithModelName(a.modelName),
	}
	if a.maxSteps > 0 {
		runnerOpts = append(runnerOpts, loop.WithMaxSteps(a.maxSteps))
	}
	a.runner = loop.NewRunner(mdl, a.registry, executor, runnerOpts...)

	return a, nil
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

// Log exposes the conversation log for snapshots and sinks.
func (a *Agent) Log() *message.Log { return a.log }

// Registry exposes the tool registry, e.g. to attach MCP servers.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// Call runs one full loop over the shared log. Concurrent calls on the same
// agent are rejected with ErrCallInFlight; sequential calls continue the
// conversation. A step-limit interruption is not an error: the partial
// response is returned so a parent agent still receives a report.
func (a *Agent) Call(ctx context.Context, input string) (string, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	if a.inFlight {
		a.mu.Unlock()
		return "", ErrCallInFlight
	}
	a.inFlight = true
	needInit := !a.started
	a.started = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	if needInit {
		if err := a.features.Initiate(ctx); err != nil {
			return "", err
		}
	}

	a.lifecycle.CallStart(ctx, a.id, input)
	res, err := a.runner.Run(ctx, input, a.log)
	a.lifecycle.CallEnd(ctx, a.id, res.Completed, res.Steps)
	if err != nil {
		return "", err
	}
	return res.FinalResponse, nil
}

// Close destroys features in reverse order and rejects further calls.
// Closing twice is a no-op.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.features.Destroy(ctx)
	if mcpErr := a.registry.CloseMCP(); err == nil {
		err = mcpErr
	}
	return err
}
