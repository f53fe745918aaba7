package feature

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentcore-go/pkg/hook"
	"github.com/cexll/agentcore-go/pkg/tool"
)

var (
	// ErrMissingDependency is returned when a feature depends on a name
	// that was never registered.
	ErrMissingDependency = errors.New("feature: missing dependency")
	// ErrDependencyCycle is returned when feature dependencies form a cycle.
	ErrDependencyCycle = errors.New("feature: dependency cycle")
)

// Set collects features, resolves their dependency order and fans capability
// lookups out to the members. Capabilities are asserted exactly once, at Add
// time; afterwards the set serves pre-computed slices.
type Set struct {
	features []Feature
	byName   map[string]Feature
	resolved []Feature
	dirty    bool

	tools     []tool.Tool
	injectors []*tool.Injector
	hooks     []hook.LoopHooks
	asyncSet  map[string]struct{}
}

// NewSet creates an empty feature set.
func NewSet() *Set {
	return &Set{byName: make(map[string]Feature), asyncSet: make(map[string]struct{})}
}

// Add registers a feature. Names must be unique and non-empty.
func (s *Set) Add(f Feature) error {
	if f == nil {
		return errors.New("feature: nil feature")
	}
	name := strings.TrimSpace(f.Name())
	if name == "" {
		return errors.New("feature: empty name")
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("feature: %s already registered", name)
	}

	s.features = append(s.features, f)
	s.byName[name] = f
	s.dirty = true

	if tp, ok := f.(ToolProvider); ok {
		s.tools = append(s.tools, tp.Tools()...)
	}
	if cp, ok := f.(ContextProvider); ok {
		s.injectors = append(s.injectors, cp.Injectors()...)
	}
	if hp, ok := f.(LoopHookProvider); ok {
		if hooks := hp.LoopHooks(); hooks != nil {
			s.hooks = append(s.hooks, hooks)
		}
	}
	if ap, ok := f.(AsyncToolProvider); ok {
		for _, n := range ap.AsyncToolNames() {
			s.asyncSet[n] = struct{}{}
		}
	}
	return nil
}

// Get fetches a registered feature by name.
func (s *Set) Get(name string) (Feature, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Tools returns every tool contributed by member features, in registration
// order.
func (s *Set) Tools() []tool.Tool {
	return s.tools
}

// Injectors returns every context injector, in registration order.
func (s *Set) Injectors() []*tool.Injector {
	return s.injectors
}

// LoopHooks returns the hook bundles of every member, in registration order.
func (s *Set) LoopHooks() []hook.LoopHooks {
	return s.hooks
}

// IsAsyncTool reports whether the named tool was declared asynchronous.
func (s *Set) IsAsyncTool(name string) bool {
	_, ok := s.asyncSet[name]
	return ok
}

// Resolve computes the topological initialization order. It is idempotent
// and re-runs only after new registrations.
func (s *Set) Resolve() ([]Feature, error) {
	if !s.dirty {
		return s.resolved, nil
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(s.features))
	order := make([]Feature, 0, len(s.features))

	var visit func(f Feature) error
	visit = func(f Feature) error {
		name := f.Name()
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: involving %s", ErrDependencyCycle, name)
		}
		state[name] = visiting

		if dep, ok := f.(Dependent); ok {
			for _, depName := range dep.DependsOn() {
				target, exists := s.byName[depName]
				if !exists {
					return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, name, depName)
				}
				if err := visit(target); err != nil {
					return err
				}
			}
		}

		state[name] = done
		order = append(order, f)
		return nil
	}

	for _, f := range s.features {
		if err := visit(f); err != nil {
			return nil, err
		}
	}

	s.resolved = order
	s.dirty = false
	return order, nil
}

// Initiate resolves dependencies and runs every Initializer in order. The
// first failure aborts and is returned.
func (s *Set) Initiate(ctx context.Context) error {
	order, err := s.Resolve()
	if err != nil {
		return err
	}
	for _, f := range order {
		if init, ok := f.(Initializer); ok {
			if err := init.OnInitiate(ctx); err != nil {
				return fmt.Errorf("feature %s initiate: %w", f.Name(), err)
			}
		}
	}
	return nil
}

// Destroy runs every Destroyer in reverse initialization order. All are
// attempted; the first error is returned.
func (s *Set) Destroy(ctx context.Context) error {
	order, err := s.Resolve()
	if err != nil {
		return err
	}
	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		if d, ok := order[i].(Destroyer); ok {
			if err := d.OnDestroy(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("feature %s destroy: %w", order[i].Name(), err)
			}
		}
	}
	return firstErr
}
