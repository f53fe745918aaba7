package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cexll/agentcore-go/pkg/hook"
)

// Status values an instance moves through. Terminated instances are removed
// from the pool immediately, so the value is only ever observed in the
// destroy notification.
const (
	StatusIdle       = "idle"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
)

var (
	// ErrUnknownAgent is returned for operations on ids the pool does not hold.
	ErrUnknownAgent = errors.New("subagent: unknown agent")
	// ErrAgentBusy is returned when dispatch targets an instance already working.
	ErrAgentBusy = errors.New("subagent: agent busy")
)

// Caller runs one request against a child agent. The parent Agent type
// satisfies this, as does any host-supplied implementation.
type Caller interface {
	Call(ctx context.Context, input string) (string, error)
}

// Factory builds the Caller behind a spawned instance. The pool keeps no
// type registry; interpretation of agentType is entirely the host's.
type Factory func(ctx context.Context, agentType string) (Caller, error)

// Instance is the pool's public view of one child agent.
type Instance struct {
	ID        string
	Type      string
	Owner     string
	Status    string
	CreatedAt time.Time
	Result    string
	Err       string
}

// Delivery pairs a finished child's result with its id.
type Delivery struct {
	AgentID string
	Message string
}

type entry struct {
	inst   Instance
	caller Caller
}

// Pool owns the sub-agent instances of one parent, their status machine and
// the mailbox that relays results back. All bookkeeping is guarded by one
// mutex; child calls run on their own goroutines.
type Pool struct {
	mu        sync.Mutex
	owner     string
	factory   Factory
	lifecycle hook.Lifecycle
	limit     int

	instances map[string]*entry
	spawned   []string
	counters  map[string]int
	reserved  int

	mailbox []Delivery
	waiters map[string][]chan Delivery
	anyWait []chan Delivery
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithOwner labels spawned instances with the parent agent's id.
func WithOwner(owner string) PoolOption {
	return func(p *Pool) { p.owner = owner }
}

// WithLifecycle installs the observer notified of spawn, update and destroy.
func WithLifecycle(lc hook.Lifecycle) PoolOption {
	return func(p *Pool) { p.lifecycle = lc }
}

// WithLimit caps the number of live instances. Zero means unlimited.
func WithLimit(limit int) PoolOption {
	return func(p *Pool) { p.limit = limit }
}

// NewPool creates a pool that builds children through factory.
func NewPool(factory Factory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory:   factory,
		lifecycle: hook.NopLifecycle{},
		instances: make(map[string]*entry),
		counters:  make(map[string]int),
		waiters:   make(map[string][]chan Delivery),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lifecycle == nil {
		p.lifecycle = hook.NopLifecycle{}
	}
	return p
}

// Spawn creates a new idle instance of agentType. Ids are per-type counters
// that only ever grow; closing an instance never frees its number.
func (p *Pool) Spawn(ctx context.Context, agentType string) (Instance, error) {
	if p.factory == nil {
		return Instance{}, errors.New("subagent: no factory configured")
	}
	if agentType == "" {
		return Instance{}, errors.New("subagent: agent type is empty")
	}

	// Reserve the slot before the factory call so concurrent spawns cannot
	// both pass the limit check.
	p.mu.Lock()
	if p.limit > 0 && len(p.instances)+p.reserved >= p.limit {
		p.mu.Unlock()
		return Instance{}, fmt.Errorf("subagent: instance limit %d reached", p.limit)
	}
	p.reserved++
	p.mu.Unlock()

	caller, err := p.factory(ctx, agentType)

	p.mu.Lock()
	p.reserved--
	if err != nil {
		p.mu.Unlock()
		return Instance{}, fmt.Errorf("subagent: spawn %s: %w", agentType, err)
	}
	p.counters[agentType]++
	id := fmt.Sprintf("%s_%d", agentType, p.counters[agentType])
	e := &entry{
		inst: Instance{
			ID:        id,
			Type:      agentType,
			Owner:     p.owner,
			Status:    StatusIdle,
			CreatedAt: time.Now(),
		},
		caller: caller,
	}
	p.instances[id] = e
	p.spawned = append(p.spawned, id)
	inst := e.inst
	p.mu.Unlock()

	p.lifecycle.SubAgentSpawn(ctx, id, agentType)
	return inst, nil
}

// SendTo dispatches a message to an idle instance. The instance is marked
// busy before SendTo returns; the child call itself runs asynchronously.
// A successful call flips the instance back to idle and enqueues the result.
// A failed call marks the instance failed and records the error on it; the
// failure is NOT enqueued and is only observable through the lifecycle
// update and the instance itself.
func (p *Pool) SendTo(ctx context.Context, id, input string) error {
	p.mu.Lock()
	e, ok := p.instances[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if e.inst.Status == StatusBusy {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentBusy, id)
	}
	e.inst.Status = StatusBusy
	e.inst.Err = ""
	caller := e.caller
	p.mu.Unlock()

	p.lifecycle.SubAgentUpdate(ctx, id, StatusBusy, "")

	go func() {
		result, err := caller.Call(ctx, input)
		if err != nil {
			p.recordFailure(ctx, id, err)
			return
		}
		p.recordResult(ctx, id, result)
	}()
	return nil
}

func (p *Pool) recordResult(ctx context.Context, id, result string) {
	p.mu.Lock()
	if e, ok := p.instances[id]; ok {
		e.inst.Status = StatusIdle
		e.inst.Result = result
	}
	p.deliverLocked(Delivery{AgentID: id, Message: result})
	p.mu.Unlock()

	p.lifecycle.SubAgentUpdate(ctx, id, StatusIdle, "")
}

func (p *Pool) recordFailure(ctx context.Context, id string, err error) {
	p.mu.Lock()
	if e, ok := p.instances[id]; ok {
		e.inst.Status = StatusFailed
		e.inst.Err = err.Error()
	}
	p.mu.Unlock()

	p.lifecycle.SubAgentUpdate(ctx, id, StatusFailed, err.Error())
}

// deliverLocked hands a result to the oldest matching waiter, preferring a
// waiter for this exact agent over a generic one. With no waiter it lands in
// the mailbox. Callers hold p.mu.
func (p *Pool) deliverLocked(d Delivery) {
	if queue := p.waiters[d.AgentID]; len(queue) > 0 {
		ch := queue[0]
		if len(queue) == 1 {
			delete(p.waiters, d.AgentID)
		} else {
			p.waiters[d.AgentID] = queue[1:]
		}
		ch <- d
		return
	}
	if len(p.anyWait) > 0 {
		ch := p.anyWait[0]
		p.anyWait = p.anyWait[1:]
		ch <- d
		return
	}
	p.mailbox = append(p.mailbox, d)
}

// TakeDelivery pops the oldest unread result without blocking. It reports
// false when the mailbox is empty.
func (p *Pool) TakeDelivery() (Delivery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.mailbox) == 0 {
		return Delivery{}, false
	}
	d := p.mailbox[0]
	p.mailbox = p.mailbox[1:]
	return d, true
}

// WaitForMessage blocks until a result from agentID (or from any agent when
// agentID is empty) is available. An already-queued result returns
// immediately. There is no default timeout; bound the wait through ctx.
func (p *Pool) WaitForMessage(ctx context.Context, agentID string) (Delivery, error) {
	p.mu.Lock()
	for i, d := range p.mailbox {
		if agentID == "" || d.AgentID == agentID {
			p.mailbox = append(p.mailbox[:i:i], p.mailbox[i+1:]...)
			p.mu.Unlock()
			return d, nil
		}
	}

	ch := make(chan Delivery, 1)
	if agentID == "" {
		p.anyWait = append(p.anyWait, ch)
	} else {
		if _, ok := p.instances[agentID]; !ok {
			p.mu.Unlock()
			return Delivery{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		p.waiters[agentID] = append(p.waiters[agentID], ch)
	}
	p.mu.Unlock()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		p.removeWaiter(agentID, ch)
		// A delivery may have raced the cancellation; hand it back to the
		// mailbox instead of dropping it.
		select {
		case d := <-ch:
			p.mu.Lock()
			p.mailbox = append(p.mailbox, d)
			p.mu.Unlock()
		default:
		}
		return Delivery{}, ctx.Err()
	}
}

func (p *Pool) removeWaiter(agentID string, ch chan Delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if agentID == "" {
		for i, c := range p.anyWait {
			if c == ch {
				p.anyWait = append(p.anyWait[:i], p.anyWait[i+1:]...)
				return
			}
		}
		return
	}
	queue := p.waiters[agentID]
	for i, c := range queue {
		if c == ch {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(p.waiters, agentID)
			} else {
				p.waiters[agentID] = queue
			}
			return
		}
	}
}

// HasActiveAgents reports whether any instance is still working or any
// result remains unread.
func (p *Pool) HasActiveAgents() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.mailbox) > 0 {
		return true
	}
	for _, e := range p.instances {
		if e.inst.Status == StatusBusy {
			return true
		}
	}
	return false
}

// PendingCount returns the number of busy instances plus undelivered results.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := len(p.mailbox)
	for _, e := range p.instances {
		if e.inst.Status == StatusBusy {
			count++
		}
	}
	return count
}

// Get returns a snapshot of one instance.
func (p *Pool) Get(id string) (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return e.inst, nil
}

// List returns snapshots of all live instances in spawn order.
func (p *Pool) List() []Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Instance, 0, len(p.instances))
	for _, id := range p.spawned {
		if e, ok := p.instances[id]; ok {
			out = append(out, e.inst)
		}
	}
	return out
}

// Close terminates one instance and removes it. The destroy notification
// fires exactly once per instance; closing an unknown id is an error.
func (p *Pool) Close(ctx context.Context, id string) error {
	p.mu.Lock()
	e, ok := p.instances[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	e.inst.Status = StatusTerminated
	delete(p.instances, id)
	caller := e.caller
	p.mu.Unlock()

	if closer, ok := caller.(interface{ Close(context.Context) error }); ok {
		_ = closer.Close(ctx)
	}
	p.lifecycle.SubAgentDestroy(ctx, id)
	return nil
}

// CloseAll terminates every live instance.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.instances))
	for _, id := range p.spawned {
		if _, ok := p.instances[id]; ok {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.Close(ctx, id)
	}
}
