package bollywood

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// HandlerFunc is the typed handler of an agent whose private state is S.
// It returns the agent's next state and the effects the dispatcher must carry out.
// A returned error, like a panic, quarantines the agent.
type HandlerFunc[S any] func(ctx Context, state S, msg Message) (S, Effects, error)

// behavior is the uniform capability a dispatcher invokes, whatever the agent's state type.
type behavior interface {
	handle(ctx Context, msg Message) (Effects, error)
	snapshot() interface{}
}

type stateful[S any] struct {
	state S
	fn    HandlerFunc[S]
}

func (s *stateful[S]) handle(ctx Context, msg Message) (Effects, error) {
	next, effects, err := s.fn(ctx, s.state, msg)
	if err != nil {
		return Effects{}, err
	}
	s.state = next
	return effects, nil
}

func (s *stateful[S]) snapshot() interface{} { return s.state }

// AgentOption configures an agent at creation.
type AgentOption func(*agentOptions)

type agentOptions struct {
	mailbox MailboxConfig
}

// WithMailbox bounds the agent's mailbox. Capacity 0 keeps it unbounded.
func WithMailbox(capacity int, overflow OverflowPolicy) AgentOption {
	return func(o *agentOptions) {
		o.mailbox = MailboxConfig{Capacity: capacity, Overflow: overflow}
	}
}

// Agent is a unit of sequential, message-driven logic with private state.
// It is bound to exactly one dispatcher for its whole life.
type Agent struct {
	name     string
	mailbox  *Mailbox
	behavior behavior
	life     *lifecycle

	// mu is held while the handler runs and while the state is inspected.
	mu sync.Mutex

	pid        atomic.Pointer[PID]
	dispatcher atomic.Pointer[Dispatcher]

	delivered   atomic.Uint64
	quarantined atomic.Bool
}

// NewAgent creates an agent in the Created state.
func NewAgent[S any](name string, initial S, fn HandlerFunc[S], opts ...AgentOption) *Agent {
	if fn == nil {
		panic("bollywood: handler cannot be nil")
	}
	if name == "" {
		name = "agent"
	}
	o := agentOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Agent{
		name:     name,
		mailbox:  NewMailbox(name, o.mailbox),
		behavior: &stateful[S]{state: initial, fn: fn},
		life:     newLifecycle(),
	}
}

// Name returns the name given at creation.
func (a *Agent) Name() string { return a.name }

// PID returns the agent's handle, nil until bound.
func (a *Agent) PID() *PID { return a.pid.Load() }

// State returns the current lifecycle state.
func (a *Agent) State() State { return a.life.current() }

// Mailbox returns the agent's mailbox.
func (a *Agent) Mailbox() *Mailbox { return a.mailbox }

// Delivered reports how many messages the handler processed successfully.
func (a *Agent) Delivered() uint64 { return a.delivered.Load() }

// Quarantined reports whether a handler fault removed the agent from scheduling.
func (a *Agent) Quarantined() bool { return a.quarantined.Load() }

// StateOf returns the agent's private state if it has type S.
// It must not be called from the agent's own handler.
func StateOf[S any](a *Agent) (S, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.behavior.snapshot().(S)
	return s, ok
}

// RequestStop moves a running agent to Stopping. Messages already queued are still
// delivered; the agent reaches Stopped once its mailbox is empty. Calling it again,
// or on a stopped agent, has no further effect.
func (a *Agent) RequestStop() error {
	for {
		switch cur := a.State(); cur {
		case StateCreated:
			return ErrAgentNotBound
		case StateBound:
			// Not yet activated by its dispatcher; walk through Running.
			if _, err := a.transition(StateBound, StateRunning); err != nil {
				return err
			}
		case StateRunning:
			ok, err := a.transition(StateRunning, StateStopping)
			if err != nil {
				return err
			}
			if ok {
				a.mailbox.kick()
				return nil
			}
		default:
			return nil
		}
	}
}

// transition advances the lifecycle and reports it to the engine.
func (a *Agent) transition(from, to State) (bool, error) {
	ok, err := a.life.advance(from, to)
	if err != nil || !ok {
		return ok, err
	}
	if d := a.dispatcher.Load(); d != nil {
		d.engine.onTransition(a, from, to)
	}
	return true, nil
}

// bind attaches the agent to d under pid (Created -> Bound).
func (a *Agent) bind(pid *PID, d *Dispatcher) error {
	ok, err := a.life.advance(StateCreated, StateBound)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyBound, a.name, a.State())
	}
	a.pid.Store(pid)
	a.dispatcher.Store(d)
	d.engine.onTransition(a, StateCreated, StateBound)
	return nil
}

// invoke runs the handler for msg. Panics and returned errors become a *HandlerFault.
func (a *Agent) invoke(ctx Context, msg Message) (effects Effects, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = &HandlerFault{Agent: a.PID().String(), Value: r, Stack: debug.Stack()}
		}
	}()

	effects, err = a.behavior.handle(ctx, msg)
	if err != nil {
		return Effects{}, &HandlerFault{Agent: a.PID().String(), Value: err}
	}
	a.delivered.Add(1)
	return effects, nil
}
