package bollywood

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// State is an agent lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateBound    State = "bound"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

const (
	stateCreated  statekit.StateID = statekit.StateID(StateCreated)
	stateBound    statekit.StateID = statekit.StateID(StateBound)
	stateRunning  statekit.StateID = statekit.StateID(StateRunning)
	stateStopping statekit.StateID = statekit.StateID(StateStopping)
	stateStopped  statekit.StateID = statekit.StateID(StateStopped)
)

const (
	eventBind   statekit.EventType = "BIND"
	eventRun    statekit.EventType = "RUN"
	eventStop   statekit.EventType = "STOP"
	eventFinish statekit.EventType = "FINISH"
)

// edge is the single forward transition out of a state; the lifecycle is linear.
type edge struct {
	event statekit.EventType
	to    State
}

var lifecycleEdges = map[State]edge{
	StateCreated:  {eventBind, StateBound},
	StateBound:    {eventRun, StateRunning},
	StateRunning:  {eventStop, StateStopping},
	StateStopping: {eventFinish, StateStopped},
}

// lifecycleContext is the statechart context of one agent.
type lifecycleContext struct {
	transitions int
	changedAt   time.Time
}

func recordTransition(ctx **lifecycleContext, _ statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	(*ctx).transitions++
	(*ctx).changedAt = time.Now()
}

var (
	machineOnce sync.Once
	machine     *statekit.MachineConfig[*lifecycleContext]
	machineErr  error
)

// agentMachine returns the shared lifecycle statechart.
func agentMachine() (*statekit.MachineConfig[*lifecycleContext], error) {
	machineOnce.Do(func() {
		machine, machineErr = statekit.NewMachine[*lifecycleContext]("agent").
			WithInitial(stateCreated).
			WithContext(&lifecycleContext{}).
			WithAction("recordTransition", recordTransition).
			State(stateCreated).
			On(eventBind).Target(stateBound).Do("recordTransition").
			Done().
			State(stateBound).
			On(eventRun).Target(stateRunning).Do("recordTransition").
			Done().
			State(stateRunning).
			On(eventStop).Target(stateStopping).Do("recordTransition").
			Done().
			State(stateStopping).
			On(eventFinish).Target(stateStopped).Do("recordTransition").
			Done().
			State(stateStopped).
			Final().
			Done().
			Build()
	})
	return machine, machineErr
}

// lifecycle drives one agent's statechart. Transitions may be requested from any goroutine.
type lifecycle struct {
	mu     sync.Mutex
	interp *statekit.Interpreter[*lifecycleContext]
	ctx    *lifecycleContext
}

func newLifecycle() *lifecycle {
	m, err := agentMachine()
	if err != nil {
		panic(fmt.Sprintf("bollywood: lifecycle statechart: %v", err))
	}
	ctx := &lifecycleContext{changedAt: time.Now()}
	interp := statekit.NewInterpreter(m)
	interp.UpdateContext(func(c **lifecycleContext) {
		*c = ctx
	})
	interp.Start()
	return &lifecycle{interp: interp, ctx: ctx}
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State(l.interp.State().Value)
}

// advance moves from -> to when the agent is currently in from.
// It reports false without error when another goroutine already moved the agent on.
func (l *lifecycle) advance(from, to State) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := State(l.interp.State().Value)
	if cur != from {
		return false, nil
	}
	e, ok := lifecycleEdges[from]
	if !ok || e.to != to {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	l.interp.Send(statekit.Event{Type: e.event, Payload: to})

	if got := State(l.interp.State().Value); got != to {
		return false, fmt.Errorf("%w: %s -> %s left agent in %s", ErrInvalidTransition, from, to, got)
	}
	return true, nil
}

func (l *lifecycle) terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interp.Done()
}

func (l *lifecycle) transitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx.transitions
}
