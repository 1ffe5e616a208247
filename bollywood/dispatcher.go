package bollywood

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lguibr/twothread/logging"
)

// Dispatcher owns one worker thread and schedules handler invocations for the agents
// bound to it. Agents on the same dispatcher never run concurrently; agents on different
// dispatchers run in parallel.
type Dispatcher struct {
	name   string
	engine *Engine

	mu       sync.Mutex
	agents   map[string]*Agent // arena, keyed by PID.ID
	order    []*Agent          // bind order
	ready    []*Agent          // run-queue, earliest-ready first
	live     int               // bound agents not yet Stopped
	started  bool
	draining bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(e *Engine, name string) *Dispatcher {
	return &Dispatcher{
		name:   name,
		engine: e,
		agents: make(map[string]*Agent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the dispatcher's name.
func (d *Dispatcher) Name() string { return d.name }

// Agents returns the bound agents in bind order.
func (d *Dispatcher) Agents() []*Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Agent, len(d.order))
	copy(out, d.order)
	return out
}

// Done is closed once the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// adopt registers a bound agent in the arena. Agents bound to a running dispatcher are
// activated right away.
func (d *Dispatcher) adopt(a *Agent) error {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	pid := a.PID()
	d.agents[pid.ID] = a
	d.order = append(d.order, a)
	d.live++
	started := d.started
	d.mu.Unlock()

	if started {
		if _, err := a.transition(StateBound, StateRunning); err != nil {
			return err
		}
	}
	a.mailbox.attach(func() { d.enqueue(a) })
	return nil
}

func (d *Dispatcher) lookup(id string) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agents[id]
}

// enqueue appends a newly ready agent to the run-queue and wakes the worker.
func (d *Dispatcher) enqueue(a *Agent) {
	d.mu.Lock()
	d.ready = append(d.ready, a)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// drain makes the worker exit once every bound agent reached Stopped.
func (d *Dispatcher) drain() {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()
	d.signal()
}

// next pops the earliest ready agent. exit is true when the worker may stop.
func (d *Dispatcher) next() (a *Agent, exit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ready) > 0 {
		a = d.ready[0]
		d.ready[0] = nil
		d.ready = d.ready[1:]
		return a, false
	}
	return nil, d.draining && d.live == 0
}

// run is the worker loop. It is the only goroutine that invokes this dispatcher's handlers.
func (d *Dispatcher) run() (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)

	defer func() {
		if r := recover(); r != nil {
			logging.NewEvent(d.engine.logger.Error()).
				Add(logging.Dispatcher(d.name)).
				Add(logging.Str("stack", string(debug.Stack()))).
				Msg(fmt.Sprintf("dispatcher worker panicked: %v", r))
			err = fmt.Errorf("bollywood: dispatcher %s worker panicked: %v", d.name, r)
		}
	}()

	d.activate()

	logging.NewEvent(d.engine.logger.Debug()).
		Add(logging.Dispatcher(d.name)).
		Msg("dispatcher worker started")

	for {
		a, exit := d.next()
		if exit {
			break
		}
		if a == nil {
			<-d.wake
			continue
		}
		d.deliver(a)
	}

	logging.NewEvent(d.engine.logger.Debug()).
		Add(logging.Dispatcher(d.name)).
		Msg("dispatcher worker exiting")
	return nil
}

// start marks the dispatcher live; later bindings activate on the spot.
func (d *Dispatcher) start() {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
}

// activate moves the agents bound before start to Running.
func (d *Dispatcher) activate() {
	d.mu.Lock()
	bound := make([]*Agent, len(d.order))
	copy(bound, d.order)
	d.mu.Unlock()

	for _, a := range bound {
		if _, err := a.transition(StateBound, StateRunning); err != nil {
			logging.NewEvent(d.engine.logger.Warn()).
				Add(logging.AgentID(a.PID().String())).
				Add(logging.ErrorField(err)).
				Msg("agent activation failed")
		}
	}
}

// deliver processes at most one message for a and decides whether a stays scheduled.
func (d *Dispatcher) deliver(a *Agent) {
	switch a.State() {
	case StateRunning, StateStopping:
	case StateStopped:
		a.mailbox.park()
		return
	default:
		if !a.mailbox.park() {
			d.requeue(a)
		}
		return
	}

	if msg, ok := a.mailbox.TakeNext(); ok {
		if !d.invoke(a, msg) {
			return
		}
	}

	if a.State() == StateStopping {
		if a.mailbox.closeIfEmpty() {
			d.finish(a)
			return
		}
		d.requeue(a)
		return
	}

	if a.mailbox.park() {
		// A stop request that raced with park found the agent still scheduled.
		if a.State() == StateStopping {
			a.mailbox.kick()
		}
		return
	}
	d.requeue(a)
}

func (d *Dispatcher) requeue(a *Agent) {
	d.mu.Lock()
	d.ready = append(d.ready, a)
	d.mu.Unlock()
}

// invoke runs one handler call at the fault boundary. It returns false when the agent
// was quarantined.
func (d *Dispatcher) invoke(a *Agent, msg Message) bool {
	ctx := &handlerContext{self: a.PID(), dispatcher: d.name, logger: d.engine.logger}

	start := time.Now()
	effects, err := a.invoke(ctx, msg)
	if err != nil {
		d.quarantine(a, msg, err)
		return false
	}
	d.engine.onDelivered(a, time.Since(start))

	for _, env := range effects.Out {
		d.engine.forward(a, env)
	}
	if effects.Stop {
		if err := a.RequestStop(); err != nil {
			logging.NewEvent(d.engine.logger.Warn()).
				Add(logging.AgentID(a.PID().String())).
				Add(logging.ErrorField(err)).
				Msg("self stop failed")
		}
	}
	return true
}

// quarantine removes a faulted agent from scheduling without touching its neighbours.
func (d *Dispatcher) quarantine(a *Agent, msg Message, err error) {
	a.quarantined.Store(true)
	discarded := a.mailbox.discard()

	if _, terr := a.transition(StateRunning, StateStopping); terr != nil {
		logging.NewEvent(d.engine.logger.Warn()).
			Add(logging.AgentID(a.PID().String())).
			Add(logging.ErrorField(terr)).
			Msg("quarantine transition failed")
	}

	d.engine.onFault(Failure{
		Who:        a.PID(),
		Dispatcher: d.name,
		Message:    msg,
		Reason:     err,
	}, discarded)

	d.finish(a)
}

// finish completes Stopping -> Stopped and releases the agent's slot.
func (d *Dispatcher) finish(a *Agent) {
	ok, err := a.transition(StateStopping, StateStopped)
	if err != nil || !ok {
		return
	}

	d.mu.Lock()
	d.live--
	d.mu.Unlock()

	d.engine.onStopped(a)
}
