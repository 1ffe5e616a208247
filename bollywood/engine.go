package bollywood

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lguibr/twothread/logging"
)

// Options configures an Engine.
type Options struct {
	// Logger receives kernel logs. Defaults to logging.Get().
	Logger *bolt.Logger

	// Observers are notified of lifecycle, delivery and fault events.
	Observers []Observer

	// OnFailure is called for every quarantined agent, on the faulting dispatcher's worker.
	OnFailure func(Failure)
}

// Option is a functional option for configuring an Engine.
type Option func(*Options)

// WithLogger sets the engine's logger.
func WithLogger(l *bolt.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		if obs != nil {
			o.Observers = append(o.Observers, obs)
		}
	}
}

// WithFailureHandler sets the failure sink for quarantined agents.
func WithFailureHandler(fn func(Failure)) Option {
	return func(o *Options) {
		o.OnFailure = fn
	}
}

// Engine owns the dispatchers and the agents bound to them. It starts every worker once,
// shuts them down once and joins them.
type Engine struct {
	id        string
	logger    *bolt.Logger
	observers []Observer
	onFailure func(Failure)

	mu          sync.Mutex
	dispatchers []*Dispatcher
	byName      map[string]*Dispatcher
	pidCounter  uint64
	live        int
	failures    []Failure
	timers      map[*Timer]struct{}

	started       atomic.Bool
	stopRequested atomic.Bool
	shutdown      atomic.Bool

	group    errgroup.Group
	joinOnce sync.Once
	joined   chan struct{}
	joinErr  error
}

// NewEngine creates an engine with no dispatchers.
func NewEngine(opts ...Option) *Engine {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logging.Get()
	}
	return &Engine{
		id:        uuid.NewString(),
		logger:    o.Logger,
		observers: o.Observers,
		onFailure: o.OnFailure,
		byName:    make(map[string]*Dispatcher),
		timers:    make(map[*Timer]struct{}),
		joined:    make(chan struct{}),
	}
}

// ID returns the engine's run identifier.
func (e *Engine) ID() string { return e.id }

// Logger returns the engine's logger.
func (e *Engine) Logger() *bolt.Logger { return e.logger }

// NewDispatcher registers a dispatcher. Its worker starts with the engine.
func (e *Engine) NewDispatcher(name string) (*Dispatcher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started.Load() {
		return nil, fmt.Errorf("%w: %q", ErrTopologyFrozen, name)
	}
	if _, ok := e.byName[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDispatcherExists, name)
	}
	d := newDispatcher(e, name)
	e.dispatchers = append(e.dispatchers, d)
	e.byName[name] = d
	return d, nil
}

// Dispatcher returns the dispatcher registered under name, or nil.
func (e *Engine) Dispatcher(name string) *Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byName[name]
}

// Dispatchers returns the registered dispatchers in creation order.
func (e *Engine) Dispatchers() []*Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Dispatcher, len(e.dispatchers))
	copy(out, e.dispatchers)
	return out
}

// Bind assigns a to d for the rest of its life and returns its PID.
// Binding to a running dispatcher activates the agent immediately.
func (e *Engine) Bind(a *Agent, d *Dispatcher) (*PID, error) {
	if a == nil || d == nil {
		return nil, errors.New("bollywood: bind needs an agent and a dispatcher")
	}
	if d.engine != e {
		return nil, fmt.Errorf("bollywood: dispatcher %q belongs to another engine", d.name)
	}
	if e.shutdown.Load() {
		return nil, ErrShuttingDown
	}

	e.mu.Lock()
	e.pidCounter++
	pid := &PID{ID: fmt.Sprintf("%s-%d", a.name, e.pidCounter), Dispatcher: d.name}
	e.mu.Unlock()

	if err := a.bind(pid, d); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.live++
	e.mu.Unlock()

	if err := d.adopt(a); err != nil {
		e.mu.Lock()
		e.live--
		e.mu.Unlock()
		return nil, err
	}
	return pid, nil
}

// Start launches one worker per dispatcher. It may be called only once.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started.CompareAndSwap(false, true) {
		return ErrDoubleStart
	}
	for _, d := range e.dispatchers {
		d.start()
		e.group.Go(d.run)
	}
	logging.NewEvent(e.logger.Info()).
		Add(logging.EngineID(e.id)).
		Add(logging.Int("dispatchers", len(e.dispatchers))).
		Add(logging.Int("agents", e.live)).
		Msg("engine started")
	return nil
}

// RequestStop begins shutdown: timers are cancelled, every agent is asked to stop, and
// the dispatchers exit once their agents drained. It may be called only once.
func (e *Engine) RequestStop() error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	if !e.stopRequested.CompareAndSwap(false, true) {
		return ErrDoubleStop
	}
	e.beginShutdown("stop requested")
	return nil
}

// Stopping reports whether shutdown has begun.
func (e *Engine) Stopping() bool { return e.shutdown.Load() }

func (e *Engine) beginShutdown(reason string) {
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}
	logging.NewEvent(e.logger.Info()).
		Add(logging.EngineID(e.id)).
		Add(logging.Reason(reason)).
		Msg("engine shutting down")

	e.mu.Lock()
	timers := make([]*Timer, 0, len(e.timers))
	for t := range e.timers {
		timers = append(timers, t)
	}
	dispatchers := make([]*Dispatcher, len(e.dispatchers))
	copy(dispatchers, e.dispatchers)
	e.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	// Draining first closes the dispatchers to new bindings before the broadcast.
	for _, d := range dispatchers {
		d.drain()
	}
	for _, d := range dispatchers {
		for _, a := range d.Agents() {
			if err := a.RequestStop(); err != nil {
				logging.NewEvent(e.logger.Warn()).
					Add(logging.AgentID(a.PID().String())).
					Add(logging.ErrorField(err)).
					Msg("agent stop failed")
			}
		}
	}
}

// Join waits until every dispatcher worker exited or ctx is done.
// It returns ErrShutdownTimeout when ctx expires first and ErrQuarantined when any agent
// faulted during the run.
func (e *Engine) Join(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	e.joinOnce.Do(func() {
		go func() {
			e.joinErr = e.group.Wait()
			close(e.joined)
		}()
	})

	select {
	case <-e.joined:
	case <-ctx.Done():
		logging.NewEvent(e.logger.Error()).
			Add(logging.EngineID(e.id)).
			Add(logging.ErrorField(ctx.Err())).
			Msg("dispatchers did not join in time")
		return fmt.Errorf("%w: %v", ErrShutdownTimeout, ctx.Err())
	}

	if e.joinErr != nil {
		return e.joinErr
	}
	if n := len(e.Failures()); n > 0 {
		return fmt.Errorf("%w: %d agent(s)", ErrQuarantined, n)
	}
	logging.NewEvent(e.logger.Info()).
		Add(logging.EngineID(e.id)).
		Msg("engine stopped")
	return nil
}

// Shutdown requests a stop, if none was requested yet, and joins within timeout.
func (e *Engine) Shutdown(timeout time.Duration) error {
	if err := e.RequestStop(); err != nil && !errors.Is(err, ErrDoubleStop) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Join(ctx)
}

// Done is closed once every dispatcher worker has exited and Join was called.
func (e *Engine) Done() <-chan struct{} { return e.joined }

// Send delivers payload to pid's mailbox without a reply address.
func (e *Engine) Send(pid *PID, payload interface{}) error {
	return e.SendMessage(pid, NewMessage(payload, nil))
}

// SendMessage delivers msg to pid's mailbox. It never blocks.
func (e *Engine) SendMessage(pid *PID, msg Message) error {
	err := e.deliver(pid, msg)
	if err != nil {
		e.rejected(nil, pid, err)
	}
	return err
}

// StopAgent asks a single agent to stop.
func (e *Engine) StopAgent(pid *PID) error {
	a, err := e.Lookup(pid)
	if err != nil {
		return err
	}
	return a.RequestStop()
}

// Lookup resolves pid through its owning dispatcher.
func (e *Engine) Lookup(pid *PID) (*Agent, error) {
	if pid == nil {
		return nil, fmt.Errorf("%w: nil pid", ErrUnknownAgent)
	}
	d := e.Dispatcher(pid.Dispatcher)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, pid)
	}
	a := d.lookup(pid.ID)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, pid)
	}
	return a, nil
}

// Failures returns the faults recorded so far.
func (e *Engine) Failures() []Failure {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Failure, len(e.failures))
	copy(out, e.failures)
	return out
}

func (e *Engine) deliver(pid *PID, msg Message) error {
	a, err := e.Lookup(pid)
	if err != nil {
		return err
	}
	if err := a.mailbox.Send(msg); err != nil {
		return fmt.Errorf("send to %s: %w", pid, err)
	}
	return nil
}

// forward carries out an envelope emitted by from's handler. Rejections are reported,
// never raised into the sender.
func (e *Engine) forward(from *Agent, env Envelope) {
	if err := e.deliver(env.To, env.Message); err != nil {
		logging.NewEvent(e.logger.Warn()).
			Add(logging.AgentID(from.PID().String())).
			Add(logging.Str("to", env.To.String())).
			Add(logging.ErrorField(err)).
			Msg("outgoing message rejected")
		e.rejected(from.PID(), env.To, err)
	}
}

func (e *Engine) rejected(from, to *PID, err error) {
	for _, obs := range e.observers {
		obs.DeliveryRejected(from, to, err)
	}
}

func (e *Engine) onTransition(a *Agent, from, to State) {
	pid := a.PID()
	logging.NewEvent(e.logger.Debug()).
		Add(logging.AgentID(pid.String())).
		Add(logging.Dispatcher(pid.Dispatcher)).
		Add(logging.FromState(string(from))).
		Add(logging.ToState(string(to))).
		Msg("agent transition")
	for _, obs := range e.observers {
		obs.AgentTransition(pid, pid.Dispatcher, from, to)
	}
}

func (e *Engine) onDelivered(a *Agent, took time.Duration) {
	pid := a.PID()
	for _, obs := range e.observers {
		obs.MessageDelivered(pid, pid.Dispatcher, took)
	}
}

func (e *Engine) onFault(f Failure, discarded int) {
	ev := logging.NewEvent(e.logger.Error()).
		Add(logging.AgentID(f.Who.String())).
		Add(logging.Dispatcher(f.Dispatcher)).
		Add(logging.Int("discarded", discarded)).
		Add(logging.ErrorField(f.Reason))
	var fault *HandlerFault
	if errors.As(f.Reason, &fault) && len(fault.Stack) > 0 {
		ev.Add(logging.Str("stack", string(fault.Stack)))
	}
	ev.Msg("agent quarantined")

	e.mu.Lock()
	e.failures = append(e.failures, f)
	e.mu.Unlock()

	if e.onFailure != nil {
		e.onFailure(f)
	}
	for _, obs := range e.observers {
		obs.HandlerFault(f)
	}
}

// onStopped triggers shutdown once every bound agent has stopped.
func (e *Engine) onStopped(a *Agent) {
	e.mu.Lock()
	e.live--
	last := e.live == 0
	e.mu.Unlock()

	if last && e.started.Load() {
		e.beginShutdown("all agents stopped")
	}
}

func (e *Engine) track(t *Timer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown.Load() {
		return false
	}
	e.timers[t] = struct{}{}
	return true
}

func (e *Engine) untrack(t *Timer) {
	e.mu.Lock()
	delete(e.timers, t)
	e.mu.Unlock()
}
