// File: server/monitor.go
package server

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
)

// Event kinds sent to subscribers.
const (
	KindSubscribed = "subscribed"
	KindTransition = "transition"
	KindDelivered  = "delivered"
	KindRejected   = "rejected"
	KindFault      = "fault"
)

// Event is the JSON document pushed to monitor subscribers.
type Event struct {
	Kind       string    `json:"kind"`
	At         time.Time `json:"at"`
	Agent      string    `json:"agent,omitempty"`
	Dispatcher string    `json:"dispatcher,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	DurationMs float64   `json:"durationMs,omitempty"`
	Error      string    `json:"error,omitempty"`
	Subscriber string    `json:"subscriber,omitempty"`
}

const writeTimeout = time.Second

type subscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(s.conn, ev)
}

// Monitor fans kernel events out to websocket subscribers. Observer callbacks only
// enqueue; a single pump goroutine does the network writes, so dispatcher workers never
// wait on a slow client. Events that do not fit the buffer are dropped and counted.
type Monitor struct {
	logger *bolt.Logger
	events chan Event

	mu   sync.Mutex
	subs map[string]*subscriber

	dropped atomic.Uint64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

var _ bollywood.Observer = (*Monitor)(nil)

// NewMonitor starts a monitor whose pending-event buffer holds buffer events.
func NewMonitor(logger *bolt.Logger, buffer int) *Monitor {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = logging.Get()
	}
	m := &Monitor{
		logger: logger,
		events: make(chan Event, buffer),
		subs:   make(map[string]*subscriber),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

// Subscribers reports the number of connected clients.
func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Dropped reports how many events were lost to a full buffer.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Close stops the pump and disconnects every subscriber.
func (m *Monitor) Close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done

		m.mu.Lock()
		subs := m.subs
		m.subs = make(map[string]*subscriber)
		m.mu.Unlock()
		for _, s := range subs {
			_ = s.conn.Close()
		}
	})
}

func (m *Monitor) publish(ev Event) {
	ev.At = time.Now()
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Monitor) pump() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.events:
			m.broadcast(ev)
		}
	}
}

func (m *Monitor) broadcast(ev Event) {
	m.mu.Lock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if err := s.send(ev); err != nil {
			logging.NewEvent(m.logger.Debug()).
				Add(logging.Component("monitor")).
				Add(logging.Str("subscriber", s.id)).
				Add(logging.ErrorField(err)).
				Msg("dropping subscriber after failed write")
			m.remove(s.id)
			_ = s.conn.Close()
		}
	}
}

func (m *Monitor) remove(id string) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// HandleSubscribe registers the connection and keeps it until the client goes away.
// Anything the client sends is ignored.
func (m *Monitor) HandleSubscribe() func(ws *websocket.Conn) {
	return func(ws *websocket.Conn) {
		s := &subscriber{id: uuid.NewString(), conn: ws}
		defer func() {
			if r := recover(); r != nil {
				logging.NewEvent(m.logger.Error()).
					Add(logging.Component("monitor")).
					Add(logging.Str("stack", string(debug.Stack()))).
					Msg(fmt.Sprintf("subscriber handler panicked: %v", r))
			}
			m.remove(s.id)
			_ = ws.Close()
		}()

		select {
		case <-m.stop:
			return
		default:
		}

		if err := s.send(Event{Kind: KindSubscribed, At: time.Now(), Subscriber: s.id}); err != nil {
			return
		}
		m.mu.Lock()
		m.subs[s.id] = s
		m.mu.Unlock()

		logging.NewEvent(m.logger.Info()).
			Add(logging.Component("monitor")).
			Add(logging.Str("subscriber", s.id)).
			Add(logging.Str("remote", ws.Request().RemoteAddr)).
			Msg("monitor subscriber connected")

		for {
			var ignored interface{}
			if err := websocket.JSON.Receive(ws, &ignored); err != nil {
				logging.NewEvent(m.logger.Debug()).
					Add(logging.Component("monitor")).
					Add(logging.Str("subscriber", s.id)).
					Add(logging.ErrorField(err)).
					Msg("monitor subscriber disconnected")
				return
			}
		}
	}
}

// AgentTransition publishes a lifecycle change.
func (m *Monitor) AgentTransition(pid *bollywood.PID, dispatcher string, from, to bollywood.State) {
	m.publish(Event{Kind: KindTransition, Agent: pid.String(), Dispatcher: dispatcher, From: string(from), To: string(to)})
}

// MessageDelivered publishes a handled message.
func (m *Monitor) MessageDelivered(pid *bollywood.PID, dispatcher string, took time.Duration) {
	m.publish(Event{Kind: KindDelivered, Agent: pid.String(), Dispatcher: dispatcher, DurationMs: float64(took.Microseconds()) / 1000})
}

// DeliveryRejected publishes a refused send.
func (m *Monitor) DeliveryRejected(from, to *bollywood.PID, reason error) {
	ev := Event{Kind: KindRejected, Agent: to.String()}
	if from != nil {
		ev.From = from.String()
	}
	if reason != nil {
		ev.Error = reason.Error()
	}
	m.publish(ev)
}

// HandlerFault publishes a quarantine.
func (m *Monitor) HandlerFault(f bollywood.Failure) {
	ev := Event{Kind: KindFault, Agent: f.Who.String(), Dispatcher: f.Dispatcher}
	if f.Reason != nil {
		ev.Error = f.Reason.Error()
	}
	m.publish(ev)
}
