package bollywood

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lguibr/twothread/logging"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewEngine(opts...)
}

func mustDispatcher(t *testing.T, e *Engine, name string) *Dispatcher {
	t.Helper()
	d, err := e.NewDispatcher(name)
	require.NoError(t, err)
	return d
}

func mustBind(t *testing.T, e *Engine, a *Agent, d *Dispatcher) *PID {
	t.Helper()
	pid, err := e.Bind(a, d)
	require.NoError(t, err)
	return pid
}

// recorder appends every int payload to its state.
func recorder(name string, opts ...AgentOption) *Agent {
	return NewAgent(name, []int(nil), func(ctx Context, seen []int, msg Message) ([]int, Effects, error) {
		if n, ok := msg.Payload().(int); ok {
			seen = append(seen, n)
		}
		return seen, Effects{}, nil
	}, opts...)
}

type transitionRecord struct {
	pid      string
	from, to State
}

type recordingObserver struct {
	NopObserver

	mu          sync.Mutex
	transitions []transitionRecord
	delivered   int
	rejected    int
	faults      []Failure
}

func (o *recordingObserver) AgentTransition(pid *PID, _ string, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transitionRecord{pid: pid.String(), from: from, to: to})
}

func (o *recordingObserver) MessageDelivered(*PID, string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered++
}

func (o *recordingObserver) DeliveryRejected(*PID, *PID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func (o *recordingObserver) HandlerFault(f Failure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults = append(o.faults, f)
}

func (o *recordingObserver) pathOf(pid string) []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var path []State
	for _, r := range o.transitions {
		if r.pid != pid {
			continue
		}
		if len(path) == 0 {
			path = append(path, r.from)
		}
		path = append(path, r.to)
	}
	return path
}
