package bollywood

import (
	"errors"
	"fmt"
)

var (
	// ErrDeliveryRejected is returned when sending to an agent that reached Stopped.
	ErrDeliveryRejected = errors.New("bollywood: delivery rejected, agent stopped")
	// ErrMailboxFull is returned when a bounded DropNewest mailbox refuses a message.
	ErrMailboxFull = errors.New("bollywood: mailbox full")
	// ErrDoubleStart is returned by a second Engine.Start.
	ErrDoubleStart = errors.New("bollywood: engine already started")
	// ErrDoubleStop is returned by a second Engine.RequestStop.
	ErrDoubleStop = errors.New("bollywood: engine stop already requested")
	// ErrNotStarted is returned when an operation needs a started engine.
	ErrNotStarted = errors.New("bollywood: engine not started")
	// ErrShuttingDown is returned for bindings attempted after shutdown began.
	ErrShuttingDown = errors.New("bollywood: engine shutting down")
	// ErrShutdownTimeout is returned by Join when dispatchers fail to drain in time.
	ErrShutdownTimeout = errors.New("bollywood: shutdown timed out")
	// ErrQuarantined is returned by Join when at least one agent faulted.
	ErrQuarantined = errors.New("bollywood: agents quarantined")
	// ErrAlreadyBound is returned when binding an agent twice.
	ErrAlreadyBound = errors.New("bollywood: agent already bound")
	// ErrAgentNotBound is returned when stopping an agent that has no dispatcher.
	ErrAgentNotBound = errors.New("bollywood: agent not bound")
	// ErrUnknownAgent is returned when a PID resolves to nothing.
	ErrUnknownAgent = errors.New("bollywood: unknown agent")
	// ErrDispatcherExists is returned when a dispatcher name is already taken.
	ErrDispatcherExists = errors.New("bollywood: dispatcher already exists")
	// ErrTopologyFrozen is returned when adding a dispatcher after Start.
	ErrTopologyFrozen = errors.New("bollywood: dispatchers cannot be added after start")
	// ErrInvalidTransition is returned for a lifecycle transition that would skip a state.
	ErrInvalidTransition = errors.New("bollywood: invalid lifecycle transition")
)

// HandlerFault wraps a panic or an error raised by an agent handler.
type HandlerFault struct {
	Agent string
	Value interface{}
	Stack []byte
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("bollywood: handler fault in %s: %v", f.Agent, f.Value)
}

// Unwrap exposes the handler's error when it returned one.
func (f *HandlerFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// Exit codes reported by ExitCode.
const (
	ExitClean   = 0
	ExitFailure = 1
	ExitTimeout = 2
)

// ExitCode maps the result of Engine.Join to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitClean
	case errors.Is(err, ErrShutdownTimeout):
		return ExitTimeout
	default:
		return ExitFailure
	}
}
