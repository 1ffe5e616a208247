package bollywood

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lguibr/twothread/logging"
)

// Timer is a delayed or periodic send. Ticks are ordinary non-blocking sends.
type Timer struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// Stop cancels the timer. It is safe to call more than once.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Done is closed when the timer goroutine has exited.
func (t *Timer) Done() <-chan struct{} { return t.done }

// SendDelayed delivers payload to pid once, after delay.
func (e *Engine) SendDelayed(pid *PID, payload interface{}, delay time.Duration) (*Timer, error) {
	return e.schedule(pid, payload, delay, 0)
}

// SendPeriodic delivers payload to pid after delay and then every period until the timer
// is stopped, the target stops, or the engine shuts down.
func (e *Engine) SendPeriodic(pid *PID, payload interface{}, delay, period time.Duration) (*Timer, error) {
	if period <= 0 {
		return nil, fmt.Errorf("bollywood: periodic send needs a positive period, got %s", period)
	}
	return e.schedule(pid, payload, delay, period)
}

func (e *Engine) schedule(pid *PID, payload interface{}, delay, period time.Duration) (*Timer, error) {
	if _, err := e.Lookup(pid); err != nil {
		return nil, err
	}
	t := &Timer{stop: make(chan struct{}), done: make(chan struct{})}
	if !e.track(t) {
		return nil, ErrShuttingDown
	}
	go e.runTimer(t, pid, payload, delay, period)
	return t, nil
}

func (e *Engine) runTimer(t *Timer, pid *PID, payload interface{}, delay, period time.Duration) {
	defer close(t.done)
	defer e.untrack(t)

	if delay > 0 {
		wait := time.NewTimer(delay)
		select {
		case <-t.stop:
			wait.Stop()
			return
		case <-wait.C:
		}
	}
	if !e.tick(pid, payload) || period == 0 {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !e.tick(pid, payload) {
				return
			}
		}
	}
}

// tick sends one payload. It returns false when the target can no longer receive.
func (e *Engine) tick(pid *PID, payload interface{}) bool {
	err := e.Send(pid, payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMailboxFull):
		logging.NewEvent(e.logger.Debug()).
			Add(logging.AgentID(pid.String())).
			Msg("timer tick dropped, mailbox full")
		return true
	default:
		logging.NewEvent(e.logger.Debug()).
			Add(logging.AgentID(pid.String())).
			Add(logging.ErrorField(err)).
			Msg("timer stopped")
		return false
	}
}
