package bollywood

import (
	"fmt"
	"sync"
)

// OverflowPolicy decides what a bounded mailbox does with a message that does not fit.
type OverflowPolicy int

const (
	// DropNewest refuses the incoming message; the queue is left untouched.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the oldest pending message to make room for the new one.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy maps "drop_newest" and "drop_oldest" to their policies.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop_newest":
		return DropNewest, nil
	case "drop_oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("bollywood: unknown overflow policy %q", s)
	}
}

// MailboxConfig sizes a mailbox. Capacity 0 means unbounded.
type MailboxConfig struct {
	Capacity int
	Overflow OverflowPolicy
}

// Mailbox is the FIFO queue owned by one agent. Any number of goroutines may Send;
// only the owning dispatcher's worker takes messages out.
type Mailbox struct {
	owner  string
	config MailboxConfig

	mu        sync.Mutex
	queue     []Message
	closed    bool // owner reached Stopped
	scheduled bool // owner sits in (or is being processed from) its dispatcher's run-queue
	dropped   uint64
	notify    func()
}

// NewMailbox creates an empty mailbox for the agent named owner.
func NewMailbox(owner string, config MailboxConfig) *Mailbox {
	if config.Capacity < 0 {
		config.Capacity = 0
	}
	return &Mailbox{
		owner:  owner,
		config: config,
	}
}

// Send enqueues msg at the tail. It never blocks.
// It returns ErrDeliveryRejected once the owner is Stopped, and ErrMailboxFull when a bounded
// DropNewest mailbox is at capacity.
func (m *Mailbox) Send(msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDeliveryRejected
	}
	if m.config.Capacity > 0 && len(m.queue) >= m.config.Capacity {
		m.dropped++
		if m.config.Overflow == DropNewest {
			m.mu.Unlock()
			return ErrMailboxFull
		}
		m.queue[0] = Message{}
		m.queue = m.queue[1:]
	}
	m.queue = append(m.queue, msg)
	notify := m.claimLocked()
	m.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// TakeNext removes the head message. The boolean is false when the mailbox is empty.
func (m *Mailbox) TakeNext() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Message{}, false
	}
	msg := m.queue[0]
	m.queue[0] = Message{}
	m.queue = m.queue[1:]
	return msg, true
}

// TryTakeAll removes and returns every pending message in FIFO order.
func (m *Mailbox) TryTakeAll() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	all := m.queue
	m.queue = nil
	return all
}

// Len reports the number of pending messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Dropped reports how many messages the overflow policy discarded.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Closed reports whether the owner reached Stopped.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// attach installs the callback used to put the owner on its dispatcher's run-queue.
// Mail that arrived before attach is scheduled right away.
func (m *Mailbox) attach(notify func()) {
	m.mu.Lock()
	m.notify = notify
	var pending func()
	if len(m.queue) > 0 {
		pending = m.claimLocked()
	}
	m.mu.Unlock()
	if pending != nil {
		pending()
	}
}

// kick schedules the owner even when the queue is empty, so the dispatcher can
// observe a lifecycle change on its own worker.
func (m *Mailbox) kick() {
	m.mu.Lock()
	var notify func()
	if !m.closed {
		notify = m.claimLocked()
	}
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// claimLocked marks the owner scheduled and returns the notifier if it was idle.
func (m *Mailbox) claimLocked() func() {
	if m.scheduled || m.notify == nil {
		return nil
	}
	m.scheduled = true
	return m.notify
}

// park releases the scheduled flag when nothing is pending. A false result means more
// work arrived and the owner must stay on the run-queue.
func (m *Mailbox) park() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 {
		return false
	}
	m.scheduled = false
	return true
}

// closeIfEmpty seals the mailbox when the queue is drained.
func (m *Mailbox) closeIfEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) > 0 {
		return false
	}
	m.closed = true
	m.scheduled = false
	return true
}

// discard seals the mailbox and drops whatever is still queued.
func (m *Mailbox) discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	m.queue = nil
	m.closed = true
	m.scheduled = false
	return n
}
