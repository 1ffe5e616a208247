package bollywood

import "time"

// Observer receives kernel events. Callbacks run on dispatcher workers (or on the sender's
// goroutine for rejected deliveries) and must return quickly.
type Observer interface {
	AgentTransition(pid *PID, dispatcher string, from, to State)
	MessageDelivered(pid *PID, dispatcher string, took time.Duration)
	DeliveryRejected(from, to *PID, reason error)
	HandlerFault(f Failure)
}

// NopObserver implements Observer with no-ops. Embed it to handle a subset of events.
type NopObserver struct{}

func (NopObserver) AgentTransition(*PID, string, State, State)    {}
func (NopObserver) MessageDelivered(*PID, string, time.Duration) {}
func (NopObserver) DeliveryRejected(*PID, *PID, error)           {}
func (NopObserver) HandlerFault(Failure)                         {}
