package bollywood

// --- Messages ---

// Message is the immutable value carried between agents.
// A Message instance is delivered to exactly one mailbox.
type Message struct {
	payload interface{}
	replyTo *PID
}

// NewMessage builds a message. replyTo may be nil.
func NewMessage(payload interface{}, replyTo *PID) Message {
	return Message{payload: payload, replyTo: replyTo}
}

// Payload returns the message data.
func (m Message) Payload() interface{} { return m.payload }

// ReplyTo returns the agent that expects an answer, if any.
func (m Message) ReplyTo() *PID { return m.replyTo }

// --- Handler Effects ---

// Envelope addresses an outgoing message.
type Envelope struct {
	To      *PID
	Message Message
}

// Tell builds an envelope for payload without a reply address.
func Tell(to *PID, payload interface{}) Envelope {
	return Envelope{To: to, Message: NewMessage(payload, nil)}
}

// TellFrom builds an envelope whose reply address is from.
func TellFrom(to, from *PID, payload interface{}) Envelope {
	return Envelope{To: to, Message: NewMessage(payload, from)}
}

// Effects is what a handler hands back to its dispatcher besides the new state.
type Effects struct {
	// Out is forwarded by the dispatcher, in order, after the handler returns.
	Out []Envelope
	// Stop requests the agent's own shutdown (Running -> Stopping).
	Stop bool
}

// Emit returns Effects carrying the given envelopes.
func Emit(out ...Envelope) Effects {
	return Effects{Out: out}
}

// Then appends more envelopes.
func (e Effects) Then(out ...Envelope) Effects {
	e.Out = append(e.Out, out...)
	return e
}

// AndStop marks the effects as a self-stop.
func (e Effects) AndStop() Effects {
	e.Stop = true
	return e
}

// --- Failures ---

// Failure records a handler fault that quarantined an agent.
type Failure struct {
	Who        *PID
	Dispatcher string
	Message    Message
	Reason     error
}
