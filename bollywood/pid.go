package bollywood

// PID (Process ID) is the stable handle other agents and callers use to address an agent.
// It is resolved through the dispatcher that owns the agent; it never grants direct access
// to the agent itself.
type PID struct {
	ID         string
	Dispatcher string
}

// String returns the string representation of the PID.
func (pid *PID) String() string {
	if pid == nil {
		return "<nil>"
	}
	return pid.ID
}
