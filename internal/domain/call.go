package domain

type CallState string

const (
	CallIdle    CallState = "idle"
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
)

// CallSession is the per-room call lifecycle value.
type CallSession struct {
	State    CallState
	Inviter  ConnID
	Acceptor ConnID
}

// Participant reports whether id takes part in the current call.
func (s CallSession) Participant(id ConnID) bool {
	if s.State == CallIdle || id == "" {
		return false
	}
	return s.Inviter == id || s.Acceptor == id
}
