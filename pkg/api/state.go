package api

import "fmt"

// SessionState is the lifecycle state of a long-lived connection.
type SessionState string

const (
	SessionConnecting SessionState = "connecting"
	SessionOpen       SessionState = "open"
	SessionDraining   SessionState = "draining"
	SessionClosed     SessionState = "closed"
)

// CloseReason records why a Session reached the closed state.
type CloseReason string

const (
	CloseNormal   CloseReason = "normal"
	CloseRemote   CloseReason = "remote"
	CloseError    CloseReason = "error"
	CloseTimeout  CloseReason = "timeout"
	CloseShutdown CloseReason = "shutdown"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionConnecting: {SessionOpen, SessionClosed},
	SessionOpen:       {SessionDraining, SessionClosed},
	SessionDraining:   {SessionClosed},
	SessionClosed:     {}, // terminal
}

// ValidateSessionTransition checks whether a session state transition is
// valid. Closed is terminal.
func ValidateSessionTransition(from, to SessionState) error {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return nil
		}
	}
	return NewInternalError(fmt.Sprintf("invalid session transition from %s to %s", from, to))
}

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionClosed
}
