// Package lifecycle drives the bridge through an explicit state graph:
// create the socket listener, attach the outward protocol transport,
// hold steady while connected, and recover from failures with bounded
// retries before escalating.
package lifecycle

import "time"

// State is one of the fixed lifecycle states.
type State string

const (
	StateInitializing          State = "INITIALIZING"
	StateCreatingServer        State = "CREATING_SERVER"
	StateRetryingServerCreate  State = "RETRYING_SERVER_CREATION"
	StateConnecting            State = "CONNECTING"
	StateRetryingConnection    State = "RETRYING_CONNECTION"
	StateConnected             State = "CONNECTED"
	StateReconnecting          State = "RECONNECTING"
	StateRestarting            State = "RESTARTING"
	StateShuttingDown          State = "SHUTTING_DOWN"
	StateShutdown              State = "SHUTDOWN"
	StateFailed                State = "FAILED"
)

// validEdges defines the allowed transitions. An out-of-table
// transition is logged, not blocked: the machine trusts its own
// control flow more than the table.
var validEdges = map[State][]State{
	StateInitializing:         {StateCreatingServer},
	StateCreatingServer:       {StateConnecting, StateRetryingServerCreate, StateFailed},
	StateRetryingServerCreate: {StateCreatingServer},
	StateConnecting:           {StateConnected, StateRetryingConnection, StateFailed},
	StateRetryingConnection:   {StateConnecting, StateRestarting},
	StateConnected:            {StateReconnecting, StateShuttingDown},
	StateReconnecting:         {StateCreatingServer},
	StateRestarting:           {StateCreatingServer},
	StateShuttingDown:         {StateShutdown},
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateShutdown || s == StateFailed
}

// edgeAllowed reports whether from→to appears in the transition table.
// A shutdown signal may arrive in any non-terminal state, so every
// state gets an implicit edge to SHUTTING_DOWN.
func edgeAllowed(from, to State) bool {
	if to == StateShuttingDown {
		return !from.IsTerminal()
	}
	for _, next := range validEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change, kept for diagnostics.
type Transition struct {
	From State
	To   State
	At   time.Time
	Note string
}
