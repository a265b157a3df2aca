package conn

// State is the lifecycle state of the push channel.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateReconnecting  State = "reconnecting"
	StateFailed        State = "failed"
)

// IsOpen reports whether messages can be written in this state.
func (s State) IsOpen() bool {
	return s == StateConnected || s == StateAuthenticated
}

// IsActive reports whether a connection is open or being opened. Connect is
// a no-op in these states.
func (s State) IsActive() bool {
	return s == StateConnecting || s.IsOpen()
}
