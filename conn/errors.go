package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	// Callers should treat it as "try later".
	ErrNotConnected = errors.New("conn: not connected")

	// ErrDisconnected is returned to pending requests when the channel
	// closes, and by Connect when Disconnect raced the dial.
	ErrDisconnected = errors.New("conn: disconnected")

	// ErrHeartbeatTimeout is the close reason when too many heartbeats went
	// unacknowledged.
	ErrHeartbeatTimeout = errors.New("conn: heartbeat acknowledgements missed")
)

// TransportError wraps a failure of the underlying channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("conn: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports rejected or unusable credentials. The channel stays
// open so authentication can be retried.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("conn: auth %s: %s", e.Code, e.Message)
	}
	return "conn: auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }
