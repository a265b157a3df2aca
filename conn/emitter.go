package conn

import "stationedge/protocol"

// EventEmitter is the interface the conn package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitStateChanged(oldState, newState State)
	EmitAuthenticated()
	EmitAuthError(err *AuthError)
	EmitDisconnected(err error, manual bool)
	EmitMessage(env *protocol.Envelope)
}

type nopEmitter struct{}

func (nopEmitter) EmitStateChanged(State, State)  {}
func (nopEmitter) EmitAuthenticated()             {}
func (nopEmitter) EmitAuthError(*AuthError)       {}
func (nopEmitter) EmitDisconnected(error, bool)   {}
func (nopEmitter) EmitMessage(*protocol.Envelope) {}
