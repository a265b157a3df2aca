package engine

import (
	"errors"
	"net"
	"net/http"
	"net/url"

	"stationedge/conflict"
	"stationedge/conn"
	"stationedge/lifecycle"
	"stationedge/messaging"
	"stationedge/protocol"
	"stationedge/session"
	"stationedge/stationapi"
)

// ErrorKind is the failure class UI collaborators branch on.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindAuth
	KindConflict
	KindMalformed
	KindLifecycle
	KindCollaborator
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	case KindMalformed:
		return "malformed"
	case KindLifecycle:
		return "lifecycle"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// Classify maps err to its ErrorKind by type, never by message text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if _, ok := conflict.As(err); ok {
		return KindConflict
	}

	var authErr *conn.AuthError
	if errors.As(err, &authErr) || errors.Is(err, session.ErrNoSession) {
		return KindAuth
	}
	var apiErr *stationapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusUnauthorized {
			return KindAuth
		}
		return KindCollaborator
	}
	if errors.Is(err, messaging.ErrPrintingDisabled) {
		return KindCollaborator
	}

	var malformed *protocol.MalformedMessageError
	if errors.As(err, &malformed) {
		return KindMalformed
	}
	if errors.Is(err, lifecycle.ErrNoActivePass) ||
		errors.Is(err, lifecycle.ErrAlreadyPending) ||
		errors.Is(err, lifecycle.ErrNotFullyBooked) {
		return KindLifecycle
	}

	var transportErr *conn.TransportError
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &transportErr) ||
		errors.Is(err, conn.ErrNotConnected) ||
		errors.Is(err, conn.ErrDisconnected) ||
		errors.Is(err, conn.ErrHeartbeatTimeout) ||
		errors.As(err, &urlErr) ||
		errors.As(err, &netErr) {
		return KindTransport
	}
	return KindUnknown
}
