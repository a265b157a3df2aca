package protocol

import (
	"encoding/json"
	"log"
)

// MessageHandler defines callbacks for the server -> terminal message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleConnected(env *Envelope, p *Connected)
	HandleAuthenticated(env *Envelope, p *Authenticated)
	HandleAuthError(env *Envelope, p *AuthError)
	HandleHeartbeatAck(env *Envelope, p *HeartbeatAck)
	HandleDashboardData(env *Envelope, p *DashboardData)
	HandleQueueUpdate(env *Envelope, p *QueueUpdate)
	HandleBookingConflict(env *Envelope, p *BookingConflict)
	HandleBookingSuccess(env *Envelope, p *BookingSuccess)
	HandleVehicleStatusChanged(env *Envelope, p *VehicleStatusChanged)
	HandleError(env *Envelope, p *ServerError)
}

// Ingestor decodes envelope payloads and dispatches them to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
}

// NewIngestor creates an ingestor for the given handler.
func NewIngestor(handler MessageHandler) *Ingestor {
	return &Ingestor{handler: handler}
}

// Dispatch routes a parsed envelope by type. It reports whether the type was
// recognized and its payload decoded.
func (ing *Ingestor) Dispatch(env *Envelope) bool {
	switch env.Type {
	case TypeConnected:
		return decodeOptional(ing.handler.HandleConnected, env)
	case TypeAuthenticated:
		return decodeOptional(ing.handler.HandleAuthenticated, env)
	case TypeAuthError:
		return decodeOptional(ing.handler.HandleAuthError, env)
	case TypeHeartbeatAck:
		return decodeOptional(ing.handler.HandleHeartbeatAck, env)
	case TypeInitialData, TypeDashboardData:
		return decodeAndCall(ing.handler.HandleDashboardData, env)
	case TypeQueueUpdate:
		return decodeAndCall(ing.handler.HandleQueueUpdate, env)
	case TypeBookingConflict:
		return decodeAndCall(ing.handler.HandleBookingConflict, env)
	case TypeBookingSuccess:
		return decodeAndCall(ing.handler.HandleBookingSuccess, env)
	case TypeVehicleStatusChanged:
		return decodeAndCall(ing.handler.HandleVehicleStatusChanged, env)
	case TypeError:
		return decodeOptional(ing.handler.HandleError, env)
	default:
		log.Printf("protocol: unknown message type: %s", env.Type)
		return false
	}
}

// decodeAndCall unmarshals the payload and calls the handler method.
func decodeAndCall[T any](fn func(*Envelope, *T), env *Envelope) bool {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("protocol: payload decode error for %s: %v", env.Type, err)
		return false
	}
	fn(env, &p)
	return true
}

// decodeOptional is decodeAndCall for types whose payload may be absent.
func decodeOptional[T any](fn func(*Envelope, *T), env *Envelope) bool {
	if len(env.Payload) == 0 {
		var p T
		fn(env, &p)
		return true
	}
	return decodeAndCall(fn, env)
}
