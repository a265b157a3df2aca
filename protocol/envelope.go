package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wrapper for every message on the push channel.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	CorID     string          `json:"correlationId,omitempty"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MalformedMessageError reports an inbound message that could not be decoded
// or carried no type. Such messages are dropped, never raised.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// NewEnvelope creates an outbound envelope stamped with the current time.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = p
	}
	return env, nil
}

// NewReply creates an envelope correlated to the message with the given ID.
func NewReply(msgType, correlationID string, payload any) (*Envelope, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	env.CorID = correlationID
	return env, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into the given target.
func (e *Envelope) DecodePayload(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, target)
}

// ParseEnvelope decodes raw bytes from the channel. It returns a
// *MalformedMessageError for unparsable bodies and envelopes without a type.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Reason: "decode", Err: err}
	}
	if env.Type == "" {
		return nil, &MalformedMessageError{Reason: "missing type"}
	}
	return &env, nil
}
