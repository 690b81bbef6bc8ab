package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire frame carried on a user channel and over the gateway socket.
type Envelope struct {
	Type    EventType       `json:"type"`
	SentAt  time.Time       `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(e Event, sentAt time.Time) (Envelope, error) {
	if ic, ok := e.(IncomingCall); ok && ic.SentAt.IsZero() {
		ic.SentAt = sentAt
		e = ic
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s: %w", e.EventType(), err)
	}
	return Envelope{Type: e.EventType(), SentAt: sentAt, Payload: payload}, nil
}

func Encode(e Event, sentAt time.Time) ([]byte, error) {
	env, err := NewEnvelope(e, sentAt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a frame into its typed event. Unknown types return ok=false
// with a nil error so callers can skip them.
func Decode(data []byte) (Envelope, Event, bool, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, false, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	var (
		event Event
		err   error
	)
	switch env.Type {
	case EventIncomingCall:
		var e IncomingCall
		err = json.Unmarshal(env.Payload, &e)
		if e.SentAt.IsZero() {
			e.SentAt = env.SentAt
		}
		event = e
	case EventCallAccepted:
		var e CallAccepted
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case EventCallDeclined:
		var e CallDeclined
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case EventCallEnded:
		var e CallEnded
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case EventParticipantJoined:
		var e ParticipantJoined
		err = json.Unmarshal(env.Payload, &e)
		event = e
	case EventParticipantLeft:
		var e ParticipantLeft
		err = json.Unmarshal(env.Payload, &e)
		event = e
	default:
		return env, nil, false, nil
	}
	if err != nil {
		return env, nil, false, fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}
	return env, event, true, nil
}
