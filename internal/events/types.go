package events

import (
	"time"

	"ringline/internal/domain/call"
	"ringline/internal/domain/user"
)

// EventType names a signaling event on a user channel.
type EventType string

const (
	EventIncomingCall      EventType = "incoming-call"
	EventCallAccepted      EventType = "call-accepted"
	EventCallDeclined      EventType = "call-declined"
	EventCallEnded         EventType = "call-ended"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
)

// Event is any payload that can be carried in an Envelope.
type Event interface {
	EventType() EventType
	// Call returns the id of the call the event belongs to.
	Call() string
}

type IncomingCall struct {
	CallID       string         `json:"callId"`
	Initiator    user.Profile   `json:"initiator"`
	Type         call.Kind      `json:"type"`
	IsGroup      bool           `json:"isGroup"`
	Participants []user.Profile `json:"participants"`
	ChatChannel  string         `json:"chatChannel,omitempty"`
	SentAt       time.Time      `json:"sentAt"`
}

type CallAccepted struct {
	CallID     string `json:"callId"`
	AcceptedBy string `json:"acceptedBy"`
}

type CallDeclined struct {
	CallID     string `json:"callId"`
	DeclinedBy string `json:"declinedBy"`
}

// CallEnded is the convergence signal. Status carries the terminal call
// status when the sender knows it.
type CallEnded struct {
	CallID string      `json:"callId"`
	Status call.Status `json:"status,omitempty"`
}

type ParticipantJoined struct {
	CallID        string `json:"callId"`
	ParticipantID string `json:"participantId"`
}

type ParticipantLeft struct {
	CallID        string `json:"callId"`
	ParticipantID string `json:"participantId"`
}

func (IncomingCall) EventType() EventType      { return EventIncomingCall }
func (CallAccepted) EventType() EventType      { return EventCallAccepted }
func (CallDeclined) EventType() EventType      { return EventCallDeclined }
func (CallEnded) EventType() EventType         { return EventCallEnded }
func (ParticipantJoined) EventType() EventType { return EventParticipantJoined }
func (ParticipantLeft) EventType() EventType   { return EventParticipantLeft }

func (e IncomingCall) Call() string      { return e.CallID }
func (e CallAccepted) Call() string      { return e.CallID }
func (e CallDeclined) Call() string      { return e.CallID }
func (e CallEnded) Call() string         { return e.CallID }
func (e ParticipantJoined) Call() string { return e.CallID }
func (e ParticipantLeft) Call() string   { return e.CallID }
