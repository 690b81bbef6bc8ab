package media

import "ringline/internal/domain/call"

// EventKind enumerates what a transport reports back to its owner.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventFailed            EventKind = "failed"
	EventDisconnected      EventKind = "disconnected"
	EventReconnecting      EventKind = "reconnecting"
	EventReconnected       EventKind = "reconnected"
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
	EventTrackMuted        EventKind = "track-muted"
	EventSpeaking          EventKind = "speaking"
)

// Event is one connection-state or roster change. Roster is set on
// connected and reconnected and lists remote identities present at that moment.
type Event struct {
	Kind     EventKind
	Identity string
	Roster   []string
	Track    string
	Muted    bool
	Speaking bool
	Err      error
}

// Transport is the media connection owned by one client session.
//
// Connect returns immediately; the outcome arrives on sink as
// EventConnected or EventFailed. Events from a connection that has been
// disconnected or superseded are never delivered.
type Transport interface {
	Connect(cred call.Credential, sink func(Event))
	Disconnect()
	SetMedia(audio, video bool)
}
