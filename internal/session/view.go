package session

import (
	"ringline/internal/domain/call"
	"ringline/internal/events"
)

// Status is the local call state of one session.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusRingingOutgoing Status = "ringing-outgoing"
	StatusRingingIncoming Status = "ringing-incoming"
	StatusConnecting      Status = "connecting"
	StatusConnected       Status = "connected"
)

// inCall reports whether media controls apply.
func (s Status) inCall() bool {
	return s == StatusConnecting || s == StatusConnected
}

// Surface is how the call UI is presented.
type Surface string

const (
	SurfaceFullscreen Surface = "fullscreen"
	SurfaceFloating   Surface = "floating"
	SurfaceMinimized  Surface = "minimized"
)

func (s Surface) valid() bool {
	return s == SurfaceFullscreen || s == SurfaceFloating || s == SurfaceMinimized
}

// View is an immutable snapshot of the session published to the UI.
type View struct {
	Status   Status
	CallID   string
	Kind     call.Kind
	IsGroup  bool
	Outgoing bool
	// Incoming is the ring being presented while ringing-incoming.
	Incoming *events.IncomingCall
	Invitees []string

	Remotes      []string
	Speaking     []string
	Muted        map[string][]string
	Reconnecting bool

	Audio   bool
	Video   bool
	Surface Surface
}

// NoticeKind classifies user-visible failures.
type NoticeKind string

const (
	NoticeStartFailed     NoticeKind = "start-failed"
	NoticeAcceptFailed    NoticeKind = "accept-failed"
	NoticeActionFailed    NoticeKind = "action-failed"
	NoticeConnectTimeout  NoticeKind = "connect-timeout"
	NoticeTransportFailed NoticeKind = "transport-failed"
	NoticeBusy            NoticeKind = "busy"
)

// Notice is a failure the user should see. Declined and missed calls are
// expected outcomes and produce no notice.
type Notice struct {
	Kind    NoticeKind
	CallID  string
	Message string
	Err     error
}
