package media

import (
	"fmt"
	"sync"

	"ringline/internal/domain/call"
	ringline_errors "ringline/pkg/errors"
	"ringline/pkg/logger"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"go.uber.org/zap"
)

// roomHooks are the SDK callbacks reduced to identities.
type roomHooks struct {
	participantJoined func(identity string)
	participantLeft   func(identity string)
	disconnected      func()
	reconnecting      func()
	reconnected       func()
	trackMuted        func(identity, track string, muted bool)
	speaking          func(identity string, speaking bool)
}

type room interface {
	Disconnect()
	RemoteIdentities() []string
	SetMedia(audio, video bool)
}

type connector func(url, token string, hooks roomHooks) (room, error)

// Bridge is a Transport backed by a LiveKit room. One Bridge serves one
// session and holds at most one room at a time.
type Bridge struct {
	log     *logger.Logger
	connect connector

	mu    sync.Mutex
	gen   uint64
	room  room
	audio bool
	video bool
}

func NewBridge(log *logger.Logger) *Bridge {
	return &Bridge{
		log:     log,
		connect: liveKitConnector,
		audio:   true,
	}
}

func (b *Bridge) Connect(cred call.Credential, sink func(Event)) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	emit := func(e Event) {
		if b.current(gen) {
			sink(e)
		}
	}

	hooks := roomHooks{
		participantJoined: func(identity string) {
			emit(Event{Kind: EventParticipantJoined, Identity: identity})
		},
		participantLeft: func(identity string) {
			emit(Event{Kind: EventParticipantLeft, Identity: identity})
		},
		disconnected: func() {
			emit(Event{Kind: EventDisconnected})
		},
		reconnecting: func() {
			emit(Event{Kind: EventReconnecting})
		},
		reconnected: func() {
			emit(Event{Kind: EventReconnected, Roster: b.roster(gen)})
		},
		trackMuted: func(identity, track string, muted bool) {
			emit(Event{Kind: EventTrackMuted, Identity: identity, Track: track, Muted: muted})
		},
		speaking: func(identity string, speaking bool) {
			emit(Event{Kind: EventSpeaking, Identity: identity, Speaking: speaking})
		},
	}

	go func() {
		r, err := b.connect(cred.URL, cred.Token, hooks)

		b.mu.Lock()
		if gen != b.gen {
			b.mu.Unlock()
			// superseded while dialing
			if err == nil {
				r.Disconnect()
			}
			return
		}
		if err != nil {
			b.mu.Unlock()
			b.log.Logger.Warn("transport connect failed", zap.String("room", cred.Room), zap.Error(err))
			emit(Event{Kind: EventFailed, Err: fmt.Errorf("%w: %v", ringline_errors.ErrTransportFailure, err)})
			return
		}
		b.room = r
		audio, video := b.audio, b.video
		b.mu.Unlock()

		r.SetMedia(audio, video)
		emit(Event{Kind: EventConnected, Roster: r.RemoteIdentities()})
	}()
}

func (b *Bridge) Disconnect() {
	b.mu.Lock()
	b.gen++
	r := b.room
	b.room = nil
	b.mu.Unlock()

	if r != nil {
		r.Disconnect()
	}
}

// SetMedia records the local intents and applies them to the open room, if any.
func (b *Bridge) SetMedia(audio, video bool) {
	b.mu.Lock()
	b.audio, b.video = audio, video
	r := b.room
	b.mu.Unlock()

	if r != nil {
		r.SetMedia(audio, video)
	}
}

func (b *Bridge) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen
}

func (b *Bridge) roster(gen uint64) []string {
	b.mu.Lock()
	r := b.room
	live := b.gen == gen
	b.mu.Unlock()
	if !live || r == nil {
		return nil
	}
	return r.RemoteIdentities()
}

func liveKitConnector(url, token string, hooks roomHooks) (room, error) {
	cb := lksdk.NewRoomCallback()
	cb.OnParticipantConnected = func(rp *lksdk.RemoteParticipant) {
		hooks.participantJoined(rp.Identity())
	}
	cb.OnParticipantDisconnected = func(rp *lksdk.RemoteParticipant) {
		hooks.participantLeft(rp.Identity())
	}
	cb.OnDisconnected = hooks.disconnected
	cb.OnReconnecting = hooks.reconnecting
	cb.OnReconnected = hooks.reconnected
	cb.ParticipantCallback.OnTrackMuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		hooks.trackMuted(p.Identity(), string(pub.Kind()), true)
	}
	cb.ParticipantCallback.OnTrackUnmuted = func(pub lksdk.TrackPublication, p lksdk.Participant) {
		hooks.trackMuted(p.Identity(), string(pub.Kind()), false)
	}
	cb.ParticipantCallback.OnIsSpeakingChanged = func(p lksdk.Participant) {
		hooks.speaking(p.Identity(), p.IsSpeaking())
	}

	r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, err
	}
	return &liveKitRoom{room: r}, nil
}

type liveKitRoom struct {
	room *lksdk.Room
}

func (r *liveKitRoom) Disconnect() {
	r.room.Disconnect()
}

func (r *liveKitRoom) RemoteIdentities() []string {
	remotes := r.room.GetRemoteParticipants()
	ids := make([]string, 0, len(remotes))
	for _, rp := range remotes {
		ids = append(ids, rp.Identity())
	}
	return ids
}

// SetMedia mutes or unmutes already-published local tracks.
func (r *liveKitRoom) SetMedia(audio, video bool) {
	for _, pub := range r.room.LocalParticipant.TrackPublications() {
		local, ok := pub.(*lksdk.LocalTrackPublication)
		if !ok {
			continue
		}
		switch pub.Kind() {
		case lksdk.TrackKindAudio:
			local.SetMuted(!audio)
		case lksdk.TrackKindVideo:
			local.SetMuted(!video)
		}
	}
}
