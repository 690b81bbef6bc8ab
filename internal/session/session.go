// Package session is the client-side call state machine. One Session
// exists per signed-in user session; it owns the ring and connect timers,
// the media transport and the local view of the current call.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ringline/internal/domain/call"
	"ringline/internal/events"
	"ringline/internal/media"
	"ringline/internal/metrics"
	ringline_errors "ringline/pkg/errors"
	"ringline/pkg/logger"

	"go.uber.org/zap"
)

const (
	defaultQueueSize  = 64
	defaultRPCTimeout = 10 * time.Second
	noticeBuffer      = 16
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("session closed")

type Config struct {
	UserID     string
	Policy     Policy
	QueueSize  int
	RPCTimeout time.Duration
}

// Session serializes user actions, signaling events, transport callbacks
// and timer firings onto one loop goroutine. Public methods only enqueue.
type Session struct {
	userID     string
	policy     Policy
	rpcTimeout time.Duration
	registry   Registry
	transport  media.Transport
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time

	inbox     chan input
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
	runCtx    context.Context
	rpcs      sync.WaitGroup

	// owned by the loop goroutine
	st     callState
	timers timers
	recent *recentCalls

	mu      sync.RWMutex
	view    View
	subs    map[int]chan View
	nextSub int
	notices chan Notice
}

type callState struct {
	status   Status
	attempt  uint64
	callID   string
	kind     call.Kind
	isGroup  bool
	outgoing bool
	invitees []string
	chat     string
	incoming *events.IncomingCall
	cred     call.Credential

	transportOpen bool
	transportUp   bool
	reconnecting  bool
	remotes       map[string]bool
	speaking      map[string]bool
	muted         map[string]map[string]bool

	audio   bool
	video   bool
	surface Surface

	// signals that arrived while our own call id was still unknown
	early []signalInput
}

func New(cfg Config, registry Registry, transport media.Transport, log *logger.Logger) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = defaultRPCTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Session{
		userID:     cfg.UserID,
		policy:     cfg.Policy.withDefaults(),
		rpcTimeout: cfg.RPCTimeout,
		registry:   registry,
		transport:  transport,
		log:        log.Named("session"),
		now:        time.Now,
		inbox:      make(chan input, cfg.QueueSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		runCtx:     context.Background(),
		recent:     newRecentCalls(recentCallsKept),
		subs:       make(map[int]chan View),
		notices:    make(chan Notice, noticeBuffer),
	}
	s.resetState()
	s.view = s.snapshot()
	return s
}

func (s *Session) WithMetrics(m *metrics.Metrics) *Session {
	s.metrics = m
	return s
}

// Run processes inputs until ctx is done or Close is called. Leaving Run
// tears down any open transport and closes the session.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer func() {
		s.shutdown()
		s.Close()
		s.stopOnce.Do(func() { close(s.stopped) })
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case in := <-s.inbox:
			s.handle(in)
		}
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Shutdown hangs up the current call, waits until the registry has been
// told, then closes the session. ctx bounds the whole wait.
func (s *Session) Shutdown(ctx context.Context) error {
	flushed := make(chan struct{})
	s.post(hangup{})
	s.post(flush{done: flushed})
	select {
	case <-flushed:
	case <-s.done:
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
	s.Close()

	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	drained := make(chan struct{})
	go func() {
		s.rpcs.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) shutdown() {
	s.timers.cancelAll()
	if s.st.transportOpen {
		s.transport.Disconnect()
		s.st.transportOpen = false
	}
}

// View returns the latest published snapshot.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Subscribe streams views. A slow reader only ever misses intermediate
// views, never the latest one.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.view
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// User actions.

func (s *Session) StartCall(participantIDs []string, kind call.Kind, chatChannel string) {
	s.post(startCall{participants: participantIDs, kind: kind, chat: chatChannel})
}

func (s *Session) Accept()  { s.post(accept{}) }
func (s *Session) Decline() { s.post(decline{}) }
func (s *Session) Hangup()  { s.post(hangup{}) }

func (s *Session) SetSurface(surface Surface) { s.post(setSurface{surface: surface}) }

// SetMedia changes the local audio/video intents. Ignored outside a call.
func (s *Session) SetMedia(audio, video bool) { s.post(setMedia{audio: audio, video: video}) }

// Deliver hands an inbound signaling event to the session. sentAt is the
// envelope timestamp.
func (s *Session) Deliver(e events.Event, sentAt time.Time) {
	s.post(signalInput{event: e, sentAt: sentAt, receivedAt: s.now()})
}

// post enqueues in for the loop. It reports false once the session is
// closed.
func (s *Session) post(in input) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- in:
		return true
	case <-s.done:
		return false
	}
}

// Loop.

func (s *Session) handle(in input) {
	switch in := in.(type) {
	case startCall:
		s.onStartCall(in)
	case accept:
		s.onAccept()
	case decline:
		s.onDecline()
	case hangup:
		s.onHangup()
	case setSurface:
		s.onSetSurface(in.surface)
	case setMedia:
		s.onSetMedia(in.audio, in.video)
	case signalInput:
		s.onSignal(in)
	case transportInput:
		if in.attempt == s.st.attempt {
			s.onTransport(in.event)
		}
	case timerFired:
		if s.timers.current(in.gen) {
			s.onTimer(in.kind)
		}
	case createResult:
		s.onCreateResult(in)
	case acceptResult:
		s.onAcceptResult(in)
	case rpcDone:
		s.onRPCDone(in)
	case flush:
		close(in.done)
	}
}

// transition is the only place status changes. It cancels every armed
// timer, then arms what the new status needs.
func (s *Session) transition(to Status) {
	from := s.st.status
	s.timers.cancelAll()

	if to == StatusIdle {
		s.teardown()
	} else {
		s.st.status = to
	}

	switch to {
	case StatusRingingOutgoing, StatusRingingIncoming:
		s.timers.arm(timerRing, s.policy.RingTimeout, s.fire)
	case StatusConnecting:
		s.timers.arm(timerConnect, s.policy.ConnectTimeout, s.fire)
	case StatusConnected:
		s.st.surface = SurfaceFullscreen
	}

	if from != to {
		if s.metrics != nil {
			s.metrics.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
		}
		s.log.Logger.Debug("call session transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("call_id", s.st.callID),
		)
	}
	s.publish()
}

// teardown releases everything the finished call held. The transport is
// disconnected at most once per connect.
func (s *Session) teardown() {
	if s.st.transportOpen {
		s.transport.Disconnect()
	}
	s.recent.add(s.st.callID)
	attempt := s.st.attempt
	s.resetState()
	s.st.attempt = attempt
}

func (s *Session) resetState() {
	s.st = callState{
		status:   StatusIdle,
		remotes:  map[string]bool{},
		speaking: map[string]bool{},
		muted:    map[string]map[string]bool{},
		surface:  SurfaceFullscreen,
	}
}

func (s *Session) fire(kind timerKind, gen uint64) {
	s.post(timerFired{kind: kind, gen: gen})
}

// begin starts a new call attempt. Results and transport events tagged
// with an older attempt are ignored.
func (s *Session) begin() uint64 {
	s.st.attempt++
	return s.st.attempt
}

func (s *Session) onStartCall(in startCall) {
	if s.st.status != StatusIdle {
		s.notify(Notice{Kind: NoticeBusy, CallID: s.st.callID, Message: "already in a call", Err: ringline_errors.ErrInvalidState})
		return
	}
	invitees := s.distinct(in.participants)
	kind := in.kind
	if kind == "" {
		kind = call.KindVoice
	}
	if len(invitees) == 0 || !kind.Valid() {
		s.notify(Notice{Kind: NoticeStartFailed, Message: "failed to start call", Err: ringline_errors.ErrInvalidInput})
		return
	}

	attempt := s.begin()
	s.st.outgoing = true
	s.st.kind = kind
	s.st.invitees = invitees
	s.st.isGroup = len(invitees) > 1
	s.st.chat = in.chat
	s.st.audio = true
	s.st.video = kind == call.KindVideo
	s.transition(StatusRingingOutgoing)

	req := CreateRequest{ParticipantIDs: invitees, Kind: kind, ChatChannel: in.chat}
	s.rpcs.Add(1)
	go func() {
		defer s.rpcs.Done()
		ctx, cancel := s.rpcContext()
		defer cancel()
		callID, cred, err := s.registry.CreateCall(ctx, req)
		if !s.post(createResult{attempt: attempt, callID: callID, cred: cred, err: err}) && err == nil {
			// closed while creating: nobody is left to ring
			if err := s.registry.EndCall(ctx, callID); err != nil {
				s.log.Logger.Warn("failed to end orphaned call", zap.String("call_id", callID), zap.Error(err))
			}
		}
	}()
}

func (s *Session) onCreateResult(r createResult) {
	if r.attempt != s.st.attempt || s.st.status != StatusRingingOutgoing {
		// the ring was abandoned while the call was being created
		if r.err == nil {
			s.call("end", r.callID, s.registry.EndCall, false)
		}
		return
	}
	if r.err != nil {
		s.log.Logger.Warn("create call failed", zap.Error(r.err))
		s.transition(StatusIdle)
		s.notify(Notice{Kind: NoticeStartFailed, Message: "failed to start call", Err: r.err})
		return
	}

	s.st.callID = r.callID
	s.st.cred = r.cred
	s.publish()

	early := s.st.early
	s.st.early = nil
	for _, sig := range early {
		s.onSignal(sig)
	}
}

func (s *Session) onAccept() {
	if s.st.status != StatusRingingIncoming {
		return
	}
	callID := s.st.callID
	attempt := s.st.attempt
	s.st.audio = true
	s.st.video = s.st.kind == call.KindVideo
	s.transition(StatusConnecting)

	s.rpcs.Add(1)
	go func() {
		defer s.rpcs.Done()
		ctx, cancel := s.rpcContext()
		defer cancel()
		cred, err := s.registry.AcceptCall(ctx, callID)
		s.post(acceptResult{attempt: attempt, callID: callID, cred: cred, err: err})
	}()
}

func (s *Session) onAcceptResult(r acceptResult) {
	if r.attempt != s.st.attempt || s.st.status != StatusConnecting || r.callID != s.st.callID {
		return
	}
	if r.err != nil {
		s.log.Logger.Warn("accept call failed", zap.String("call_id", r.callID), zap.Error(r.err))
		s.transition(StatusIdle)
		s.notify(Notice{Kind: NoticeAcceptFailed, CallID: r.callID, Message: "failed to join call", Err: r.err})
		return
	}
	s.st.cred = r.cred
	s.connectTransport()
}

func (s *Session) onDecline() {
	if s.st.status != StatusRingingIncoming {
		return
	}
	callID := s.st.callID
	s.transition(StatusIdle)
	s.call("decline", callID, s.registry.DeclineCall, true)
}

func (s *Session) onHangup() {
	callID := s.st.callID
	switch s.st.status {
	case StatusIdle:
		return
	case StatusRingingIncoming:
		s.onDecline()
	case StatusRingingOutgoing:
		s.transition(StatusIdle)
		// an unknown id is cleaned up when the create result arrives
		if callID != "" {
			s.call("end", callID, s.registry.EndCall, true)
		}
	case StatusConnecting, StatusConnected:
		s.leave(true)
	}
}

// leave ends the local side of an established or establishing call. Group
// calls carry on without us; one-to-one calls end for both sides.
func (s *Session) leave(userAction bool) {
	callID := s.st.callID
	group := s.st.isGroup
	s.transition(StatusIdle)
	if group {
		s.call("leave", callID, s.registry.LeaveCall, userAction)
	} else {
		s.call("end", callID, s.registry.EndCall, userAction)
	}
}

func (s *Session) onSetSurface(surface Surface) {
	if !surface.valid() || !s.st.status.inCall() || s.st.surface == surface {
		return
	}
	s.st.surface = surface
	s.publish()
}

func (s *Session) onSetMedia(audio, video bool) {
	if !s.st.status.inCall() {
		return
	}
	if s.st.audio == audio && s.st.video == video {
		return
	}
	s.st.audio, s.st.video = audio, video
	if s.st.transportOpen {
		s.transport.SetMedia(audio, video)
	}
	s.publish()
}

func (s *Session) onTimer(kind timerKind) {
	callID := s.st.callID
	switch {
	case kind == timerRing && s.st.status == StatusRingingOutgoing:
		s.transition(StatusIdle)
		if callID != "" {
			s.call("end", callID, s.registry.EndCall, false)
		}
	case kind == timerRing && s.st.status == StatusRingingIncoming:
		s.transition(StatusIdle)
		s.call("missed", callID, s.registry.MarkMissed, false)
	case kind == timerConnect && s.st.status == StatusConnecting:
		s.transition(StatusIdle)
		s.call("end", callID, s.registry.EndCall, false)
		s.notify(Notice{Kind: NoticeConnectTimeout, CallID: callID, Message: "call could not be connected", Err: ringline_errors.ErrTimeout})
	}
}

func (s *Session) onSignal(sig signalInput) {
	switch e := sig.event.(type) {
	case events.IncomingCall:
		s.onIncoming(e, sig)
	case events.CallAccepted:
		if s.st.status != StatusRingingOutgoing || s.dropStale(sig) || s.bufferEarly(sig) {
			return
		}
		if e.CallID != s.st.callID {
			return
		}
		s.transition(StatusConnecting)
		s.connectTransport()
	case events.CallDeclined:
		if s.st.status != StatusRingingOutgoing || s.dropStale(sig) || s.bufferEarly(sig) {
			return
		}
		if e.CallID == s.st.callID {
			s.transition(StatusIdle)
		}
	case events.CallEnded:
		// absorbing from every state, never subject to staleness
		if s.st.status == StatusIdle || s.bufferEarly(sig) {
			return
		}
		if e.CallID == s.st.callID {
			s.transition(StatusIdle)
		}
	case events.ParticipantJoined, events.ParticipantLeft:
		// the transport roster is authoritative for presence
	}
}

func (s *Session) onIncoming(e events.IncomingCall, sig signalInput) {
	if s.st.status != StatusIdle {
		s.log.Logger.Debug("ring ignored while busy", zap.String("call_id", e.CallID))
		return
	}
	if e.Initiator.ID == s.userID || s.recent.has(e.CallID) {
		return
	}
	sentAt := e.SentAt
	if sentAt.IsZero() {
		sentAt = sig.sentAt
	}
	if s.policy.Stale(sentAt, sig.receivedAt) {
		s.staleDropped(e)
		return
	}

	ring := e
	ring.Participants = append(ring.Participants[:0:0], e.Participants...)
	s.begin()
	s.st.callID = e.CallID
	s.st.kind = e.Type
	s.st.isGroup = e.IsGroup
	s.st.chat = e.ChatChannel
	s.st.incoming = &ring
	s.transition(StatusRingingIncoming)
}

// bufferEarly buffers a ring-phase signal that arrived before createCall returned
// our call id. It reports whether the signal was buffered.
func (s *Session) bufferEarly(sig signalInput) bool {
	if s.st.status != StatusRingingOutgoing || s.st.callID != "" {
		return false
	}
	s.st.early = append(s.st.early, sig)
	return true
}

func (s *Session) dropStale(sig signalInput) bool {
	if !s.policy.Stale(sig.sentAt, sig.receivedAt) {
		return false
	}
	s.staleDropped(sig.event)
	return true
}

func (s *Session) staleDropped(e events.Event) {
	if s.metrics != nil {
		s.metrics.StaleEventsDropped.Inc()
	}
	s.log.Logger.Debug("stale signaling event dropped",
		zap.String("type", string(e.EventType())),
		zap.String("call_id", e.Call()),
	)
}

func (s *Session) connectTransport() {
	if s.st.transportOpen {
		return
	}
	attempt := s.st.attempt
	s.st.transportOpen = true
	s.transport.SetMedia(s.st.audio, s.st.video)
	s.transport.Connect(s.st.cred, func(e media.Event) {
		s.post(transportInput{attempt: attempt, event: e})
	})
}

func (s *Session) onTransport(e media.Event) {
	if !s.st.status.inCall() || !s.st.transportOpen {
		return
	}
	switch e.Kind {
	case media.EventConnected:
		s.st.transportUp = true
		s.setRoster(e.Roster)
		s.maybeConnected()
	case media.EventParticipantJoined:
		if e.Identity == "" || e.Identity == s.userID {
			return
		}
		s.st.remotes[e.Identity] = true
		s.maybeConnected()
	case media.EventParticipantLeft:
		delete(s.st.remotes, e.Identity)
		delete(s.st.speaking, e.Identity)
		delete(s.st.muted, e.Identity)
		s.checkAlone()
	case media.EventReconnecting:
		s.st.reconnecting = true
		s.publish()
	case media.EventReconnected:
		s.st.reconnecting = false
		s.setRoster(e.Roster)
		if s.st.status == StatusConnected {
			s.checkAlone()
		} else {
			s.maybeConnected()
		}
	case media.EventFailed, media.EventDisconnected:
		callID := s.st.callID
		err := e.Err
		if err == nil {
			err = ringline_errors.ErrTransportFailure
		}
		s.leave(false)
		s.notify(Notice{Kind: NoticeTransportFailed, CallID: callID, Message: "call connection lost", Err: err})
	case media.EventTrackMuted:
		tracks := s.st.muted[e.Identity]
		if tracks == nil {
			tracks = map[string]bool{}
			s.st.muted[e.Identity] = tracks
		}
		if e.Muted {
			tracks[e.Track] = true
		} else {
			delete(tracks, e.Track)
		}
		s.publish()
	case media.EventSpeaking:
		if e.Speaking {
			s.st.speaking[e.Identity] = true
		} else {
			delete(s.st.speaking, e.Identity)
		}
		s.publish()
	}
}

func (s *Session) setRoster(roster []string) {
	s.st.remotes = map[string]bool{}
	for _, id := range roster {
		if id != "" && id != s.userID {
			s.st.remotes[id] = true
		}
	}
}

// maybeConnected promotes connecting to connected only once the transport
// is up and someone else is actually in the room.
func (s *Session) maybeConnected() {
	if s.st.status == StatusConnecting && s.st.transportUp && len(s.st.remotes) > 0 {
		callID := s.st.callID
		s.transition(StatusConnected)
		s.call("join", callID, s.registry.JoinCall, false)
		return
	}
	s.publish()
}

// checkAlone ends a connected call once every remote participant is gone.
// A reconnecting transport has a stale roster, so it is judged again on
// reconnected.
func (s *Session) checkAlone() {
	if s.st.status == StatusConnected && !s.st.reconnecting && len(s.st.remotes) == 0 {
		callID := s.st.callID
		s.leave(false)
		s.notify(Notice{Kind: NoticeTransportFailed, CallID: callID, Message: "call connection lost", Err: ringline_errors.ErrTransportFailure})
		return
	}
	s.publish()
}

// call runs a registry mutation off the loop. Failures of user actions
// become notices; background failures are only logged.
func (s *Session) call(op, callID string, fn func(ctx context.Context, callID string) error, userAction bool) {
	if callID == "" {
		return
	}
	s.rpcs.Add(1)
	go func() {
		defer s.rpcs.Done()
		ctx, cancel := s.rpcContext()
		defer cancel()
		err := fn(ctx, callID)
		if !s.post(rpcDone{op: op, callID: callID, err: err, userAction: userAction}) && err != nil {
			s.log.Logger.Warn("registry call failed after close", zap.String("op", op), zap.String("call_id", callID), zap.Error(err))
		}
	}()
}

func (s *Session) onRPCDone(r rpcDone) {
	if r.err == nil {
		return
	}
	s.log.Logger.Warn("registry call failed",
		zap.String("op", r.op),
		zap.String("call_id", r.callID),
		zap.Error(r.err),
	)
	if r.userAction {
		s.notify(Notice{Kind: NoticeActionFailed, CallID: r.callID, Message: "failed to " + r.op + " call", Err: r.err})
	}
}

// rpcContext outlives Run so a final hangup still reaches the registry.
func (s *Session) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.runCtx), s.rpcTimeout)
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Logger.Warn("notice dropped", zap.String("kind", string(n.Kind)))
	}
}

func (s *Session) distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == s.userID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Session) snapshot() View {
	v := View{
		Status:       s.st.status,
		CallID:       s.st.callID,
		Kind:         s.st.kind,
		IsGroup:      s.st.isGroup,
		Outgoing:     s.st.outgoing,
		Invitees:     append([]string(nil), s.st.invitees...),
		Remotes:      sortedKeys(s.st.remotes),
		Speaking:     sortedKeys(s.st.speaking),
		Reconnecting: s.st.reconnecting,
		Audio:        s.st.audio,
		Video:        s.st.video,
		Surface:      s.st.surface,
	}
	if s.st.incoming != nil {
		ring := *s.st.incoming
		ring.Participants = append(ring.Participants[:0:0], s.st.incoming.Participants...)
		v.Incoming = &ring
	}
	if len(s.st.muted) > 0 {
		v.Muted = make(map[string][]string, len(s.st.muted))
		for id, tracks := range s.st.muted {
			if len(tracks) > 0 {
				v.Muted[id] = sortedKeys(tracks)
			}
		}
	}
	return v
}

// publish replaces the latest view and offers it to every subscriber.
func (s *Session) publish() {
	v := s.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
