package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ringline/internal/domain/call"
	"ringline/internal/domain/user"
	"ringline/internal/events"
	"ringline/internal/media"
	"ringline/internal/metrics"
	ringline_errors "ringline/pkg/errors"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	self = "u-self"
	peer = "u-peer"
)

type fakeRegistry struct {
	mu        sync.Mutex
	ops       []string
	createID  string
	createErr error
	acceptErr error
	// when set, CreateCall blocks until it is closed
	createGate chan struct{}
}

func (r *fakeRegistry) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *fakeRegistry) has(op string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.ops {
		if o == op {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) CreateCall(ctx context.Context, req CreateRequest) (string, call.Credential, error) {
	if r.createGate != nil {
		<-r.createGate
	}
	r.record("create")
	if r.createErr != nil {
		return "", call.Credential{}, r.createErr
	}
	return r.createID, call.Credential{Token: "t", Room: r.createID, Identity: self}, nil
}

func (r *fakeRegistry) AcceptCall(ctx context.Context, callID string) (call.Credential, error) {
	r.record("accept:" + callID)
	return call.Credential{Token: "t", Room: callID, Identity: self}, r.acceptErr
}

func (r *fakeRegistry) DeclineCall(ctx context.Context, callID string) error {
	r.record("decline:" + callID)
	return nil
}

func (r *fakeRegistry) EndCall(ctx context.Context, callID string) error {
	r.record("end:" + callID)
	return nil
}

func (r *fakeRegistry) MarkMissed(ctx context.Context, callID string) error {
	r.record("missed:" + callID)
	return nil
}

func (r *fakeRegistry) JoinCall(ctx context.Context, callID string) error {
	r.record("join:" + callID)
	return nil
}

func (r *fakeRegistry) LeaveCall(ctx context.Context, callID string) error {
	r.record("leave:" + callID)
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	audio       bool
	video       bool
	sink        func(media.Event)
}

func (t *fakeTransport) Connect(cred call.Credential, sink func(media.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.sink = sink
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *fakeTransport) SetMedia(audio, video bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.audio, t.video = audio, video
}

func (t *fakeTransport) emit(e media.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	sink(e)
}

func (t *fakeTransport) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.disconnects
}

type fixture struct {
	s         *Session
	registry  *fakeRegistry
	transport *fakeTransport
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		registry:  &fakeRegistry{createID: "c1"},
		transport: &fakeTransport{},
		metrics:   metrics.New(),
	}
	f.s = New(Config{UserID: self, Policy: policy}, f.registry, f.transport, nil).WithMetrics(f.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) waitStatus(t *testing.T, want Status) View {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.s.View().Status == want
	}, time.Second, 5*time.Millisecond, "status never became %s (is %s)", want, f.s.View().Status)
	return f.s.View()
}

func (f *fixture) waitOp(t *testing.T, op string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.registry.has(op) }, time.Second, 5*time.Millisecond, "registry never saw %s", op)
}

func (f *fixture) waitNotice(t *testing.T, kind NoticeKind) Notice {
	t.Helper()
	select {
	case n := <-f.s.Notices():
		require.Equal(t, kind, n.Kind)
		return n
	case <-time.After(time.Second):
		t.Fatalf("no %s notice", kind)
		return Notice{}
	}
}

func ring(callID string, sentAt time.Time) events.IncomingCall {
	return events.IncomingCall{
		CallID:       callID,
		Initiator:    user.Profile{ID: peer, Name: "Peer"},
		Type:         call.KindVideo,
		Participants: []user.Profile{{ID: self}},
		SentAt:       sentAt,
	}
}

// connectOutgoing drives an outgoing one-to-one call to connected.
func (f *fixture) connectOutgoing(t *testing.T) {
	t.Helper()
	f.s.StartCall([]string{peer}, call.KindVoice, "")
	f.waitStatus(t, StatusRingingOutgoing)
	require.Eventually(t, func() bool { return f.s.View().CallID == "c1" }, time.Second, 5*time.Millisecond)

	f.s.Deliver(events.CallAccepted{CallID: "c1", AcceptedBy: peer}, time.Now())
	f.waitStatus(t, StatusConnecting)
	require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)

	f.transport.emit(media.Event{Kind: media.EventConnected, Roster: []string{peer}})
	f.waitStatus(t, StatusConnected)
}

func TestSession_OutgoingAcceptedThenHangup(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.connectOutgoing(t)

	v := f.s.View()
	assert.Equal(t, []string{peer}, v.Remotes)
	assert.True(t, v.Outgoing)
	assert.False(t, v.IsGroup)
	f.waitOp(t, "join:c1")

	f.s.Hangup()
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "end:c1")

	_, disconnects := f.transport.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.SessionTransitions.WithLabelValues("connected", "idle")))
}

func TestSession_IncomingAcceptedThenRemoteEnds(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	f.s.Deliver(ring("c7", time.Now()), time.Now())
	v := f.waitStatus(t, StatusRingingIncoming)
	require.NotNil(t, v.Incoming)
	assert.Equal(t, peer, v.Incoming.Initiator.ID)
	assert.Equal(t, call.KindVideo, v.Kind)

	f.s.Accept()
	v = f.waitStatus(t, StatusConnecting)
	assert.True(t, v.Audio)
	assert.True(t, v.Video)
	f.waitOp(t, "accept:c7")
	require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)

	// up but alone is not connected yet
	f.transport.emit(media.Event{Kind: media.EventConnected})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusConnecting, f.s.View().Status)

	f.transport.emit(media.Event{Kind: media.EventParticipantJoined, Identity: peer})
	f.waitStatus(t, StatusConnected)

	f.s.Deliver(events.CallEnded{CallID: "c7", Status: call.StatusEnded}, time.Now())
	f.waitStatus(t, StatusIdle)

	_, disconnects := f.transport.counts()
	assert.Equal(t, 1, disconnects)
	assert.False(t, f.registry.has("end:c7"))

	// a redelivered ring for a finished call is not presented again
	f.s.Deliver(ring("c7", time.Now()), time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusIdle, f.s.View().Status)
}

func TestSession_OutgoingRingTimeoutEndsCall(t *testing.T) {
	f := newFixture(t, Policy{RingTimeout: 60 * time.Millisecond})

	f.s.StartCall([]string{peer}, call.KindVoice, "")
	f.waitStatus(t, StatusRingingOutgoing)
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "end:c1")

	select {
	case n := <-f.s.Notices():
		t.Fatalf("unexpected notice %s", n.Kind)
	default:
	}
}

func TestSession_IncomingRingTimeoutMarksMissed(t *testing.T) {
	f := newFixture(t, Policy{RingTimeout: 60 * time.Millisecond})

	f.s.Deliver(ring("c2", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "missed:c2")
}

func TestSession_StaleRingDropped(t *testing.T) {
	f := newFixture(t, Policy{RingTimeout: time.Second})

	old := time.Now().Add(-5 * time.Second)
	f.s.Deliver(ring("c3", old), old)
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(f.metrics.StaleEventsDropped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusIdle, f.s.View().Status)

	// a ring from ourselves is never presented
	own := ring("c4", time.Now())
	own.Initiator.ID = self
	f.s.Deliver(own, time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusIdle, f.s.View().Status)
}

func TestSession_StaleAcceptIgnored(t *testing.T) {
	f := newFixture(t, Policy{RingTimeout: time.Second})
	f.s.StartCall([]string{peer}, call.KindVoice, "")
	require.Eventually(t, func() bool { return f.s.View().CallID == "c1" }, time.Second, 5*time.Millisecond)

	f.s.Deliver(events.CallAccepted{CallID: "c1"}, time.Now().Add(-2*time.Second))
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(f.metrics.StaleEventsDropped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusRingingOutgoing, f.s.View().Status)
}

func TestSession_CreateFailureRollsBack(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.registry.createErr = ringline_errors.ErrInvalidState

	f.s.StartCall([]string{peer}, call.KindVideo, "")
	n := f.waitNotice(t, NoticeStartFailed)
	assert.ErrorIs(t, n.Err, ringline_errors.ErrInvalidState)
	f.waitStatus(t, StatusIdle)

	c, _ := f.transport.counts()
	assert.Zero(t, c)
}

func TestSession_StartRejectsEmptyInvitees(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	f.s.StartCall([]string{self, ""}, call.KindVoice, "")
	n := f.waitNotice(t, NoticeStartFailed)
	assert.ErrorIs(t, n.Err, ringline_errors.ErrInvalidInput)
	assert.False(t, f.registry.has("create"))
}

func TestSession_AcceptFailureRollsBack(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.registry.acceptErr = ringline_errors.ErrInvalidState

	f.s.Deliver(ring("c5", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)
	f.s.Accept()
	f.waitNotice(t, NoticeAcceptFailed)
	f.waitStatus(t, StatusIdle)

	c, _ := f.transport.counts()
	assert.Zero(t, c)
}

func TestSession_ConnectTimeout(t *testing.T) {
	f := newFixture(t, Policy{ConnectTimeout: 80 * time.Millisecond})

	f.s.Deliver(ring("c6", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)
	f.s.Accept()
	f.waitStatus(t, StatusConnecting)

	n := f.waitNotice(t, NoticeConnectTimeout)
	assert.ErrorIs(t, n.Err, ringline_errors.ErrTimeout)
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "end:c6")

	require.Eventually(t, func() bool { _, d := f.transport.counts(); return d == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_CancelledTimerNeverFiresIntoNextCall(t *testing.T) {
	f := newFixture(t, Policy{RingTimeout: 300 * time.Millisecond})

	f.s.Deliver(ring("c10", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)
	f.s.Decline()
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "decline:c10")

	time.Sleep(200 * time.Millisecond)
	f.s.Deliver(ring("c11", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)

	// past the first ring's deadline, before the second's
	time.Sleep(150 * time.Millisecond)
	v := f.s.View()
	assert.Equal(t, StatusRingingIncoming, v.Status)
	assert.Equal(t, "c11", v.CallID)
	assert.False(t, f.registry.has("missed:c10"))
	assert.False(t, f.registry.has("missed:c11"))

	f.waitOp(t, "missed:c11")
}

func TestSession_EarlyAcceptBufferedUntilCreateReturns(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	gate := make(chan struct{})
	f.registry.createGate = gate

	f.s.StartCall([]string{peer}, call.KindVoice, "")
	f.waitStatus(t, StatusRingingOutgoing)

	f.s.Deliver(events.CallAccepted{CallID: "c1", AcceptedBy: peer}, time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusRingingOutgoing, f.s.View().Status)

	close(gate)
	f.waitStatus(t, StatusConnecting)
	require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_HangupBeforeCreateReturnsCleansUp(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	gate := make(chan struct{})
	f.registry.createGate = gate

	f.s.StartCall([]string{peer}, call.KindVoice, "")
	f.waitStatus(t, StatusRingingOutgoing)
	f.s.Hangup()
	f.waitStatus(t, StatusIdle)

	close(gate)
	f.waitOp(t, "end:c1")
	assert.Equal(t, StatusIdle, f.s.View().Status)
}

func TestSession_DeclinedOutgoingGoesIdleQuietly(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.s.StartCall([]string{peer}, call.KindVoice, "")
	require.Eventually(t, func() bool { return f.s.View().CallID == "c1" }, time.Second, 5*time.Millisecond)

	// another call's decline is ignored
	f.s.Deliver(events.CallDeclined{CallID: "other"}, time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusRingingOutgoing, f.s.View().Status)

	f.s.Deliver(events.CallDeclined{CallID: "c1", DeclinedBy: peer}, time.Now())
	f.waitStatus(t, StatusIdle)
	select {
	case n := <-f.s.Notices():
		t.Fatalf("unexpected notice %s", n.Kind)
	default:
	}
}

func TestSession_SurfaceAndMedia(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	f.s.SetSurface(SurfaceMinimized)
	f.s.SetMedia(false, true)
	time.Sleep(20 * time.Millisecond)
	v := f.s.View()
	assert.Equal(t, SurfaceFullscreen, v.Surface)
	assert.False(t, v.Video)

	f.connectOutgoing(t)
	v = f.s.View()
	assert.True(t, v.Audio)
	assert.False(t, v.Video)
	assert.Equal(t, SurfaceFullscreen, v.Surface)

	f.s.SetSurface(SurfaceFloating)
	f.s.SetMedia(false, true)
	require.Eventually(t, func() bool {
		v := f.s.View()
		return v.Surface == SurfaceFloating && !v.Audio && v.Video
	}, time.Second, 5*time.Millisecond)

	f.transport.mu.Lock()
	assert.False(t, f.transport.audio)
	assert.True(t, f.transport.video)
	f.transport.mu.Unlock()

	f.transport.emit(media.Event{Kind: media.EventTrackMuted, Identity: peer, Track: "audio", Muted: true})
	f.transport.emit(media.Event{Kind: media.EventSpeaking, Identity: peer, Speaking: true})
	require.Eventually(t, func() bool {
		v := f.s.View()
		return len(v.Muted[peer]) == 1 && len(v.Speaking) == 1
	}, time.Second, 5*time.Millisecond)

	f.s.Hangup()
	v = f.waitStatus(t, StatusIdle)
	assert.Equal(t, SurfaceFullscreen, v.Surface)
	assert.False(t, v.Audio)
	assert.Empty(t, v.Remotes)
}

func TestSession_BusyIgnoresRingAndRejectsStart(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.connectOutgoing(t)

	f.s.Deliver(ring("c9", time.Now()), time.Now())
	f.s.StartCall([]string{"u-3"}, call.KindVoice, "")
	f.waitNotice(t, NoticeBusy)

	v := f.s.View()
	assert.Equal(t, StatusConnected, v.Status)
	assert.Equal(t, "c1", v.CallID)
	assert.Nil(t, v.Incoming)
}

func TestSession_GroupLastRemoteLeavingDropsCall(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	f.s.StartCall([]string{peer, "u-3"}, call.KindVoice, "")
	require.Eventually(t, func() bool { return f.s.View().CallID == "c1" }, time.Second, 5*time.Millisecond)
	assert.True(t, f.s.View().IsGroup)

	f.s.Deliver(events.CallAccepted{CallID: "c1", AcceptedBy: peer}, time.Now())
	f.waitStatus(t, StatusConnecting)
	require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)
	f.transport.emit(media.Event{Kind: media.EventConnected, Roster: []string{peer}})
	f.waitStatus(t, StatusConnected)

	// a reconnecting transport reports an unreliable roster
	f.transport.emit(media.Event{Kind: media.EventReconnecting})
	f.transport.emit(media.Event{Kind: media.EventParticipantLeft, Identity: peer})
	time.Sleep(20 * time.Millisecond)
	v := f.s.View()
	assert.Equal(t, StatusConnected, v.Status)
	assert.True(t, v.Reconnecting)

	f.transport.emit(media.Event{Kind: media.EventReconnected})
	n := f.waitNotice(t, NoticeTransportFailed)
	assert.Equal(t, "c1", n.CallID)
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "leave:c1")
	assert.False(t, f.registry.has("end:c1"))
}

func TestSession_TransportFailureWhileConnecting(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	f.s.Deliver(ring("c8", time.Now()), time.Now())
	f.waitStatus(t, StatusRingingIncoming)
	f.s.Accept()
	require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)

	boom := errors.New("ice failed")
	f.transport.emit(media.Event{Kind: media.EventFailed, Err: boom})
	n := f.waitNotice(t, NoticeTransportFailed)
	assert.ErrorIs(t, n.Err, boom)
	f.waitStatus(t, StatusIdle)
}

func TestSession_CallEndedConvergesFromEveryState(t *testing.T) {
	cases := []struct {
		name        string
		callID      string
		drive       func(t *testing.T, f *fixture)
		disconnects int
	}{
		{
			name:   "ringing incoming",
			callID: "c20",
			drive: func(t *testing.T, f *fixture) {
				f.s.Deliver(ring("c20", time.Now()), time.Now())
				f.waitStatus(t, StatusRingingIncoming)
			},
		},
		{
			name:   "ringing outgoing",
			callID: "c1",
			drive: func(t *testing.T, f *fixture) {
				f.s.StartCall([]string{peer}, call.KindVoice, "")
				require.Eventually(t, func() bool { return f.s.View().CallID == "c1" }, time.Second, 5*time.Millisecond)
			},
		},
		{
			name:   "connecting",
			callID: "c21",
			drive: func(t *testing.T, f *fixture) {
				f.s.Deliver(ring("c21", time.Now()), time.Now())
				f.waitStatus(t, StatusRingingIncoming)
				f.s.Accept()
				f.waitStatus(t, StatusConnecting)
				require.Eventually(t, func() bool { c, _ := f.transport.counts(); return c == 1 }, time.Second, 5*time.Millisecond)
			},
			disconnects: 1,
		},
		{
			name:        "connected",
			callID:      "c1",
			drive:       func(t *testing.T, f *fixture) { f.connectOutgoing(t) },
			disconnects: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, DefaultPolicy())
			tc.drive(t, f)

			ended := events.CallEnded{CallID: tc.callID, Status: call.StatusEnded}
			f.s.Deliver(ended, time.Now())
			f.s.Deliver(ended, time.Now())
			f.waitStatus(t, StatusIdle)
			time.Sleep(20 * time.Millisecond)

			_, disconnects := f.transport.counts()
			assert.Equal(t, tc.disconnects, disconnects)
			assert.Equal(t, StatusIdle, f.s.View().Status)
			for _, op := range []string{"end:", "leave:", "missed:", "decline:"} {
				assert.False(t, f.registry.has(op+tc.callID), "remote end needs no %s", op)
			}
		})
	}
}

func TestSession_OneToOneTransportDisconnectEndsCall(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.connectOutgoing(t)

	f.transport.emit(media.Event{Kind: media.EventDisconnected})
	n := f.waitNotice(t, NoticeTransportFailed)
	assert.Equal(t, "c1", n.CallID)
	assert.ErrorIs(t, n.Err, ringline_errors.ErrTransportFailure)
	f.waitStatus(t, StatusIdle)
	f.waitOp(t, "end:c1")

	// late transport events and the registry's echo change nothing
	f.transport.emit(media.Event{Kind: media.EventDisconnected})
	f.s.Deliver(events.CallEnded{CallID: "c1", Status: call.StatusEnded}, time.Now())
	time.Sleep(20 * time.Millisecond)
	_, disconnects := f.transport.counts()
	assert.Equal(t, 1, disconnects)
	assert.False(t, f.registry.has("leave:c1"))
}

func TestSession_PostAfterContextCancelDoesNotBlock(t *testing.T) {
	s := New(Config{UserID: self, QueueSize: 1}, &fakeRegistry{createID: "c1"}, &fakeTransport{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	go func() { ran <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-ran:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for i := 0; i < 3; i++ {
			s.Deliver(ring("c30", time.Now()), time.Now())
			s.Hangup()
		}
	}()
	select {
	case <-delivered:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("posting to a stopped session blocked")
	}
}

func TestSession_ShutdownHangsUpBeforeClosing(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	f.connectOutgoing(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.s.Shutdown(ctx))

	assert.True(t, f.registry.has("end:c1"))
	_, disconnects := f.transport.counts()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, StatusIdle, f.s.View().Status)
}

func TestSession_ShutdownWhileCreatingEndsTheCall(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	gate := make(chan struct{})
	f.registry.createGate = gate

	f.s.StartCall([]string{peer}, call.KindVoice, "")
	f.waitStatus(t, StatusRingingOutgoing)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	shut := make(chan error, 1)
	go func() { shut <- f.s.Shutdown(ctx) }()

	require.Eventually(t, func() bool {
		select {
		case <-f.s.stopped:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	close(gate)

	require.NoError(t, <-shut)
	assert.True(t, f.registry.has("end:c1"))
}

func TestSession_SubscribeSeesLatestView(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	views, cancel := f.s.Subscribe()
	defer cancel()

	first := <-views
	assert.Equal(t, StatusIdle, first.Status)

	f.s.Deliver(ring("c12", time.Now()), time.Now())
	require.Eventually(t, func() bool {
		select {
		case v := <-views:
			return v.Status == StatusRingingIncoming && v.CallID == "c12"
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestPolicy_Stale(t *testing.T) {
	p := Policy{RingTimeout: time.Second}.withDefaults()
	now := time.Now()

	assert.False(t, p.Stale(time.Time{}, now))
	assert.False(t, p.Stale(now.Add(-500*time.Millisecond), now))
	assert.False(t, p.Stale(now.Add(time.Minute), now))
	assert.True(t, p.Stale(now.Add(-2*time.Second), now))
	assert.Equal(t, DefaultConnectTimeout, p.ConnectTimeout)
}

func TestRecentCalls_Bounded(t *testing.T) {
	r := newRecentCalls(2)
	r.add("a")
	r.add("b")
	r.add("a")
	r.add("c")

	assert.False(t, r.has("a"))
	assert.True(t, r.has("b"))
	assert.True(t, r.has("c"))
}
