package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ringline/internal/commands"
	"ringline/internal/domain/call"
	"ringline/internal/domain/user"
	"ringline/internal/events"
	"ringline/internal/metrics"
	"ringline/internal/redis"
	"ringline/internal/repository"
	ringline_errors "ringline/pkg/errors"
	"ringline/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CredentialIssuer mints media transport join tokens.
type CredentialIssuer interface {
	Mint(callID, userID uuid.UUID, displayName string) (call.Credential, error)
}

type CallLimiter interface {
	AllowCall(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// ClaimStore guards against one initiator placing two calls at once.
type ClaimStore interface {
	Claim(ctx context.Context, userID, callID uuid.UUID) (bool, error)
	Release(ctx context.Context, userID, callID uuid.UUID) error
}

// Auditor receives every call that reaches a terminal status.
type Auditor interface {
	Archive(c call.Call)
}

// CallService is the server-side authority for calls and participants.
type CallService struct {
	calls   repository.CallRepository
	users   repository.UserRepository
	bus     events.Bus
	issuer  CredentialIssuer
	limiter CallLimiter
	claims  ClaimStore
	auditor Auditor
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewCallService(calls repository.CallRepository, users repository.UserRepository, bus events.Bus, issuer CredentialIssuer, log *logger.Logger) *CallService {
	return &CallService{
		calls:  calls,
		users:  users,
		bus:    bus,
		issuer: issuer,
		log:    log,
		now:    time.Now,
	}
}

func (s *CallService) WithLimiter(l CallLimiter) *CallService {
	s.limiter = l
	return s
}

func (s *CallService) WithClaims(c ClaimStore) *CallService {
	s.claims = c
	return s
}

func (s *CallService) WithAuditor(a Auditor) *CallService {
	s.auditor = a
	return s
}

func (s *CallService) WithMetrics(m *metrics.Metrics) *CallService {
	s.metrics = m
	return s
}

type CreateCallInput struct {
	InitiatorID    uuid.UUID
	TenantID       uuid.UUID
	ParticipantIDs []uuid.UUID
	Kind           call.Kind
	ChatChannel    string
}

type CreateCallResult struct {
	CallID     uuid.UUID       `json:"call_id"`
	Credential call.Credential `json:"credential"`
	Call       call.Call       `json:"call"`
}

type AcceptCallResult struct {
	CallID     uuid.UUID       `json:"call_id"`
	Credential call.Credential `json:"credential"`
}

// RegisterHandlers exposes the registry operations on the command bus.
func (s *CallService) RegisterHandlers(bus *commands.Bus) {
	if bus == nil {
		return
	}

	bus.Register(commands.TypeCreateCall, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		c, ok := cmd.(commands.CreateCallCommand)
		if !ok {
			return commands.Result{}, ringline_errors.ErrInvalidInput
		}
		res, err := s.CreateCall(ctx, CreateCallInput{
			InitiatorID:    c.InitiatorID,
			TenantID:       c.TenantID,
			ParticipantIDs: c.ParticipantIDs,
			Kind:           c.Kind,
			ChatChannel:    c.ChatChannel,
		})
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: res.CallID.String(), Payload: res}, nil
	}))

	action := func(run func(ctx context.Context, c commands.CallActionCommand) (interface{}, error)) commands.Handler {
		return commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
			c, ok := cmd.(commands.CallActionCommand)
			if !ok {
				return commands.Result{}, ringline_errors.ErrInvalidInput
			}
			payload, err := run(ctx, c)
			if err != nil {
				return commands.Result{}, err
			}
			return commands.Result{AggregateID: c.CallID.String(), Payload: payload}, nil
		})
	}

	bus.Register(commands.TypeAcceptCall, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		cred, err := s.AcceptCall(ctx, c.CallID, c.UserID)
		if err != nil {
			return nil, err
		}
		return AcceptCallResult{CallID: c.CallID, Credential: cred}, nil
	}))
	bus.Register(commands.TypeDeclineCall, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		return nil, s.DeclineCall(ctx, c.CallID, c.UserID)
	}))
	bus.Register(commands.TypeEndCall, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		return nil, s.EndCall(ctx, c.CallID, c.UserID)
	}))
	bus.Register(commands.TypeMarkMissed, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		return nil, s.MarkMissed(ctx, c.CallID, c.UserID)
	}))
	bus.Register(commands.TypeJoinCall, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		return nil, s.JoinCall(ctx, c.CallID, c.UserID)
	}))
	bus.Register(commands.TypeLeaveCall, action(func(ctx context.Context, c commands.CallActionCommand) (interface{}, error) {
		return nil, s.LeaveCall(ctx, c.CallID, c.UserID)
	}))
}

// CreateCall records a ringing call and rings every invitee.
func (s *CallService) CreateCall(ctx context.Context, in CreateCallInput) (CreateCallResult, error) {
	kind := in.Kind
	if kind == "" {
		kind = call.KindVoice
	}
	if !kind.Valid() {
		return CreateCallResult{}, fmt.Errorf("%w: unknown call kind %q", ringline_errors.ErrInvalidInput, kind)
	}

	invitees := distinctInvitees(in.InitiatorID, in.ParticipantIDs)
	if len(invitees) == 0 {
		return CreateCallResult{}, fmt.Errorf("%w: no participants besides the initiator", ringline_errors.ErrInvalidInput)
	}

	profiles, err := s.resolveAudience(ctx, in.TenantID, in.InitiatorID, invitees)
	if err != nil {
		return CreateCallResult{}, err
	}

	if _, err := s.calls.FindOpenCallForUser(ctx, in.InitiatorID); err == nil {
		return CreateCallResult{}, fmt.Errorf("%w: initiator already has an open call", ringline_errors.ErrInvalidState)
	} else if !errors.Is(err, ringline_errors.ErrNotFound) {
		return CreateCallResult{}, err
	}

	if s.limiter != nil {
		res, err := s.limiter.AllowCall(ctx, in.InitiatorID.String())
		if err != nil {
			s.log.Ctx(ctx).Warn("call rate limit check failed", zap.Error(err))
		} else if !res.Allowed {
			return CreateCallResult{}, ringline_errors.ErrRateLimited
		}
	}

	callID := uuid.New()
	if s.claims != nil {
		ok, err := s.claims.Claim(ctx, in.InitiatorID, callID)
		if err != nil {
			s.log.Ctx(ctx).Warn("call claim failed", zap.Error(err))
		} else if !ok {
			return CreateCallResult{}, fmt.Errorf("%w: initiator already has an open call", ringline_errors.ErrInvalidState)
		}
	}

	now := s.now().UTC()
	c := &call.Call{
		ID:          callID,
		TenantID:    in.TenantID,
		InitiatorID: in.InitiatorID,
		Kind:        kind,
		IsGroup:     len(invitees) > 1,
		Status:      call.StatusRinging,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.ChatChannel != "" {
		c.ChatChannel = sql.NullString{String: in.ChatChannel, Valid: true}
	}

	participants := make([]call.Participant, 0, len(invitees)+1)
	participants = append(participants, call.Participant{
		UserID:    in.InitiatorID,
		Role:      call.RoleInitiator,
		Status:    call.ParticipantAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	})
	for _, id := range invitees {
		participants = append(participants, call.Participant{
			UserID:    id,
			Role:      call.RoleInvitee,
			Status:    call.ParticipantPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.calls.CreateWithParticipants(ctx, c, participants); err != nil {
		s.releaseClaim(ctx, in.InitiatorID, callID)
		s.countError("create")
		return CreateCallResult{}, err
	}

	initiator := profiles[in.InitiatorID]
	cred, err := s.issuer.Mint(callID, in.InitiatorID, initiator.Name)
	if err != nil {
		s.log.Ctx(ctx).Error("failed to mint initiator credential", zap.String("call_id", callID.String()), zap.Error(err))
		if changed, terr := s.calls.TransitionStatus(ctx, callID, []call.Status{call.StatusRinging}, call.StatusCancelled, uuid.NullUUID{}); terr == nil && changed {
			s.onTerminal(ctx, callID)
		}
		return CreateCallResult{}, fmt.Errorf("%w: %v", ringline_errors.ErrTransportFailure, err)
	}

	if s.metrics != nil {
		s.metrics.CallsCreated.WithLabelValues(string(kind)).Inc()
	}

	ring := events.IncomingCall{
		CallID:       callID.String(),
		Initiator:    initiator,
		Type:         kind,
		IsGroup:      c.IsGroup,
		Participants: make([]user.Profile, 0, len(invitees)),
		ChatChannel:  in.ChatChannel,
		SentAt:       s.now().UTC(),
	}
	for _, id := range invitees {
		ring.Participants = append(ring.Participants, profiles[id])
	}
	for _, id := range invitees {
		s.bus.Publish(ctx, id, ring)
	}

	s.log.Ctx(ctx).Info("call created",
		zap.String("call_id", callID.String()),
		zap.String("kind", string(kind)),
		zap.Int("invitees", len(invitees)),
	)

	return CreateCallResult{CallID: callID, Credential: cred, Call: *c}, nil
}

// AcceptCall is idempotent for a participant that already accepted or joined.
func (s *CallService) AcceptCall(ctx context.Context, callID, userID uuid.UUID) (call.Credential, error) {
	c, p, err := s.loadForParticipant(ctx, callID, userID)
	if err != nil {
		return call.Credential{}, err
	}
	if c.Status.Terminal() {
		return call.Credential{}, fmt.Errorf("%w: call is %s", ringline_errors.ErrInvalidState, c.Status)
	}

	switch p.Status {
	case call.ParticipantAccepted, call.ParticipantJoined:
		return s.mintFor(ctx, callID, userID)
	case call.ParticipantPending:
	default:
		return call.Credential{}, fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, p.Status)
	}

	var replay bool
	err = s.calls.WithTx(ctx, func(tx repository.CallRepository) error {
		changed, err := tx.TransitionParticipant(ctx, callID, userID, []call.ParticipantStatus{call.ParticipantPending}, call.ParticipantAccepted)
		if err != nil {
			return err
		}
		if !changed {
			current, err := tx.GetParticipant(ctx, callID, userID)
			if err != nil {
				return err
			}
			if current.Status == call.ParticipantAccepted || current.Status == call.ParticipantJoined {
				replay = true
				return nil
			}
			return fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, current.Status)
		}

		live, err := tx.TransitionStatus(ctx, callID, []call.Status{call.StatusRinging, call.StatusActive}, call.StatusActive, uuid.NullUUID{})
		if err != nil {
			return err
		}
		if !live {
			return fmt.Errorf("%w: call is no longer ringing", ringline_errors.ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		s.countError("accept")
		return call.Credential{}, err
	}

	cred, err := s.mintFor(ctx, callID, userID)
	if err != nil {
		return call.Credential{}, err
	}
	if !replay {
		s.bus.Publish(ctx, c.InitiatorID, events.CallAccepted{CallID: callID.String(), AcceptedBy: userID.String()})
	}
	return cred, nil
}

// DeclineCall flips the whole call to declined once no invitee is left pending or in the call.
func (s *CallService) DeclineCall(ctx context.Context, callID, userID uuid.UUID) error {
	c, p, err := s.loadForParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if p.Role == call.RoleInitiator {
		return fmt.Errorf("%w: initiator cannot decline", ringline_errors.ErrInvalidState)
	}
	if p.Status == call.ParticipantDeclined || c.Status.Terminal() {
		return nil
	}
	if p.Status != call.ParticipantPending {
		return fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, p.Status)
	}

	var declined bool
	err = s.calls.WithTx(ctx, func(tx repository.CallRepository) error {
		if _, err := tx.TransitionParticipant(ctx, callID, userID, []call.ParticipantStatus{call.ParticipantPending}, call.ParticipantDeclined); err != nil {
			return err
		}
		current, err := tx.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if current.LiveInvitees() > 0 {
			return nil
		}
		declined, err = tx.TransitionStatus(ctx, callID, []call.Status{call.StatusRinging}, call.StatusDeclined, uuid.NullUUID{UUID: userID, Valid: true})
		return err
	})
	if err != nil {
		s.countError("decline")
		return err
	}

	if declined {
		s.bus.Publish(ctx, c.InitiatorID, events.CallDeclined{CallID: callID.String(), DeclinedBy: userID.String()})
		s.onTerminal(ctx, callID)
	}
	return nil
}

// EndCall terminates the call for everyone. A call that never got past
// ringing ends as cancelled. call-ended is published to every participant
// even when the call was already terminal.
func (s *CallService) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	c, p, err := s.loadForParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if p.Role != call.RoleInitiator && p.Status != call.ParticipantAccepted && p.Status != call.ParticipantJoined {
		return fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, p.Status)
	}
	return s.end(ctx, c, uuid.NullUUID{UUID: userID, Valid: true})
}

func (s *CallService) end(ctx context.Context, c call.Call, endedBy uuid.NullUUID) error {
	status := c.Status
	changed := false
	if !c.Status.Terminal() {
		target := call.StatusEnded
		if c.Status == call.StatusRinging {
			target = call.StatusCancelled
		}
		err := s.calls.WithTx(ctx, func(tx repository.CallRepository) error {
			var err error
			changed, err = tx.TransitionStatus(ctx, c.ID, []call.Status{c.Status}, target, endedBy)
			if err != nil || !changed {
				return err
			}
			for _, p := range c.Participants {
				if p.Status != call.ParticipantAccepted && p.Status != call.ParticipantJoined {
					continue
				}
				if _, err := tx.TransitionParticipant(ctx, c.ID, p.UserID, []call.ParticipantStatus{call.ParticipantAccepted, call.ParticipantJoined}, call.ParticipantLeft); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.countError("end")
			return err
		}
		if changed {
			status = target
		} else {
			// lost a race with another terminal transition
			current, err := s.calls.GetByID(ctx, c.ID)
			if err != nil {
				return err
			}
			status = current.Status
			if !status.Terminal() {
				return fmt.Errorf("%w: call changed concurrently", ringline_errors.ErrInvalidState)
			}
		}
	}

	ended := events.CallEnded{CallID: c.ID.String(), Status: status}
	for _, id := range c.ParticipantIDs() {
		s.bus.Publish(ctx, id, ended)
	}
	if changed {
		s.onTerminal(ctx, c.ID)
	}
	return nil
}

// MarkMissed records an unanswered ring. userID is uuid.Nil when the
// server reaper acts without a participant.
func (s *CallService) MarkMissed(ctx context.Context, callID, userID uuid.UUID) error {
	var (
		c   call.Call
		err error
	)
	if userID == uuid.Nil {
		c, err = s.calls.GetByID(ctx, callID)
	} else {
		c, _, err = s.loadForParticipant(ctx, callID, userID)
	}
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return nil
	}
	if c.Status != call.StatusRinging {
		return fmt.Errorf("%w: call is %s", ringline_errors.ErrInvalidState, c.Status)
	}

	changed, err := s.calls.TransitionStatus(ctx, callID, []call.Status{call.StatusRinging}, call.StatusMissed, uuid.NullUUID{UUID: userID, Valid: userID != uuid.Nil})
	if err != nil {
		s.countError("missed")
		return err
	}
	if !changed {
		current, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("%w: call is %s", ringline_errors.ErrInvalidState, current.Status)
	}

	ended := events.CallEnded{CallID: callID.String(), Status: call.StatusMissed}
	for _, id := range c.ParticipantIDs() {
		s.bus.Publish(ctx, id, ended)
	}
	s.onTerminal(ctx, callID)
	return nil
}

// JoinCall records that an accepted participant is present in the media room.
func (s *CallService) JoinCall(ctx context.Context, callID, userID uuid.UUID) error {
	c, p, err := s.loadForParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if p.Status == call.ParticipantJoined {
		return nil
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: call is %s", ringline_errors.ErrInvalidState, c.Status)
	}
	if p.Status != call.ParticipantAccepted {
		return fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, p.Status)
	}

	changed, err := s.calls.TransitionParticipant(ctx, callID, userID, []call.ParticipantStatus{call.ParticipantAccepted}, call.ParticipantJoined)
	if err != nil {
		s.countError("join")
		return err
	}
	if changed {
		s.notifyOthers(ctx, c, userID, events.ParticipantJoined{CallID: callID.String(), ParticipantID: userID.String()})
	}
	return nil
}

// LeaveCall removes one participant. The call ends only when nobody could
// still talk: no one present, or one person present and no invitee pending.
func (s *CallService) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	c, p, err := s.loadForParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	if p.Status == call.ParticipantLeft {
		return nil
	}
	if p.Status != call.ParticipantAccepted && p.Status != call.ParticipantJoined {
		return fmt.Errorf("%w: participant is %s", ringline_errors.ErrInvalidState, p.Status)
	}

	changed, err := s.calls.TransitionParticipant(ctx, callID, userID, []call.ParticipantStatus{call.ParticipantAccepted, call.ParticipantJoined}, call.ParticipantLeft)
	if err != nil {
		s.countError("leave")
		return err
	}
	if !changed {
		return nil
	}

	s.notifyOthers(ctx, c, userID, events.ParticipantLeft{CallID: callID.String(), ParticipantID: userID.String()})
	if userID == c.InitiatorID {
		s.releaseClaim(ctx, c.InitiatorID, callID)
	}

	if c.Status.Terminal() {
		return nil
	}
	current, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	pending := 0
	for _, cp := range current.Participants {
		if cp.Status == call.ParticipantPending {
			pending++
		}
	}
	present := current.Present()
	if present == 0 || (present == 1 && pending == 0) {
		return s.end(ctx, current, uuid.NullUUID{UUID: userID, Valid: true})
	}
	return nil
}

// GetCall returns a call visible to one of its participants.
func (s *CallService) GetCall(ctx context.Context, callID, userID uuid.UUID) (call.Call, error) {
	c, _, err := s.loadForParticipant(ctx, callID, userID)
	return c, err
}

func (s *CallService) ListCalls(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	return s.calls.GetUserCalls(ctx, userID, page, limit)
}

// ReapStaleRinging marks calls that rang longer than maxRing as missed and
// reports how many it changed.
func (s *CallService) ReapStaleRinging(ctx context.Context, maxRing time.Duration, batch int) (int, error) {
	stale, err := s.calls.ListStaleRinging(ctx, s.now().UTC().Add(-maxRing), batch)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, c := range stale {
		if err := s.MarkMissed(ctx, c.ID, uuid.Nil); err != nil {
			s.log.Ctx(ctx).Warn("failed to reap ringing call", zap.String("call_id", c.ID.String()), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped, nil
}

func (s *CallService) loadForParticipant(ctx context.Context, callID, userID uuid.UUID) (call.Call, call.Participant, error) {
	c, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return call.Call{}, call.Participant{}, err
	}
	p, ok := c.Participant(userID)
	if !ok {
		return call.Call{}, call.Participant{}, fmt.Errorf("%w: not a participant of this call", ringline_errors.ErrNotFound)
	}
	return c, p, nil
}

func (s *CallService) resolveAudience(ctx context.Context, tenantID, initiatorID uuid.UUID, invitees []uuid.UUID) (map[uuid.UUID]user.Profile, error) {
	ids := append([]uuid.UUID{initiatorID}, invitees...)
	found, err := s.users.GetTenantUsers(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	profiles := make(map[uuid.UUID]user.Profile, len(found))
	for _, u := range found {
		profiles[u.ID] = u.Profile()
	}
	for _, id := range ids {
		if _, ok := profiles[id]; !ok {
			return nil, fmt.Errorf("%w: user %s", ringline_errors.ErrNotFound, id)
		}
	}
	return profiles, nil
}

func (s *CallService) mintFor(ctx context.Context, callID, userID uuid.UUID) (call.Credential, error) {
	name := ""
	if u, err := s.users.GetUserByID(ctx, userID); err == nil {
		name = u.DisplayName
	}
	cred, err := s.issuer.Mint(callID, userID, name)
	if err != nil {
		return call.Credential{}, fmt.Errorf("%w: %v", ringline_errors.ErrTransportFailure, err)
	}
	return cred, nil
}

func (s *CallService) notifyOthers(ctx context.Context, c call.Call, actor uuid.UUID, e events.Event) {
	for _, p := range c.Participants {
		if p.UserID == actor || p.Status.Done() {
			continue
		}
		s.bus.Publish(ctx, p.UserID, e)
	}
}

// onTerminal runs the best-effort bookkeeping after a call becomes terminal.
func (s *CallService) onTerminal(ctx context.Context, callID uuid.UUID) {
	c, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		s.log.Ctx(ctx).Warn("failed to reload terminal call", zap.String("call_id", callID.String()), zap.Error(err))
		return
	}
	s.releaseClaim(ctx, c.InitiatorID, c.ID)
	if s.metrics != nil {
		s.metrics.CallsTerminal.WithLabelValues(string(c.Status)).Inc()
	}
	if s.auditor != nil {
		s.auditor.Archive(c)
	}
	s.log.Ctx(ctx).Info("call finished", zap.String("call_id", c.ID.String()), zap.String("status", string(c.Status)))
}

func (s *CallService) releaseClaim(ctx context.Context, userID, callID uuid.UUID) {
	if s.claims == nil {
		return
	}
	if err := s.claims.Release(ctx, userID, callID); err != nil {
		s.log.Ctx(ctx).Warn("failed to release call claim", zap.String("call_id", callID.String()), zap.Error(err))
	}
}

func (s *CallService) countError(op string) {
	if s.metrics != nil {
		s.metrics.RegistryErrors.WithLabelValues(op).Inc()
	}
}

func distinctInvitees(initiator uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == initiator || id == uuid.Nil {
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
