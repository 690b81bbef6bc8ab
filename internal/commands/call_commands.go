package commands

import (
	"ringline/internal/domain/call"
	ringline_errors "ringline/pkg/errors"

	"github.com/google/uuid"
)

// MaxCallParticipants caps the invitee list of one call.
const MaxCallParticipants = 32

const (
	TypeCreateCall  = "call.create"
	TypeAcceptCall  = "call.accept"
	TypeDeclineCall = "call.decline"
	TypeEndCall     = "call.end"
	TypeMarkMissed  = "call.missed"
	TypeJoinCall    = "call.join"
	TypeLeaveCall   = "call.leave"
)

func scopedKey(actor uuid.UUID, value string) string {
	if value == "" {
		return ""
	}
	return actor.String() + ":" + value
}

// CreateCallCommand rings participants on behalf of the initiator
type CreateCallCommand struct {
	InitiatorID         uuid.UUID
	TenantID            uuid.UUID
	ParticipantIDs      []uuid.UUID
	Kind                call.Kind
	ChatChannel         string
	IdempotencyKeyValue string
}

func (CreateCallCommand) CommandType() string { return TypeCreateCall }

func (c CreateCallCommand) Validate() error {
	if c.InitiatorID == uuid.Nil || c.TenantID == uuid.Nil {
		return ringline_errors.ErrInvalidInput
	}
	if len(c.ParticipantIDs) == 0 || len(c.ParticipantIDs) > MaxCallParticipants {
		return ringline_errors.ErrInvalidInput
	}
	for _, id := range c.ParticipantIDs {
		if id == uuid.Nil {
			return ringline_errors.ErrInvalidInput
		}
	}
	if c.Kind != "" && !c.Kind.Valid() {
		return ringline_errors.ErrInvalidInput
	}
	if len(c.ChatChannel) > 128 {
		return ringline_errors.ErrInvalidInput
	}
	return nil
}

func (c CreateCallCommand) IdempotencyKey() string {
	return scopedKey(c.InitiatorID, c.IdempotencyKeyValue)
}

// CallActionCommand is any per-participant action on an existing call.
type CallActionCommand struct {
	Type                string
	CallID              uuid.UUID
	UserID              uuid.UUID
	IdempotencyKeyValue string
}

func NewCallAction(commandType string, callID, userID uuid.UUID) CallActionCommand {
	return CallActionCommand{Type: commandType, CallID: callID, UserID: userID}
}

func (c CallActionCommand) CommandType() string { return c.Type }

func (c CallActionCommand) Validate() error {
	if c.CallID == uuid.Nil || c.UserID == uuid.Nil {
		return ringline_errors.ErrInvalidInput
	}
	switch c.Type {
	case TypeAcceptCall, TypeDeclineCall, TypeEndCall, TypeMarkMissed, TypeJoinCall, TypeLeaveCall:
		return nil
	default:
		return ringline_errors.ErrInvalidInput
	}
}

func (c CallActionCommand) IdempotencyKey() string {
	return scopedKey(c.UserID, c.IdempotencyKeyValue)
}
