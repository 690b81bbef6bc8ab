package websocket

import (
	"context"
	"fmt"

	"ringline/internal/domain/call"
	ringline_errors "ringline/pkg/errors"

	"github.com/google/uuid"
)

// CallReader loads a call as seen by one of its participants.
type CallReader interface {
	GetCall(ctx context.Context, callID, userID uuid.UUID) (call.Call, error)
}

// RelayAuthorizer decides who may receive a frame a client relays.
type RelayAuthorizer struct {
	calls CallReader
}

func NewRelayAuthorizer(calls CallReader) *RelayAuthorizer {
	return &RelayAuthorizer{calls: calls}
}

// Audience returns the co-participants of a live call that still take part
// in it. The sender must be a participant.
func (a *RelayAuthorizer) Audience(ctx context.Context, sender uuid.UUID, callID string) ([]uuid.UUID, error) {
	id, err := uuid.Parse(callID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad call id", ringline_errors.ErrInvalidInput)
	}
	c, err := a.calls.GetCall(ctx, id, sender)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, fmt.Errorf("%w: call is %s", ringline_errors.ErrInvalidState, c.Status)
	}
	out := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID == sender || p.Status.Done() {
			continue
		}
		out = append(out, p.UserID)
	}
	return out, nil
}
