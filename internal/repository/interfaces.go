package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ringline/internal/domain/call"
	"ringline/internal/domain/user"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
	// GetTenantUsers resolves ids restricted to one tenant; ids outside the tenant are omitted.
	GetTenantUsers(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]user.User, error)
}

type CallRepository interface {
	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(CallRepository) error) error

	CreateWithParticipants(ctx context.Context, c *call.Call, participants []call.Participant) error
	GetByID(ctx context.Context, id uuid.UUID) (call.Call, error)
	GetParticipant(ctx context.Context, callID, userID uuid.UUID) (call.Participant, error)

	// TransitionStatus moves the call to `to` only if its current status is in `from`.
	// It reports whether a row changed.
	TransitionStatus(ctx context.Context, callID uuid.UUID, from []call.Status, to call.Status, endedBy uuid.NullUUID) (bool, error)
	// TransitionParticipant moves one participant to `to` only if its current status is in `from`.
	TransitionParticipant(ctx context.Context, callID, userID uuid.UUID, from []call.ParticipantStatus, to call.ParticipantStatus) (bool, error)

	// FindOpenCallForUser returns a ringing or active call the user has accepted or joined.
	FindOpenCallForUser(ctx context.Context, userID uuid.UUID) (call.Call, error)
	ListStaleRinging(ctx context.Context, before time.Time, limit int) ([]call.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error)
}
