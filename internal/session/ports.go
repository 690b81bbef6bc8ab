package session

import (
	"context"

	"ringline/internal/domain/call"
)

// CreateRequest describes an outgoing call.
type CreateRequest struct {
	ParticipantIDs []string
	Kind           call.Kind
	ChatChannel    string
}

// Registry is the server-side call authority, already authenticated as
// the session's user. Every method must be safe to retry.
type Registry interface {
	CreateCall(ctx context.Context, req CreateRequest) (callID string, cred call.Credential, err error)
	AcceptCall(ctx context.Context, callID string) (call.Credential, error)
	DeclineCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context, callID string) error
	MarkMissed(ctx context.Context, callID string) error
	JoinCall(ctx context.Context, callID string) error
	LeaveCall(ctx context.Context, callID string) error
}
