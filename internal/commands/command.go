package commands

import (
	"context"
	"errors"
)

var ErrHandlerNotFound = errors.New("command handler not found")

type Command interface {
	CommandType() string
	Validate() error
	// IdempotencyKey is empty when the caller did not supply one. Non-empty
	// keys are already scoped to the acting user.
	IdempotencyKey() string
}

type Result struct {
	AggregateID string      `json:"aggregate_id"`
	Payload     interface{} `json:"payload,omitempty"`
}

type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// IdempotencyStore remembers results of keyed commands so a retried request
// gets the first outcome instead of executing twice.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Put(ctx context.Context, key string, result Result) error
}
