package commands

import (
	"context"
	"sync"

	"ringline/pkg/logger"

	"go.uber.org/zap"
)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	store    IdempotencyStore
	log      *logger.Logger
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler), log: logger.Nop()}
}

// WithIdempotency enables result replay for commands that carry a key.
func (b *Bus) WithIdempotency(store IdempotencyStore, log *logger.Logger) *Bus {
	b.store = store
	if log != nil {
		b.log = log
	}
	return b
}

func (b *Bus) Register(commandType string, handler Handler) {
	b.mu.Lock()
	b.handlers[commandType] = handler
	b.mu.Unlock()
}

func (b *Bus) Execute(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}

	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandType()]
	b.mu.RUnlock()
	if !ok {
		return Result{}, ErrHandlerNotFound
	}

	key := cmd.IdempotencyKey()
	if key == "" || b.store == nil {
		return h.Handle(ctx, cmd)
	}
	key = cmd.CommandType() + ":" + key

	if cached, found, err := b.store.Get(ctx, key); err != nil {
		b.log.Ctx(ctx).Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
	} else if found {
		return cached, nil
	}

	res, err := h.Handle(ctx, cmd)
	if err != nil {
		return res, err
	}
	if err := b.store.Put(ctx, key, res); err != nil {
		b.log.Ctx(ctx).Warn("idempotency store failed", zap.String("key", key), zap.Error(err))
	}
	return res, nil
}
