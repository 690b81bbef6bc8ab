package events

import (
	"context"
	"time"

	"ringline/internal/metrics"
	"ringline/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus delivers events to per-user private channels. Publishing is
// fire-and-forget: failures are logged and never returned to the caller.
type Bus interface {
	Publish(ctx context.Context, target uuid.UUID, e Event)
}

// ChannelPublisher is the raw pub/sub primitive the bus writes to.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber streams raw messages for channel patterns until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte))
}

type RedisBus struct {
	publisher ChannelPublisher
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRedisBus(publisher ChannelPublisher, log *logger.Logger, m *metrics.Metrics) *RedisBus {
	return &RedisBus{
		publisher: publisher,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

func (b *RedisBus) Publish(ctx context.Context, target uuid.UUID, e Event) {
	data, err := Encode(e, b.now().UTC())
	if err != nil {
		b.fail(ctx, target, e, err)
		return
	}
	if err := b.publisher.Publish(ctx, UserChannel(target), data); err != nil {
		b.fail(ctx, target, e, err)
	}
}

func (b *RedisBus) fail(ctx context.Context, target uuid.UUID, e Event, err error) {
	if b.metrics != nil {
		b.metrics.PublishFailures.Inc()
	}
	b.log.Ctx(ctx).Warn("failed to publish signaling event",
		zap.String("type", string(e.EventType())),
		zap.String("call_id", e.Call()),
		zap.String("target", target.String()),
		zap.Error(err),
	)
}
