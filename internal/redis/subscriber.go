package redis

import (
	"context"
	"time"

	"ringline/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultResubscribeDelay is the fixed wait between subscription attempts.
const DefaultResubscribeDelay = 3 * time.Second

// Subscriber holds a pattern subscription open until its context ends,
// re-establishing it whenever Redis drops it.
type Subscriber struct {
	client *redis.Client
	log    *logger.Logger
	delay  time.Duration
}

func NewSubscriber(client *redis.Client, log *logger.Logger) *Subscriber {
	return &Subscriber{client: client, log: log, delay: DefaultResubscribeDelay}
}

// WithDelay overrides the resubscribe delay.
func (s *Subscriber) WithDelay(d time.Duration) *Subscriber {
	s.delay = d
	return s
}

// Subscribe blocks until ctx is cancelled. Subscription errors are logged
// and retried; they are never returned.
func (s *Subscriber) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) {
	for {
		err := s.run(ctx, patterns, handler)
		if ctx.Err() != nil {
			return
		}
		s.log.Logger.Warn("redis subscription dropped, retrying",
			zap.Strings("patterns", patterns),
			zap.Duration("delay", s.delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}
}

func (s *Subscriber) run(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	sub := s.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	// wait for the subscription confirmation so a dead server fails fast
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
