package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = time.Second

// Publisher writes raw signaling frames to Redis pub/sub channels.
type Publisher struct {
	client  *redis.Client
	timeout time.Duration
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, timeout: publishTimeout}
}

// Publish succeeds even when nobody is subscribed to channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
