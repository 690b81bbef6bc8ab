package websocket

import (
	"context"

	"ringline/internal/events"
)

// RedisBridge forwards every user channel message to that user's connections.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

// Run blocks until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) {
	b.subscriber.Subscribe(ctx, []string{events.ChannelPatternUser}, b.hub.Broadcast)
}
