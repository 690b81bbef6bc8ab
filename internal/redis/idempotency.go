package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ringline/internal/commands"

	goredis "github.com/redis/go-redis/v9"
)

// Key pattern:
// - idem:{command_type}:{user_id}:{key} -> JSON command result
const idempotencyKeyPrefix = "idem:"

const DefaultIdempotencyTTL = 10 * time.Minute

type IdempotencyStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

type storedResult struct {
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Get returns the stored result with its payload left as raw JSON.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (commands.Result, bool, error) {
	data, err := s.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return commands.Result{}, false, nil
	}
	if err != nil {
		return commands.Result{}, false, err
	}

	var stored storedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		return commands.Result{}, false, err
	}
	res := commands.Result{AggregateID: stored.AggregateID}
	if len(stored.Payload) > 0 {
		res.Payload = stored.Payload
	}
	return res, true, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, key string, result commands.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyKeyPrefix+key, data, s.ttl).Err()
}
