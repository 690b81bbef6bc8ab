package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Key pattern:
// - call:user:{user_id} -> call id the user currently initiates
const callClaimKey = "call:user:"

// DefaultClaimTTL bounds a leaked claim when a release is lost.
const DefaultClaimTTL = 2 * time.Hour

// CallClaims records which call a user is placing so two concurrent
// createCall requests for the same initiator cannot both win.
type CallClaims struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewCallClaims(client *goredis.Client, ttl time.Duration) *CallClaims {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &CallClaims{client: client, ttl: ttl}
}

// Claim reports false when the user already holds a claim for another call.
// Re-claiming the same call succeeds.
func (c *CallClaims) Claim(ctx context.Context, userID, callID uuid.UUID) (bool, error) {
	key := callClaimKey + userID.String()
	ok, err := c.client.SetNX(ctx, key, callID.String(), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim call: %w", err)
	}
	if ok {
		return true, nil
	}
	holder, held, err := c.Holder(ctx, userID)
	if err != nil {
		return false, err
	}
	return held && holder == callID, nil
}

var releaseScript = goredis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Release drops the claim only if it still points at callID.
func (c *CallClaims) Release(ctx context.Context, userID, callID uuid.UUID) error {
	key := callClaimKey + userID.String()
	if err := releaseScript.Run(ctx, c.client, []string{key}, callID.String()).Err(); err != nil {
		return fmt.Errorf("release call claim: %w", err)
	}
	return nil
}

func (c *CallClaims) Holder(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := c.client.Get(ctx, callClaimKey+userID.String()).Result()
	if errors.Is(err, goredis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}
