package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-holder lease on a Redis key
type Lock struct {
	client *Client
	key    string
	token  string
}

// TryLock attempts to take the lock at key for ttl.
// Returns (nil, nil) when another holder owns it.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, c.OpTimeout())
	defer cancel()

	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lock{client: c, key: key, token: token}, nil
}

// Release frees the lock if it is still held by this owner
func (l *Lock) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.client.OpTimeout())
	defer cancel()

	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Key returns the locked key
func (l *Lock) Key() string {
	return l.key
}
