package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewClaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseClaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Claimer implements scheduler.Claimer on plain Redis keys with a TTL.
type Claimer struct {
	client *redis.Client
}

func NewClaimer(client *redis.Client) *Claimer {
	return &Claimer{client: client}
}

func (c *Claimer) Claim(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *Claimer) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewClaimScript.Run(ctx, c.client, []string{key}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *Claimer) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseClaimScript.Run(ctx, c.client, []string{key}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *Claimer) Holder(ctx context.Context, key string) (string, error) {
	holder, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read claim %s: %w", key, err)
	}
	return holder, nil
}
