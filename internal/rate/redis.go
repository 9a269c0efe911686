package rate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments and, on the first hit of a window, sets the expiry.
// The PTTL check repairs a key that somehow lost its expiry.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCounter is a Counter shared by every process pointing at the same Redis.
type RedisCounter struct {
	redis redis.UniversalClient
}

// NewRedisCounter wraps a go-redis client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{redis: client}
}

// Hit implements Counter.
func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return hitScript.Run(ctx, c.redis, []string{key}, ms).Int64()
}

// Peek implements Counter.
func (c *RedisCounter) Peek(ctx context.Context, key string) (int64, error) {
	n, err := c.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Reset implements Counter.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key).Err()
}
