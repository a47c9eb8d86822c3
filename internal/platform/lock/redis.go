package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared across processes. Each lock is a key set with
// SET NX and a random token; it expires after ttl if the holder dies.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		client: client,
		prefix: "scheduler:lock:",
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger.With().Str("component", "redis_lock").Logger(),
	}
}

// Lock polls until the key is free, the context ends, or the lock TTL has
// elapsed without success.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	k := r.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.ttl)

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", k, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held by another owner", ErrNotAcquired, k)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(r.retry):
		}
	}

	r.logger.Debug().Str("key", k).Msg("lock acquired")
	return onceUnlock(func() {
		// The caller's context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, r.client, []string{k}, token).Int()
		if err != nil {
			r.logger.Error().Err(err).Str("key", k).Msg("failed to release lock")
			return
		}
		if n == 0 {
			r.logger.Warn().Str("key", k).Msg("lock expired before release")
		}
	}), nil
}
