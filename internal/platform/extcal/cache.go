package extcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cachePrefix = "scheduler:extcal:"

// Cached memoizes another Source in Redis for a short TTL. Redis failures
// fall through to the wrapped source; source failures are never cached.
type Cached struct {
	src    Source
	client redis.UniversalClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(src Source, client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{src: src, client: client, ttl: ttl, logger: logger.With().Str("component", "extcal_cache").Logger()}
}

func cacheKey(professionalID int64, from, to time.Time) string {
	return fmt.Sprintf("%s%d:%d:%d", cachePrefix, professionalID, from.Unix(), to.Unix())
}

func (c *Cached) ListBusyBlocks(ctx context.Context, professionalID int64, from, to time.Time) ([]Block, error) {
	key := cacheKey(professionalID, from, to)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var blocks []Block
		if uerr := json.Unmarshal(raw, &blocks); uerr == nil {
			return blocks, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("calendar cache read failed")
	}

	blocks, err := c.src.ListBusyBlocks(ctx, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	if blocks == nil {
		blocks = []Block{}
	}
	payload, err := json.Marshal(blocks)
	if err != nil {
		return blocks, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("calendar cache write failed")
	}
	return blocks, nil
}

// Invalidate drops every cached range of a professional.
func (c *Cached) Invalidate(ctx context.Context, professionalID int64) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s%d:*", cachePrefix, professionalID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan calendar cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
