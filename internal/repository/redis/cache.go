// Package redisrepo holds the Redis-backed helpers: read-through cache,
// idempotency keys, the payment attempt limiter and the booking change feed.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cached views of a booking.
const (
	ViewBooking  = "detail"
	ViewAttempts = "attempts"
)

// DefaultGenerationTTL bounds how long an idle booking keeps its cache
// generation counter. It must outlive every view TTL.
const DefaultGenerationTTL = 24 * time.Hour

type Cache struct {
	rdb    *redis.Client
	sf     singleflight.Group
	genTTL time.Duration
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{rdb: client, genTTL: DefaultGenerationTTL}
}

func (c *Cache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, string(raw), ttl).Err()
}

// GetOrSetJSON reads key, falling back to loader on a miss. Concurrent
// misses for the same key share one loader call. A failed write back is
// ignored; the next read loads again.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	if ok, err := c.getJSON(ctx, key, &out); err != nil || ok {
		return out, err
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		var again T
		if ok, err := c.getJSON(ctx, key, &again); err != nil || ok {
			return again, err
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.setJSON(ctx, key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache %s: unexpected %T", key, v)
	}
	return out, nil
}

// BookingView reads one view of a booking through the cache. Views are keyed
// by the booking's current generation, so a load that raced a commit writes
// under a generation no later read asks for.
func BookingView[T any](
	ctx context.Context,
	c *Cache,
	id uuid.UUID,
	view string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	gen, err := c.generation(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return GetOrSetJSON(ctx, c, KeyBookingView(id, gen, view), ttl, loader)
}

func (c *Cache) generation(ctx context.Context, id uuid.UUID) (int64, error) {
	gen, err := c.rdb.Get(ctx, KeyBookingGen(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// InvalidateBooking moves the booking to a fresh cache generation. Views of
// older generations are never read again and age out with their TTL.
func (c *Cache) InvalidateBooking(ctx context.Context, id uuid.UUID) error {
	key := KeyBookingGen(id)
	if err := c.rdb.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, c.genTTL).Err()
}
