package roles

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

const cacheKeyPrefix = "reembolso:roles:"

// CachedSource keeps role lookups in Redis for a short TTL. Failed lookups are
// never cached, so an outage cannot pin a user to the empty set.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedSource decorates next with a Redis cache.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl}
}

// Roles implements Source.
func (c *CachedSource) Roles(ctx context.Context, userID int64) ([]Role, error) {
	key := cacheKeyPrefix + strconv.FormatInt(userID, 10)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decodeRoles(raw), nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache trouble falls through to the source.
		return c.load(ctx, key, userID, false)
	}
	return c.load(ctx, key, userID, true)
}

func (c *CachedSource) load(ctx context.Context, key string, userID int64, store bool) ([]Role, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		list, err := c.next.Roles(ctx, userID)
		if err != nil {
			return nil, err
		}
		if store {
			_ = c.client.Set(ctx, key, encodeRoles(list), c.ttl).Err()
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Role), nil
}

// Principal implements Source without caching; names must stay fresh for audit snapshots.
func (c *CachedSource) Principal(ctx context.Context, userID int64) (shared.Principal, error) {
	return c.next.Principal(ctx, userID)
}

// Invalidate drops the cached roles for userID.
func (c *CachedSource) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, cacheKeyPrefix+strconv.FormatInt(userID, 10)).Err()
}

func encodeRoles(list []Role) string {
	names := make([]string, 0, len(list))
	for _, r := range list {
		names = append(names, string(r))
	}
	return strings.Join(names, ",")
}

func decodeRoles(raw string) []Role {
	if raw == "" {
		return nil
	}
	var out []Role
	for _, name := range strings.Split(raw, ",") {
		if role, ok := ParseRole(name); ok {
			out = append(out, role)
		}
	}
	return out
}
