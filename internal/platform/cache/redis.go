package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Options builds client options from either host:port or a redis:// URL.
// Command read and write deadlines are set to timeout when positive.
func Options(addr string, timeout time.Duration) (*redis.Options, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("platform/cache: parse url: %w", err)
		}
		opts = parsed
	}
	if timeout > 0 {
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return opts, nil
}

// New connects to redis and verifies the connection with a ping.
func New(ctx context.Context, addr string, timeout time.Duration) (*redis.Client, error) {
	opts, err := Options(addr, timeout)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
