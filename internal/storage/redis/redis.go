// Package redis backs the shared rate limit counters with Redis so every API
// replica enforces the same budget.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/xixi-cart/pkg/httpmiddleware"
)

const (
	keyNamespace    = "xixi"
	rateLimitPrefix = "rate_limit"
)

// cmdable is the subset of *redis.Client the package uses.
type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
}

// Client wraps a go-redis client.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// New parses url, connects and verifies the connection with PING.
func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Client{store: raw, raw: raw}, nil
}

// Ping verifies the connection. Used as a readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// incrWithTTL increments key and sets its TTL on the first increment.
func (c *Client) incrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.store.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.store.Expire(ctx, key, ttl).Err(); err != nil {
			return count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count, nil
}

func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}

var _ httpmiddleware.Limiter = (*FixedWindow)(nil)

// FixedWindow is an httpmiddleware.Limiter counting requests per key in
// aligned windows. Each window gets its own counter key that expires with it.
type FixedWindow struct {
	client *Client
	max    int64
	window time.Duration
}

// NewFixedWindow allows limit requests per key in each window.
func NewFixedWindow(client *Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{client: client, max: int64(limit), window: window}
}

// Allow implements httpmiddleware.Limiter.
func (l *FixedWindow) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	resetAt := start.Add(l.window)

	k := buildKey(rateLimitPrefix, key, strconv.FormatInt(start.Unix(), 10))
	count, err := l.client.incrWithTTL(ctx, k, l.window)
	if err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "count request")
	}

	return httpmiddleware.Decision{
		Allowed:   count <= l.max,
		Remaining: int(max(0, l.max-count)),
		ResetAt:   resetAt,
	}, nil
}
