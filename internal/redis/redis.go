// Package redis is the shared key/value backend for session state.
package redis

import (
	"context"
	"errors"
	"time"

	"gamiai/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// ErrCacheMiss is returned when a key is absent or has expired.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// Client stores opaque values under a key namespace with a sliding expiry.
type Client struct {
	inner  *redis.Client
	prefix string
}

// NewRedisClient connects with the configured credentials and pings the
// server before returning.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	inner := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := inner.Ping(pingCtx).Err(); err != nil {
		_ = inner.Close()
		return nil, err
	}
	return &Client{inner: inner}, nil
}

// WithPrefix returns a client sharing the connection whose keys all start
// with prefix.
func (c *Client) WithPrefix(prefix string) *Client {
	if c == nil {
		return nil
	}
	return &Client{inner: c.inner, prefix: c.prefix + prefix}
}

// Put stores value under key; ttl <= 0 keeps it until deleted.
func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.inner.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Replace overwrites key only if it still exists and reports whether it did.
func (c *Client) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c == nil || c.inner == nil {
		return false, errNotInitialized
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.inner.SetXX(ctx, c.prefix+key, value, ttl).Result()
}

// Fetch reads key and, when ttl > 0, pushes its expiry out by ttl.
func (c *Client) Fetch(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	if c == nil || c.inner == nil {
		return nil, errNotInitialized
	}
	if ttl > 0 {
		return c.inner.GetEx(ctx, c.prefix+key, ttl).Bytes()
	}
	return c.inner.Get(ctx, c.prefix+key).Bytes()
}

// Remove deletes key. Removing a missing key is not an error.
func (c *Client) Remove(ctx context.Context, key string) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Del(ctx, c.prefix+key).Err()
}

// Ping reports whether the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
