package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the metrics and circuit breaker hooks installed.
type Client struct {
	rdb     *redis.Client
	breaker *CircuitBreakerHook
}

// NewClient creates a new Redis client from a URL (e.g., "redis://localhost:6379").
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	breaker := NewCircuitBreakerHook()
	rdb.AddHook(&MetricsHook{})
	rdb.AddHook(breaker)
	return &Client{rdb: rdb, breaker: breaker}, nil
}

// Ping verifies the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Breaker exposes the circuit breaker hook for health reporting.
func (c *Client) Breaker() *CircuitBreakerHook {
	return c.breaker
}
