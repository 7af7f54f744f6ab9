package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 5 * time.Second
	pingTimeout = 5 * time.Second
)

// Client wraps the go-redis client shared by the send budget and the SSE
// event fan-out.
type Client struct {
	*redis.Client
}

// NewClient parses redisURL (redis:// or rediss://) and verifies the server
// answers before returning.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = dialTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return &Client{client}, nil
}

// EventChannel is the pub/sub channel carrying an owner's session events.
func EventChannel(ownerID string) string {
	return "session-events:" + ownerID
}

// RateLimitKey is the sorted-set key for an owner's outbound message budget.
// The plan is part of the key so an upgrade starts a fresh window.
func RateLimitKey(ownerID, plan string) string {
	return fmt.Sprintf("ratelimit:send:%s:%s", plan, ownerID)
}
