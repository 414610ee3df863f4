package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/anchor/internal/ir"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "anchor.notifications"

// RedisSink publishes canonical JSON notifications on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink backed by a new client for addr.
func NewRedisSink(addr, password string, db int, channel string) *RedisSink {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSinkWithClient(rdb, channel)
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Channel returns the channel notifications are published on.
func (s *RedisSink) Channel() string {
	return s.channel
}

// Publish sends n as canonical JSON. The receiver count is not checked;
// a channel with no subscribers is not an error.
func (s *RedisSink) Publish(ctx context.Context, n ir.Notification) error {
	payload, err := n.Canonical()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
