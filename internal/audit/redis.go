package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of the redis client the shipper uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisShipper publishes each event as JSON on a redis channel.
type RedisShipper struct {
	client  Publisher
	channel string
}

// NewRedisShipper creates a shipper publishing to channel. The client is shared and is not
// closed by the shipper.
func NewRedisShipper(client Publisher, channel string) *RedisShipper {
	return &RedisShipper{client: client, channel: channel}
}

// Ship publishes the event
func (rs *RedisShipper) Ship(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := rs.client.Publish(ctx, rs.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", rs.channel, err)
	}
	return nil
}

// Close is a no-op
func (rs *RedisShipper) Close() error {
	return nil
}
