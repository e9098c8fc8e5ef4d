// Package redis is a thin wrapper over go-redis/v9 used anywhere this
// module wants to publish activity to Redis — currently
// pkg/metrics/redissink's call-completion sink. It exists so call sites
// don't each construct and Ping their own *redis.Client.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the handful of operations this
// module's Redis-backed components need: hash field writes paired with
// a pub/sub notification, plain subscribe, and clean close.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a Client and verifies the server is reachable before
// returning.
func New(addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect to %s: %w", addr, err)
	}

	return &Client{client: client, ctx: ctx}, nil
}

// WriteAndPublish sets field in the hash at key and publishes
// "field:value" on a channel of the same name, in a single pipelined
// round trip.
func (c *Client) WriteAndPublish(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// Subscribe subscribes to a Redis channel and returns a channel for
// incoming messages plus a function to unsubscribe and release it.
func (c *Client) Subscribe(channel string) (<-chan *redis.Message, func()) {
	pubsub := c.client.Subscribe(c.ctx, channel)
	ch := pubsub.Channel()
	return ch, func() { pubsub.Close() }
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
