// Package redis wraps the go-redis client used by the driver presence
// registry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farepact/farepact/pkg/config"
)

// Client wraps the Redis client with the helpers the presence registry needs.
type Client struct {
	*redis.Client
}

// NewClient connects and pings Redis.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// GeoSet adds or updates a member's position in a geospatial index.
func (c *Client) GeoSet(ctx context.Context, key string, longitude, latitude float64, member string) error {
	return c.GeoAdd(ctx, key, &redis.GeoLocation{
		Longitude: longitude,
		Latitude:  latitude,
		Name:      member,
	}).Err()
}

// GeoRemove deletes a member from a geospatial index.
func (c *Client) GeoRemove(ctx context.Context, key, member string) error {
	return c.ZRem(ctx, key, member).Err()
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.Client.Close()
}
