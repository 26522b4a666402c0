package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lazypower/foresight/internal/models"
)

// RedisOptions configures a Redis fast tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis is a fast tier backed by a Redis server.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the server described by opts and verifies it answers.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(client, opts.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

// Get returns the cached item, or nil if absent.
func (r *Redis) Get(ctx context.Context, id string) (*models.Content, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	return decode(data)
}

// SetWithTTL writes c. SET replaces both value and expiry, so repeating it
// only refreshes the TTL.
func (r *Redis) SetWithTTL(ctx context.Context, c *models.Content, ttl time.Duration) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(c.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes id.
func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// TTL reports the remaining lifetime of id's entry.
func (r *Redis) TTL(ctx context.Context, id string) (time.Duration, error) {
	return r.client.TTL(ctx, r.key(id)).Result()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
