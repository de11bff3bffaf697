package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by Redis.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisConfig holds connection and key settings.
type RedisConfig struct {
	Address    string        `yaml:"address" validate:"required"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Prefix     string        `yaml:"prefix"`
	DefaultTTL time.Duration `yaml:"defaultTTL"`
}

// Redis implements Store on a Redis server.
type Redis struct {
	cfg    RedisConfig
	client RedisClient
}

// NewRedis connects to the configured server and verifies it with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache redis %s: ping failed: %w", cfg.Address, err)
	}
	return &Redis{cfg: cfg, client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(cfg RedisConfig, client RedisClient) *Redis {
	return &Redis{cfg: cfg, client: client}
}

// Get returns the value for key or ErrMiss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache redis get: %w", err)
	}
	return val, nil
}

// Set stores value with ttl. A zero ttl uses the configured default; if that
// is also zero the key never expires.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}
	if err := r.client.Set(ctx, r.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("cache redis delete: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) prefixed(key string) string {
	return r.cfg.Prefix + key
}
