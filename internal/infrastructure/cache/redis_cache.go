package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Config holds the Redis connection settings shared by the model cache and
// the training lock
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" validate:"min=0"`
	ModelTTL     time.Duration `yaml:"model_ttl"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns Redis settings with caching disabled
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		ModelTTL:     10 * time.Minute,
		LockTTL:      15 * time.Minute,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Breaker:      DefaultBreakerConfig(),
	}
}

// NewClient opens a Redis client and verifies the connection
func NewClient(ctx context.Context, config Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return rdb, nil
}

// ModelCache keeps serialized model payloads in Redis behind a circuit breaker.
// While the breaker is open every call fails fast and callers fall back to
// the database.
type ModelCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewModelCache wraps a Redis client. A zero ttl keeps entries until deleted.
func NewModelCache(client redis.Cmdable, ttl time.Duration, breaker BreakerConfig) *ModelCache {
	return &ModelCache{
		client:  client,
		ttl:     ttl,
		breaker: NewBreaker("model_cache", breaker),
	}
}

// Get retrieves a value from cache
func (c *ModelCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		val, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	val, _ := result.([]byte)
	if val == nil {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value in cache with the configured TTL
func (c *ModelCache) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, value, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key from cache
func (c *ModelCache) Delete(ctx context.Context, key string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// BreakerState reports the circuit state, for health output
func (c *ModelCache) BreakerState() string {
	return c.breaker.State().String()
}
