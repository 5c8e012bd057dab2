package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Cache wraps the Redis calls the service makes in a circuit breaker. Redis
// only ever accelerates or deduplicates; callers treat every error as "Redis
// is unavailable" and carry on without it.
//
// A nil *Cache is valid and behaves like an empty cache that accepts every
// claim.
type Cache struct {
	rdb    *redis.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewCache(rdb *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{rdb: rdb, logger: logger}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// A miss is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Get returns the value stored under key. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (val string, ok bool, err error) {
	if c == nil {
		return "", false, nil
	}
	val, err = execute(c.cb, func() (string, error) {
		return c.rdb.Get(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	_, err := execute(c.cb, func() (string, error) {
		return c.rdb.Set(ctx, key, val, ttl).Result()
	})
	return err
}

// Claim stores val under key only if the key is absent and reports whether
// this caller won it.
func (c *Cache) Claim(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	if c == nil {
		return true, nil
	}
	return execute(c.cb, func() (bool, error) {
		return c.rdb.SetNX(ctx, key, val, ttl).Result()
	})
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	_, err := execute(c.cb, func() (int64, error) {
		return c.rdb.Del(ctx, keys...).Result()
	})
	return err
}

// Ping reports whether Redis answers, bypassing the breaker.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := res.(T); ok {
			zero = v
		}
		return zero, err
	}
	return res.(T), nil
}
