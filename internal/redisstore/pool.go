// Package redisstore keeps session ledgers and activity in Redis with key
// expiry, so abandoned sessions age out even when no sweeper runs.
package redisstore

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "dugongwatch:"

// ConnSource hands out connections. *redis.Pool satisfies it.
type ConnSource interface {
	GetContext(ctx context.Context) (redis.Conn, error)
}

// NewPool dials addr lazily and keeps at most maxIdle idle connections.
func NewPool(addr string, maxIdle int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Ping checks that the server is reachable.
func Ping(ctx context.Context, src ConnSource) error {
	conn, err := src.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
