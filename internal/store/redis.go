package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the go-redis client used for health checks and the retry queue.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis. Timeouts are short: the queue consumer uses its
// own blocking reads and everything else is a quick ping or push.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		MaxRetries:      2,
		MinRetryBackoff: 50 * time.Millisecond,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
