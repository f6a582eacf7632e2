package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the event queue, the rate limiter and
// the health check.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts. addr is either host:port or
// a redis:// (rediss://) URL carrying credentials and a database number.
// No connection is made until the first command.
func NewRedis(addr string) (*Redis, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &Redis{Client: redis.NewClient(opts)}, nil
}

// Addr is the host:port the client dials, without credentials.
func (r *Redis) Addr() string {
	if r == nil || r.Client == nil {
		return ""
	}
	return r.Client.Options().Addr
}

// Ping reports why redis cannot be reached.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis not configured")
	}
	return errors.Wrapf(r.Client.Ping(ctx).Err(), "ping redis at %s", r.Addr())
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
