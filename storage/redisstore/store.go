// Package redisstore keeps each session namespace in a Redis hash, for web servers running
// several instances behind one load balancer.
package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-dashboard/core/session"
)

const keyPrefix = "masomo:session:"

type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an idle namespace survives; 0 keeps it forever.
	TTL time.Duration
}

// Client opens namespace Stores on one Redis connection pool.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return &Client{rdb: rdb, ttl: opts.TTL}, nil
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{rdb: rdb, ttl: ttl}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Store opens the Store of namespace.
func (c *Client) Store(namespace string) (session.Store, error) {
	if namespace == "" {
		return nil, errors.New("redisstore: empty namespace")
	}
	return &store{client: c, key: keyPrefix + namespace}, nil
}

type store struct {
	client *Client
	key    string
}

var _ session.Store = (*store)(nil) // interface compliance check

func (s *store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.rdb.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "redis HGET")
	}
	return val, nil
}

func (s *store) Set(ctx context.Context, key, value string) error {
	pipe := s.client.rdb.TxPipeline()
	pipe.HSet(ctx, s.key, key, value)
	if s.client.ttl > 0 {
		pipe.Expire(ctx, s.key, s.client.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis HSET")
	}
	return nil
}

func (s *store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.rdb.HDel(ctx, s.key, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis HDEL")
	}
	return nil
}

func (s *store) Clear(ctx context.Context) error {
	if err := s.client.rdb.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "redis DEL")
	}
	return nil
}
