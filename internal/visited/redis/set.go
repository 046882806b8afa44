// Package redisvisited backs the shared visited set with a Redis SET so every
// crawler instance sees the same attempted URLs.
package redisvisited

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultKey is the Redis key used when none is configured.
const DefaultKey = "crawler:visited"

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Set implements crawler.VisitedSet on SISMEMBER/SADD.
type Set struct {
	client *redis.Client
	key    string
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config) (*Set, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, cfg.Key), nil
}

// New wraps an existing client.
func New(client *redis.Client, key string) *Set {
	if key == "" {
		key = DefaultKey
	}
	return &Set{client: client, key: key}
}

// Contains reports whether url is a member of the set.
func (s *Set) Contains(ctx context.Context, url string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, url).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Add inserts url into the set.
func (s *Set) Add(ctx context.Context, url string) error {
	if err := s.client.SAdd(ctx, s.key, url).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Set) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
