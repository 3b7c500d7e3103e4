// Package redis implements store.TTLStore on Redis. Every key carries a TTL
// so abandoned ceremonies and elapsed grace aliases need no sweeping.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "tillauth:"

type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to Redis and verifies the connection with a PING.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Challenges() store.Challenges     { return &challengesRepo{s: s} }
func (s *Store) GraceAliases() store.GraceAliases { return &graceRepo{s: s} }

func mapNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return err
}
