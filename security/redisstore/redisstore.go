// Package redisstore keeps credential cache entries in Redis so that several
// server processes behind one client id share tokens.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/dsp-mcp-go/security"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store. config.Config carries the environment
// bindings for both fields.
type Config struct {
	// Addr like "localhost:6379".
	Addr string
	// KeyPrefix for all keys.
	KeyPrefix string
}

// Store is a security.Store backed by Redis string keys that expire together
// with the credential they hold.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var _ security.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewFromClient(cl, cfg.KeyPrefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(cl redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "dsp-mcp:credentials:"
	}
	return &Store{client: cl, keyPrefix: keyPrefix, now: time.Now}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(k string) string { return s.keyPrefix + k }

func (s *Store) Get(ctx context.Context, key string) (security.Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return security.Entry{}, false, nil
	}
	if err != nil {
		return security.Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var e security.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return security.Entry{}, false, fmt.Errorf("decode credential entry: %w", err)
	}
	return e, true, nil
}

// Put replaces the entry. Entries already past their expiry are not written.
func (s *Store) Put(ctx context.Context, key string, e security.Entry) error {
	ttl := e.Expiry.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode credential entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
