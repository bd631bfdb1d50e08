// Package redis provides a Redis-backed status.Store for deployments where
// the gateway's status rows are read by other services.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/wirebind/sessiond/status"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: STATUS_KEY_PREFIX
	KeyPrefix string `env:"STATUS_KEY_PREFIX,default=sessiond:status:"`
}

// Store implements status.Store on a Redis string key per tenant.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sessiond:status:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(tenantID string) string { return s.keyPrefix + tenantID }

func (s *Store) SetStatus(ctx context.Context, tenantID, value string, updatedAt time.Time) error {
	rec := status.Record{TenantID: tenantID, Value: value, UpdatedAt: updatedAt.UTC()}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tenantID), b, 0).Err(); err != nil {
		return fmt.Errorf("set status for %s: %w", tenantID, err)
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, tenantID string) (*status.Record, error) {
	res := s.client.Get(ctx, s.key(tenantID))
	if err := res.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get status for %s: %w", tenantID, err)
	}
	var rec status.Record
	if err := json.Unmarshal([]byte(res.Val()), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal status record: %w", err)
	}
	return &rec, nil
}

func (s *Store) ClearStatus(ctx context.Context, tenantID string) error {
	if err := s.client.Del(ctx, s.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("clear status for %s: %w", tenantID, err)
	}
	return nil
}
