package historystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

// RedisStore keeps one JSON document per owner under a prefixed key.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed store. A zero ttl keeps documents forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = SchemaName
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(owner string) string {
	return fmt.Sprintf("%s:%s", s.prefix, owner)
}

// Load reads the owner's snapshot.
func (s *RedisStore) Load(ctx context.Context, owner string) (reconcile.Snapshot, error) {
	payload, err := s.client.Get(ctx, s.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return reconcile.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("load submission history: %w", err)
	}
	return decode(payload)
}

// Save writes the owner's snapshot, replacing any previous one.
func (s *RedisStore) Save(ctx context.Context, owner string, snapshot reconcile.Snapshot) error {
	payload, err := encode(owner, snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(owner), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save submission history: %w", err)
	}
	return nil
}

// Clear removes the owner's snapshot.
func (s *RedisStore) Clear(ctx context.Context, owner string) error {
	if err := s.client.Del(ctx, s.key(owner)).Err(); err != nil {
		return fmt.Errorf("clear submission history: %w", err)
	}
	return nil
}
