package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"appointment-chat/internal/domain"
)

const sessionKeyPrefix = "chat:session:"

// RedisCache stores session state as JSON under chat:session:<handle> so it
// outlives a restart. Writes are serialised only by the Machine's in-process
// per-handle lock, so one server process must own a handle at a time.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context, handle string) (*domain.SessionState, error) {
	data, err := c.client.Get(ctx, sessionKeyPrefix+handle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load session: %w", err)
	}
	var st domain.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("redis: decode session: %w", err)
	}
	return &st, nil
}

func (c *RedisCache) Save(ctx context.Context, st *domain.SessionState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, sessionKeyPrefix+st.Handle, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save session: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, handle string) error {
	if err := c.client.Del(ctx, sessionKeyPrefix+handle).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}
