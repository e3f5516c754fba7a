package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cart not found")

type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (Cart, error)
	Set(ctx context.Context, userID uuid.UUID, c Cart) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

const defaultCartTTL = 30 * 24 * time.Hour

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: defaultCartTTL}
}

func (r *RedisStore) Get(ctx context.Context, userID uuid.UUID) (Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{}, ErrCacheMiss
	}
	if err != nil {
		return Cart{}, fmt.Errorf("redis get failed: %w", err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return c, nil
}

// Set продлевает TTL при каждом сохранении.
func (r *RedisStore) Set(ctx context.Context, userID uuid.UUID, c Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, cacheKey(userID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID uuid.UUID) string {
	return fmt.Sprintf("cart:%s", userID)
}
