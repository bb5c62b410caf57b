package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository is the key-value contract of the dedup gate. Every write carries a TTL. Apart
// from expiry, an entry is only removed by its own holder through DeleteIfValue.
type Repository interface {
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// PutIfAbsent writes the entry only when no live entry exists and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	// Get returns the marker of a live entry; found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	GetAllKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteIfValue removes key only while it still holds value and reports whether it did.
	DeleteIfValue(ctx context.Context, key string, value string) (bool, error)
}

var deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisRepository struct {
	client redis.UniversalClient
}

func NewRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) PutIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRepository) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET failed: %w", err)
	}
	return value, true, nil
}

func (r *RedisRepository) GetAllKeys(ctx context.Context, pattern string) ([]string, error) {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

func (r *RedisRepository) DeleteIfValue(ctx context.Context, key string, value string) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, r.client, []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete failed: %w", err)
	}
	return n > 0, nil
}
