package retryhistory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"telenotify/internal/constants"
	"telenotify/pkg/circuitbreaker"
)

// Cache holds short-lived retry markers: pending records keyed by request and exception,
// and handled markers for retry envelopes whose output was published. Entries expire on
// their own.
type Cache interface {
	GetPending(ctx context.Context, requestID, exceptionClassName string) (*RetryRecord, error)
	PutPending(ctx context.Context, requestID string, record RetryRecord, ttl time.Duration) error
	// Handled reports whether messageID was marked by MarkHandled and has not expired.
	Handled(ctx context.Context, messageID string) (bool, error)
	MarkHandled(ctx context.Context, messageID string, ttl time.Duration) error
}

func PendingKey(requestID, exceptionClassName string) string {
	return constants.CacheKeyPrefixRetryPending + requestID + ":" + exceptionClassName
}

func HandledKey(messageID string) string {
	return constants.CacheKeyPrefixRetryDone + messageID
}

type RedisCache struct {
	client redis.UniversalClient
	cb     *circuitbreaker.Wrapper
}

// NewRedisCache wraps every call in cb; a nil cb disables breaking.
func NewRedisCache(client redis.UniversalClient, cb *circuitbreaker.Wrapper) *RedisCache {
	return &RedisCache{client: client, cb: cb}
}

func (c *RedisCache) GetPending(ctx context.Context, requestID, exceptionClassName string) (*RetryRecord, error) {
	raw, err := circuitbreaker.Execute(ctx, c.cb, func() ([]byte, error) {
		b, err := c.client.Get(ctx, PendingKey(requestID, exceptionClassName)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("redis GET pending retry failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var record RetryRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt pending retry record: %w", err)
	}
	return &record, nil
}

func (c *RedisCache) PutPending(ctx context.Context, requestID string, record RetryRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode pending retry record: %w", err)
	}

	_, err = circuitbreaker.Execute(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.client.Set(ctx, PendingKey(requestID, record.ExceptionClassName), raw, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis SET pending retry failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Handled(ctx context.Context, messageID string) (bool, error) {
	n, err := circuitbreaker.Execute(ctx, c.cb, func() (int64, error) {
		return c.client.Exists(ctx, HandledKey(messageID)).Result()
	})
	if err != nil {
		return false, fmt.Errorf("redis EXISTS retry handled marker failed: %w", err)
	}
	return n > 0, nil
}

func (c *RedisCache) MarkHandled(ctx context.Context, messageID string, ttl time.Duration) error {
	_, err := circuitbreaker.Execute(ctx, c.cb, func() (struct{}, error) {
		return struct{}{}, c.client.Set(ctx, HandledKey(messageID), time.Now().UnixMilli(), ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis SET retry handled marker failed: %w", err)
	}
	return nil
}
