package deduplication

import (
	"context"
	"time"

	"telenotify/internal/config"
	"telenotify/pkg/circuitbreaker"
)

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromSettings("redis-dedup", cfg)),
	}
}

func (r *CircuitBreakerRepository) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	_, err := circuitbreaker.Execute(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.repo.Put(ctx, key, value, ttl)
	})
	return err
}

func (r *CircuitBreakerRepository) PutIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return circuitbreaker.Execute(ctx, r.cb, func() (bool, error) {
		return r.repo.PutIfAbsent(ctx, key, value, ttl)
	})
}

func (r *CircuitBreakerRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	return circuitbreaker.Execute(ctx, r.cb, func() (bool, error) {
		return r.repo.KeyExists(ctx, key)
	})
}

type marker struct {
	value string
	found bool
}

func (r *CircuitBreakerRepository) Get(ctx context.Context, key string) (string, bool, error) {
	m, err := circuitbreaker.Execute(ctx, r.cb, func() (marker, error) {
		value, found, err := r.repo.Get(ctx, key)
		return marker{value: value, found: found}, err
	})
	return m.value, m.found, err
}

func (r *CircuitBreakerRepository) GetAllKeys(ctx context.Context, pattern string) ([]string, error) {
	return circuitbreaker.Execute(ctx, r.cb, func() ([]string, error) {
		return r.repo.GetAllKeys(ctx, pattern)
	})
}

func (r *CircuitBreakerRepository) DeleteIfValue(ctx context.Context, key string, value string) (bool, error) {
	return circuitbreaker.Execute(ctx, r.cb, func() (bool, error) {
		return r.repo.DeleteIfValue(ctx, key, value)
	})
}

func (r *CircuitBreakerRepository) State() string {
	return r.cb.State()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	return r.cb.IsOpen()
}
