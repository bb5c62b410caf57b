package deduplication

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryRepository is a TTL-honouring in-memory Repository driven by a settable clock.
type memoryRepository struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]memoryEntry
	err     error
}

func newMemoryRepository(now time.Time) *memoryRepository {
	return &memoryRepository{now: now, entries: make(map[string]memoryEntry)}
}

func (r *memoryRepository) advance(d time.Duration) {
	r.mu.Lock()
	r.now = r.now.Add(d)
	r.mu.Unlock()
}

func (r *memoryRepository) failWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *memoryRepository) live(key string) (memoryEntry, bool) {
	e, ok := r.entries[key]
	if !ok || !r.now.Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

func (r *memoryRepository) Put(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries[key] = memoryEntry{value: toString(value), expiresAt: r.now.Add(ttl)}
	return nil
}

func (r *memoryRepository) PutIfAbsent(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.live(key); ok {
		return false, nil
	}
	r.entries[key] = memoryEntry{value: toString(value), expiresAt: r.now.Add(ttl)}
	return true, nil
}

func (r *memoryRepository) KeyExists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.live(key)
	return ok, nil
}

func (r *memoryRepository) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", false, r.err
	}
	e, ok := r.live(key)
	return e.value, ok, nil
}

func (r *memoryRepository) GetAllKeys(_ context.Context, pattern string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var keys []string
	for k := range r.entries {
		if _, ok := r.live(k); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (r *memoryRepository) DeleteIfValue(_ context.Context, key string, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	e, ok := r.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(r.entries, key)
	return true, nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
