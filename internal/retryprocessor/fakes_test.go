package retryprocessor

import (
	"context"
	"errors"
	"sync"
	"time"

	"telenotify/internal/broker"
	"telenotify/internal/retryhistory"
	pkgerrors "telenotify/pkg/errors"
)

// memoryRepository enforces the versioned conditional put of the real stores.
type memoryRepository struct {
	mu        sync.Mutex
	histories map[string]retryhistory.AlertHistory
	saves     int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{histories: make(map[string]retryhistory.AlertHistory)}
}

func copyHistory(h retryhistory.AlertHistory) *retryhistory.AlertHistory {
	h.RetryRecords = append([]retryhistory.RetryRecord(nil), h.RetryRecords...)
	h.AppliedAttempts = append([]retryhistory.AppliedAttempt(nil), h.AppliedAttempts...)
	return &h
}

func (r *memoryRepository) FindByID(_ context.Context, requestID string) (*retryhistory.AlertHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[requestID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return copyHistory(h), nil
}

func (r *memoryRepository) Save(_ context.Context, history *retryhistory.AlertHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.histories[history.RequestID]
	if (history.Version == 0 && exists) || (history.Version != 0 && stored.Version != history.Version) {
		return pkgerrors.ErrConflict
	}
	r.saves++
	h := copyHistory(*history)
	h.Version = history.Version + 1
	r.histories[history.RequestID] = *h
	history.Version = h.Version
	return nil
}

func (r *memoryRepository) record(requestID, exception string) retryhistory.RetryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.histories[requestID]
	rec, _ := h.Record(exception)
	return rec
}

type pendingEntry struct {
	record retryhistory.RetryRecord
	ttl    time.Duration
}

type memoryCache struct {
	mu         sync.Mutex
	pending    map[string]pendingEntry
	handled    map[string]bool
	handledErr error
	markErr    error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		pending: make(map[string]pendingEntry),
		handled: make(map[string]bool),
	}
}

func (c *memoryCache) GetPending(_ context.Context, requestID, exception string) (*retryhistory.RetryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[retryhistory.PendingKey(requestID, exception)]
	if !ok {
		return nil, nil
	}
	rec := e.record
	return &rec, nil
}

func (c *memoryCache) PutPending(_ context.Context, requestID string, record retryhistory.RetryRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[retryhistory.PendingKey(requestID, record.ExceptionClassName)] = pendingEntry{record: record, ttl: ttl}
	return nil
}

func (c *memoryCache) Handled(_ context.Context, messageID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handledErr != nil {
		return false, c.handledErr
	}
	return c.handled[messageID], nil
}

func (c *memoryCache) MarkHandled(_ context.Context, messageID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markErr != nil {
		return c.markErr
	}
	c.handled[messageID] = true
	return nil
}

func (c *memoryCache) isHandled(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handled[messageID]
}

type published struct {
	topic string
	msg   broker.Message
}

type recordingProducer struct {
	mu       sync.Mutex
	messages []published
	failures int
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, published{topic: topic, msg: msg})
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}
