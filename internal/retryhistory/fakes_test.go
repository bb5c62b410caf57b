package retryhistory

import (
	"context"
	"sync"

	pkgerrors "telenotify/pkg/errors"
)

// memoryRepository enforces the same versioned conditional put as the real stores.
type memoryRepository struct {
	mu        sync.Mutex
	histories map[string]AlertHistory
	saves     int
	conflicts int
	findErr   error
	saveErr   error
	// beforeSave runs once per Save with the lock released, letting a test slip in a
	// competing write between a read and the save that follows it.
	beforeSave func()
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{histories: make(map[string]AlertHistory)}
}

func (r *memoryRepository) FindByID(_ context.Context, requestID string) (*AlertHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	h, ok := r.histories[requestID]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return h.clone(), nil
}

func (r *memoryRepository) Save(_ context.Context, history *AlertHistory) error {
	r.mu.Lock()
	hook := r.beforeSave
	r.beforeSave = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}

	stored, exists := r.histories[history.RequestID]
	switch {
	case history.Version == 0 && exists,
		history.Version != 0 && (!exists || stored.Version != history.Version):
		r.conflicts++
		return pkgerrors.ErrConflict
	}

	h := history.clone()
	h.Version = history.Version + 1
	r.histories[history.RequestID] = *h
	history.Version = h.Version
	return nil
}
