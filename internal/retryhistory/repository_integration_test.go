//go:build integration

package retryhistory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telenotify/internal/logger"
	"telenotify/internal/retryhistory"
	"telenotify/internal/testinfra"
	pkgerrors "telenotify/pkg/errors"
	"telenotify/pkg/migrations"
)

func exerciseRepository(t *testing.T, repo retryhistory.Repository, store string) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	ledger := retryhistory.NewLedger(repo, store, logger.NopLogger())
	record := retryhistory.RetryRecord{ExceptionClassName: "TimeoutException", MaxRetryCount: 2, RetryIntervalMs: 1000}

	for i, want := range []int{1, 2, 2} {
		history, advanced, err := ledger.UpdateNotificationRetryHistory(ctx, "req-1", record, "vehicle-7")
		require.NoError(t, err)
		assert.Equal(t, i < 2, advanced)
		got, ok := history.Record("TimeoutException")
		require.True(t, ok)
		assert.Equal(t, want, got.RetryCount)
	}

	_, _, err = ledger.UpdateNotificationRetryHistory(ctx, "req-1",
		retryhistory.RetryRecord{ExceptionClassName: "ConnectException", MaxRetryCount: 5}, "vehicle-7")
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", stored.RequestID)
	assert.Equal(t, "vehicle-7", stored.OriginID)
	require.Len(t, stored.RetryRecords, 2)
	assert.Equal(t, "TimeoutException", stored.RetryRecords[0].ExceptionClassName)
	assert.Equal(t, 2, stored.RetryRecords[0].RetryCount)
	assert.Equal(t, int64(1000), stored.RetryRecords[0].RetryIntervalMs)
	assert.Equal(t, 1, stored.RetryRecords[1].RetryCount)
	assert.WithinDuration(t, time.Now(), stored.UpdatedAt, time.Minute)
	assert.Equal(t, int64(4), stored.Version)

	stale := *stored
	stale.Version = 3
	err = repo.Save(ctx, &stale)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))

	fresh := retryhistory.AlertHistory{RequestID: "req-1"}
	err = repo.Save(ctx, &fresh)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err), "creating an existing history conflicts")

	_, _, err = ledger.RecordAttempt(ctx, retryhistory.Attempt{RequestID: "req-2", MessageID: "m-1", Record: record})
	require.NoError(t, err)
	_, _, err = ledger.RecordAttempt(ctx, retryhistory.Attempt{RequestID: "req-2", MessageID: "m-1", Record: record})
	require.NoError(t, err)
	replayed, err := repo.FindByID(ctx, "req-2")
	require.NoError(t, err)
	require.Len(t, replayed.AppliedAttempts, 1)
	assert.Equal(t, "m-1", replayed.AppliedAttempts[0].MessageID)
	assert.Equal(t, 1, replayed.RetryRecords[0].RetryCount)
	assert.Equal(t, int64(1), replayed.Version)

	exerciseConcurrentWriters(t, ledger, repo)
}

func exerciseConcurrentWriters(t *testing.T, ledger *retryhistory.Ledger, repo retryhistory.Repository) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := retryhistory.RetryRecord{ExceptionClassName: fmt.Sprintf("Exception%d", i), MaxRetryCount: 3}
			_, _, errs[i] = ledger.UpdateNotificationRetryHistory(ctx, "req-concurrent", record, "vehicle-7")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored, err := repo.FindByID(ctx, "req-concurrent")
	require.NoError(t, err)
	assert.Len(t, stored.RetryRecords, len(errs))
}

func TestMongoRepository(t *testing.T) {
	exerciseRepository(t, retryhistory.NewMongoRepository(testinfra.Mongo(t)), "mongodb")
}

func TestPostgresRepository(t *testing.T) {
	db := testinfra.Postgres(t)

	version, dirty, err := migrations.PostgresVersion(db)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	exerciseRepository(t, retryhistory.NewPostgresRepository(db), "postgres")
}

func TestRedisCache(t *testing.T) {
	cache := retryhistory.NewRedisCache(testinfra.Redis(t), nil)
	ctx := context.Background()

	pending, err := cache.GetPending(ctx, "req-1", "TimeoutException")
	require.NoError(t, err)
	assert.Nil(t, pending)

	record := retryhistory.RetryRecord{ExceptionClassName: "TimeoutException", MaxRetryCount: 3, RetryCount: 1}
	require.NoError(t, cache.PutPending(ctx, "req-1", record, time.Minute))

	pending, err = cache.GetPending(ctx, "req-1", "TimeoutException")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, record, *pending)

	handled, err := cache.Handled(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, handled)

	require.NoError(t, cache.MarkHandled(ctx, "m-1", time.Second))
	handled, err = cache.Handled(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, handled)

	time.Sleep(1500 * time.Millisecond)
	handled, err = cache.Handled(ctx, "m-1")
	require.NoError(t, err)
	assert.False(t, handled, "handled markers expire")
}
