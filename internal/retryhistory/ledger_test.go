package retryhistory

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telenotify/internal/constants"
	"telenotify/internal/logger"
	pkgerrors "telenotify/pkg/errors"
	"telenotify/pkg/models"
)

const (
	socketTimeout = "java.net.SocketTimeoutException"
	gatewayDown   = "SmsGatewayUnavailableException"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestLedger(repo Repository) *Ledger {
	l := NewLedger(repo, "memory", logger.NopLogger())
	l.now = func() time.Time { return epoch }
	return l
}

func TestUpdateAlertHistoryForRetry(t *testing.T) {
	l := newTestLedger(nil)

	t.Run("new exception on empty history", func(t *testing.T) {
		h := &AlertHistory{RequestID: "r-1"}
		advanced := l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3, RetryIntervalMs: 500})

		assert.True(t, advanced)
		require.Len(t, h.RetryRecords, 1)
		assert.Equal(t, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3, RetryCount: 1, RetryIntervalMs: 500}, h.RetryRecords[0])
	})

	t.Run("counts plateau at the cap", func(t *testing.T) {
		h := &AlertHistory{RequestID: "r-1"}
		record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}

		var counts []int
		var advanced []bool
		for i := 0; i < 4; i++ {
			advanced = append(advanced, l.UpdateAlertHistoryForRetry(h, record))
			counts = append(counts, h.RetryRecords[0].RetryCount)
		}

		assert.Equal(t, []int{1, 2, 2, 2}, counts)
		assert.Equal(t, []bool{true, true, false, false}, advanced)
		assert.Len(t, h.RetryRecords, 1)
	})

	t.Run("different exception appends without touching the first", func(t *testing.T) {
		h := &AlertHistory{RequestID: "r-1"}
		l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3})
		l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3})
		before := h.RetryRecords[0]

		assert.True(t, l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: gatewayDown, MaxRetryCount: 5}))

		require.Len(t, h.RetryRecords, 2)
		assert.Equal(t, before, h.RetryRecords[0])
		assert.Equal(t, gatewayDown, h.RetryRecords[1].ExceptionClassName)
		assert.Equal(t, 1, h.RetryRecords[1].RetryCount)
	})

	t.Run("matching is exact", func(t *testing.T) {
		h := &AlertHistory{RequestID: "r-1"}
		l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3})
		l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: "java.net.sockettimeoutexception", MaxRetryCount: 3})
		assert.Len(t, h.RetryRecords, 2)
	})

	t.Run("zero cap is treated as one", func(t *testing.T) {
		h := &AlertHistory{RequestID: "r-1"}
		assert.True(t, l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout}))
		assert.False(t, l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: socketTimeout}))
		assert.Equal(t, RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 1, RetryCount: 1}, h.RetryRecords[0])
	})
}

func TestUpdateAlertHistoryForRetryInvariant(t *testing.T) {
	l := newTestLedger(nil)
	h := &AlertHistory{RequestID: "r-1"}
	exceptions := []string{socketTimeout, gatewayDown, socketTimeout, "IOException", gatewayDown, socketTimeout}

	last := map[string]int{}
	for round := 0; round < 10; round++ {
		for _, ex := range exceptions {
			l.UpdateAlertHistoryForRetry(h, RetryRecord{ExceptionClassName: ex, MaxRetryCount: 4})
			r, ok := h.Record(ex)
			require.True(t, ok)
			assert.GreaterOrEqual(t, r.RetryCount, last[ex], "count never decreases")
			assert.LessOrEqual(t, r.RetryCount, r.MaxRetryCount, "count never exceeds the cap")
			assert.Greater(t, r.RetryCount, 0)
			last[ex] = r.RetryCount
		}
	}
	assert.Len(t, h.RetryRecords, 3)
}

func TestUpdateNotificationRetryHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("absent history is created and saved", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)

		h, advanced, err := l.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}, "VIN-1")
		require.NoError(t, err)
		assert.True(t, advanced)
		assert.Equal(t, "r-1", h.RequestID)
		assert.Equal(t, "VIN-1", h.OriginID)
		assert.Equal(t, epoch, h.UpdatedAt)
		require.Len(t, h.RetryRecords, 1)
		assert.Equal(t, 1, h.RetryRecords[0].RetryCount)
		assert.Equal(t, 1, repo.saves)
	})

	t.Run("save runs on every call including at the cap", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)
		record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}

		var counts []int
		for i := 0; i < 4; i++ {
			h, _, err := l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
			require.NoError(t, err)
			counts = append(counts, h.RetryRecords[0].RetryCount)
		}

		assert.Equal(t, []int{1, 2, 2, 2}, counts)
		assert.Equal(t, 4, repo.saves)
		stored, err := repo.FindByID(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.RetryRecords[0].RetryCount)
	})

	t.Run("repository errors propagate", func(t *testing.T) {
		repo := newMemoryRepository()
		repo.findErr = stderrors.New("server selection timeout")
		l := newTestLedger(repo)

		_, _, err := l.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}, "VIN-1")
		require.Error(t, err)
		assert.Equal(t, 0, repo.saves)

		repo.findErr = nil
		repo.saveErr = stderrors.New("write concern error")
		_, _, err = l.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}, "VIN-1")
		assert.ErrorIs(t, err, repo.saveErr)
	})
}

func TestRecordAttemptConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("a competing write is re-read and kept", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)
		other := newTestLedger(repo)

		repo.beforeSave = func() {
			_, _, err := other.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: gatewayDown, MaxRetryCount: 3}, "VIN-1")
			require.NoError(t, err)
		}

		h, advanced, err := l.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3}, "VIN-1")
		require.NoError(t, err)
		assert.True(t, advanced)
		assert.Equal(t, 1, repo.conflicts)

		stored, err := repo.FindByID(ctx, "r-1")
		require.NoError(t, err)
		require.Len(t, stored.RetryRecords, 2)
		assert.Equal(t, gatewayDown, stored.RetryRecords[0].ExceptionClassName)
		assert.Equal(t, socketTimeout, stored.RetryRecords[1].ExceptionClassName)
		assert.Equal(t, int64(2), stored.Version)
		assert.Equal(t, stored.Version, h.Version)
	})

	t.Run("a lost race at the cap does not advance", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)
		record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}

		_, _, err := l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
		require.NoError(t, err)

		repo.beforeSave = func() {
			_, advanced, err := l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
			require.NoError(t, err)
			require.True(t, advanced)
		}

		h, advanced, err := l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
		require.NoError(t, err)
		assert.False(t, advanced, "the competing writer took the last slot")
		assert.Equal(t, 2, h.RetryRecords[0].RetryCount)
	})

	t.Run("persistent conflicts give up", func(t *testing.T) {
		repo := newMemoryRepository()
		repo.saveErr = pkgerrors.ErrConflict
		l := newTestLedger(repo)

		_, _, err := l.UpdateNotificationRetryHistory(ctx, "r-1", RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}, "VIN-1")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsConflict(err))
		assert.Equal(t, constants.HistorySaveMaxAttempts, repo.saves)
	})
}

func TestRecordAttemptReplay(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	l := newTestLedger(repo)
	record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 1}

	h, advanced, err := l.RecordAttempt(ctx, Attempt{RequestID: "r-1", MessageID: "m-1", Record: record})
	require.NoError(t, err)
	require.True(t, advanced)
	require.Equal(t, 1, repo.saves)

	h, advanced, err = l.RecordAttempt(ctx, Attempt{RequestID: "r-1", MessageID: "m-1", Record: record})
	require.NoError(t, err)
	assert.True(t, advanced, "a replay reports the first outcome")
	assert.Equal(t, 1, h.RetryRecords[0].RetryCount)
	assert.Equal(t, 1, repo.saves, "a replay writes nothing")

	_, advanced, err = l.RecordAttempt(ctx, Attempt{RequestID: "r-1", MessageID: "m-2", Record: record})
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestRecordAttemptAppliedListIsBounded(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	l := newTestLedger(repo)
	record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 1}

	for i := 0; i < constants.MaxAppliedAttempts+5; i++ {
		_, _, err := l.RecordAttempt(ctx, Attempt{RequestID: "r-1", MessageID: fmt.Sprintf("m-%d", i), Record: record})
		require.NoError(t, err)
	}

	stored, err := repo.FindByID(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, stored.AppliedAttempts, constants.MaxAppliedAttempts)
	assert.Equal(t, "m-5", stored.AppliedAttempts[0].MessageID)
}

func TestRecordAttemptSeed(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	l := newTestLedger(repo)

	seed := &AlertHistory{
		RequestID:    "ignored",
		OriginID:     "VIN-1",
		Version:      7,
		RetryRecords: []RetryRecord{{ExceptionClassName: socketTimeout, MaxRetryCount: 3, RetryCount: 2}},
	}

	h, advanced, err := l.RecordAttempt(ctx, Attempt{
		RequestID: "VIN-1",
		Record:    RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3},
		Seed:      seed,
	})
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, "VIN-1", h.RequestID)
	assert.Equal(t, 3, h.RetryRecords[0].RetryCount)
	assert.Equal(t, int64(1), h.Version)
	assert.Equal(t, 2, seed.RetryRecords[0].RetryCount, "the seed is not modified")

	_, advanced, err = l.RecordAttempt(ctx, Attempt{
		RequestID: "VIN-1",
		Record:    RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3},
		Seed:      seed,
	})
	require.NoError(t, err)
	assert.False(t, advanced, "once stored, the seed is ignored")
}

func TestUpdateNotificationRetryHistoryConcurrently(t *testing.T) {
	ctx := context.Background()
	const workers = 8

	t.Run("distinct exceptions are all kept", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				record := RetryRecord{ExceptionClassName: fmt.Sprintf("Exception%d", i), MaxRetryCount: 3}
				_, _, errs[i] = l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		stored, err := repo.FindByID(ctx, "r-1")
		require.NoError(t, err)
		assert.Len(t, stored.RetryRecords, workers)
		assert.Equal(t, int64(workers), stored.Version)
	})

	t.Run("one exception advances exactly up to the cap", func(t *testing.T) {
		repo := newMemoryRepository()
		l := newTestLedger(repo)
		record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 2}

		var (
			wg       sync.WaitGroup
			advanced int32
		)
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := l.UpdateNotificationRetryHistory(ctx, "r-1", record, "VIN-1")
				errs[i] = err
				if ok {
					atomic.AddInt32(&advanced, 1)
				}
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, int32(2), advanced)
		stored, err := repo.FindByID(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.RetryRecords[0].RetryCount)
	})
}

func TestCreateRetryNotificationEvent(t *testing.T) {
	l := newTestLedger(nil)
	alert := *models.NewAlertEventBuilder().
		WithID("a-1").
		WithOrigin("VIN-1").
		WithEventType("SPEED_ALERT").
		WithTimestamp(epoch).
		WithField("speed", 132.0).
		WithVersion("v2").
		Build()
	record := RetryRecord{ExceptionClassName: socketTimeout, MaxRetryCount: 3, RetryIntervalMs: 1000}

	first, err := l.CreateRetryNotificationEvent(alert, record, "alerts.delivery")
	require.NoError(t, err)
	second, err := l.CreateRetryNotificationEvent(alert, record, "alerts.delivery")
	require.NoError(t, err)

	assert.NotEmpty(t, first.MessageID)
	assert.NotEqual(t, first.MessageID, second.MessageID)
	assert.Equal(t, "a-1", first.CorrelationID, "falls back to the alert id")
	assert.Equal(t, "v2", first.Version)
	assert.Equal(t, "a-1", first.RequestID)
	assert.Equal(t, "VIN-1", first.OriginID)
	assert.Equal(t, "alerts.delivery", first.SourceTopic)
	assert.Equal(t, record, first.RetryRecord)
	assert.Equal(t, epoch, first.CreatedAt)

	var decoded models.AlertEvent
	require.NoError(t, json.Unmarshal(first.OriginalEvent, &decoded))
	assert.Equal(t, alert.ID, decoded.ID)
	assert.Equal(t, 132.0, decoded.Payload["speed"])

	alert.Metadata.CorrelationID = "corr-9"
	withCorrelation, err := l.CreateRetryNotificationEvent(alert, record, "alerts.delivery")
	require.NoError(t, err)
	assert.Equal(t, "corr-9", withCorrelation.CorrelationID)
}

func TestCreateCreateScheduleEvent(t *testing.T) {
	l := newTestLedger(nil)
	payload := []byte(`{"id":"a-1"}`)

	ev := l.CreateCreateScheduleEvent("VIN-1", payload, 1500*time.Millisecond, "alerts.delivery")

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "VIN-1", ev.CorrelationKey)
	assert.Equal(t, int64(1500), ev.DelayMs)
	assert.Equal(t, "alerts.delivery", ev.TargetTopic)
	assert.Equal(t, payload, ev.Payload)
	assert.Equal(t, epoch, ev.CreatedAt)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), ev.FireAt)
}
