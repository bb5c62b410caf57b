package retryhistory

import (
	"context"
	"time"

	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/errors"
	"telenotify/pkg/metrics"
	"telenotify/pkg/retry"
)

type Ledger struct {
	repo      Repository
	storeName string
	logger    logger.Logger
	now       func() time.Time
}

func NewLedger(repo Repository, storeName string, log logger.Logger) *Ledger {
	return &Ledger{
		repo:      repo,
		storeName: storeName,
		logger:    log,
		now:       time.Now,
	}
}

// UpdateAlertHistoryForRetry records one more attempt for record.ExceptionClassName.
// An unseen exception class is appended with RetryCount 1 and the limits of record; a known
// one is incremented up to its stored MaxRetryCount. It reports whether the count advanced;
// a call at the cap changes nothing and returns false. A MaxRetryCount below 1 is treated
// as 1.
func (l *Ledger) UpdateAlertHistoryForRetry(history *AlertHistory, record RetryRecord) bool {
	for i := range history.RetryRecords {
		existing := &history.RetryRecords[i]
		if existing.ExceptionClassName != record.ExceptionClassName {
			continue
		}
		if existing.RetryCount >= existing.MaxRetryCount {
			return false
		}
		existing.RetryCount++
		metrics.IncRetryAttempt(record.ExceptionClassName)
		return true
	}

	maxRetryCount := record.MaxRetryCount
	if maxRetryCount < 1 {
		maxRetryCount = 1
	}
	history.RetryRecords = append(history.RetryRecords, RetryRecord{
		ExceptionClassName: record.ExceptionClassName,
		MaxRetryCount:      maxRetryCount,
		RetryCount:         1,
		RetryIntervalMs:    record.RetryIntervalMs,
	})
	metrics.IncRetryAttempt(record.ExceptionClassName)
	return true
}

// Attempt is one failed delivery to be counted against the history of RequestID.
type Attempt struct {
	RequestID string
	OriginID  string
	// MessageID identifies the retry envelope; an attempt whose MessageID the history already
	// remembers is a replay and is not counted again. Empty disables replay detection.
	MessageID string
	Record    RetryRecord
	// Seed is the starting history when none is stored yet.
	Seed *AlertHistory
}

// UpdateNotificationRetryHistory applies UpdateAlertHistoryForRetry to the persisted history
// of requestID, creating it when absent, and saves the result.
func (l *Ledger) UpdateNotificationRetryHistory(ctx context.Context, requestID string, record RetryRecord, originID string) (*AlertHistory, bool, error) {
	return l.RecordAttempt(ctx, Attempt{RequestID: requestID, OriginID: originID, Record: record})
}

// RecordAttempt counts attempt against its stored history. Every save is conditional on the
// version that was read, so concurrent writers for one request never lose each other's
// records; a writer that loses the race re-reads and applies its attempt again. Save runs on
// every fresh attempt, also when the count is already at its cap. A replayed MessageID
// returns the stored history and the outcome it had the first time, without saving.
func (l *Ledger) RecordAttempt(ctx context.Context, attempt Attempt) (*AlertHistory, bool, error) {
	start := time.Now()

	var (
		saved    *AlertHistory
		advanced bool
	)
	err := retry.RetryWithCallback(ctx, conflictPolicy, func() error {
		history, err := l.load(ctx, attempt)
		if err != nil {
			return retry.NewFatalError(err)
		}

		if applied, ok := history.Applied(attempt.MessageID); ok {
			saved, advanced = history, applied.Advanced
			return nil
		}

		adv := l.UpdateAlertHistoryForRetry(history, attempt.Record)
		if attempt.MessageID != "" {
			history.AppliedAttempts = appendApplied(history.AppliedAttempts, AppliedAttempt{
				MessageID:          attempt.MessageID,
				ExceptionClassName: attempt.Record.ExceptionClassName,
				Advanced:           adv,
			})
		}
		history.UpdatedAt = l.now()

		if err := l.repo.Save(ctx, history); err != nil {
			if errors.IsConflict(err) {
				return err
			}
			return retry.NewFatalError(err)
		}
		saved, advanced = history, adv
		return nil
	}, func(n int, err error, _ time.Duration) {
		metrics.IncHistoryConflict(l.storeName)
		l.logger.DebugwCtx(ctx, "Alert history changed concurrently, retrying",
			"request_id", attempt.RequestID,
			"attempt", n,
		)
	})
	if err != nil {
		metrics.ObserveHistorySave(l.storeName, "error", time.Since(start))
		return nil, false, err
	}

	metrics.ObserveHistorySave(l.storeName, "ok", time.Since(start))
	return saved, advanced, nil
}

var conflictPolicy = retry.Policy{
	MaxAttempts:     constants.HistorySaveMaxAttempts,
	InitialInterval: 5 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
	Multiplier:      2.0,
}

func (l *Ledger) load(ctx context.Context, attempt Attempt) (*AlertHistory, error) {
	history, err := l.repo.FindByID(ctx, attempt.RequestID)
	if err == nil {
		if history.OriginID == "" {
			history.OriginID = attempt.OriginID
		}
		return history, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	l.logger.DebugwCtx(ctx, "No alert history yet, starting one", "request_id", attempt.RequestID)
	history = &AlertHistory{}
	if attempt.Seed != nil {
		history = attempt.Seed.clone()
	}
	history.RequestID = attempt.RequestID
	history.Version = 0
	if history.OriginID == "" {
		history.OriginID = attempt.OriginID
	}
	return history, nil
}

func appendApplied(applied []AppliedAttempt, a AppliedAttempt) []AppliedAttempt {
	applied = append(applied, a)
	if n := len(applied) - constants.MaxAppliedAttempts; n > 0 {
		applied = append([]AppliedAttempt(nil), applied[n:]...)
	}
	return applied
}
