package retryprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telenotify/internal/broker"
	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/internal/retryhistory"
	pkgerrors "telenotify/pkg/errors"
)

const (
	retryTopic     = "alerts.retry"
	schedulerTopic = "scheduler.commands"
	exhaustedTopic = "alerts.retry.exhausted"
	deliveryTopic  = "alerts.delivery"
)

type fixture struct {
	processor *Processor
	repo      *memoryRepository
	cache     *memoryCache
	producer  *recordingProducer
}

func newFixture(t *testing.T, cfg config.RetryConfig) *fixture {
	t.Helper()
	if cfg.SchedulerTopic == "" {
		cfg.SchedulerTopic = schedulerTopic
	}
	f := &fixture{
		repo:     newMemoryRepository(),
		cache:    newMemoryCache(),
		producer: &recordingProducer{},
	}
	p, err := NewProcessor(ProcessorContext{
		ID:           "retry-processor",
		SourceTopics: []string{retryTopic},
		Ledger:       retryhistory.NewLedger(f.repo, "memory", logger.NopLogger()),
		Cache:        f.cache,
		Producer:     f.producer,
		Config:       cfg,
		Logger:       logger.NopLogger(),
	})
	require.NoError(t, err)
	f.processor = p
	return f
}

func envelope(t *testing.T, messageID string, mutate func(*retryhistory.RetryNotificationEvent)) broker.Record {
	t.Helper()
	event := &retryhistory.RetryNotificationEvent{
		MessageID:     messageID,
		CorrelationID: "corr-1",
		RequestID:     "alert-1",
		OriginID:      "sensor-1",
		SourceTopic:   deliveryTopic,
		OriginalEvent: []byte(`{"id":"alert-1"}`),
		RetryRecord: retryhistory.RetryRecord{
			ExceptionClassName: "TimeoutException",
		},
		CreatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(event)
	}
	body, err := JSONCodec{}.EncodeRetryEvent(event)
	require.NoError(t, err)
	return broker.Record{Topic: retryTopic, Key: []byte(event.OriginID), Value: body}
}

func TestProcessSkipsRecordsFromForeignStreams(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})

	rec := envelope(t, "m-1", nil)
	rec.Topic = "alerts.raw"

	require.NoError(t, f.processor.Process(context.Background(), rec))
	assert.Empty(t, f.producer.sent())
	assert.Empty(t, f.cache.handled)
	assert.Zero(t, f.repo.saves)
}

func TestProcessSchedulesWhileBudgetRemains(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		Defaults: config.RetryPolicy{MaxRetryCount: 3, RetryIntervalMs: 5000},
	})

	require.NoError(t, f.processor.Process(context.Background(), envelope(t, "m-1", nil)))

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, schedulerTopic, sent[0].topic)
	assert.Equal(t, "sensor-1", string(sent[0].msg.Key))
	assert.Equal(t, "schedule", sent[0].msg.Headers[constants.HeaderEventKind])
	assert.Equal(t, "1", sent[0].msg.Headers[constants.HeaderRetryCount])
	assert.Equal(t, "corr-1", sent[0].msg.Headers[constants.HeaderCorrelationID])

	var sched retryhistory.ScheduleEvent
	require.NoError(t, json.Unmarshal(sent[0].msg.Value, &sched))
	assert.Equal(t, deliveryTopic, sched.TargetTopic)
	assert.Equal(t, int64(5000), sched.DelayMs)
	assert.Equal(t, "sensor-1", sched.CorrelationKey)
	assert.JSONEq(t, `{"id":"alert-1"}`, string(sched.Payload))

	stored := f.repo.record("alert-1", "TimeoutException")
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, 3, stored.MaxRetryCount)

	pending := f.cache.pending[retryhistory.PendingKey("alert-1", "TimeoutException")]
	assert.Equal(t, 5*time.Second, pending.ttl)
	assert.Equal(t, 1, pending.record.RetryCount)
	assert.True(t, f.cache.isHandled("m-1"))
}

func TestProcessForwardsImmediatelyWithoutInterval(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})

	require.NoError(t, f.processor.Process(context.Background(), envelope(t, "m-1", nil)))

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, deliveryTopic, sent[0].topic)
	assert.JSONEq(t, `{"id":"alert-1"}`, string(sent[0].msg.Value))
	assert.Equal(t, "forward", sent[0].msg.Headers[constants.HeaderEventKind])
	assert.Empty(t, f.cache.pending)
}

func TestProcessExhaustsAtCap(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		ExhaustedTopic: exhaustedTopic,
		Defaults:       config.RetryPolicy{MaxRetryCount: 2},
	})
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-1", nil)))
	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-2", nil)))
	third := envelope(t, "m-3", nil)
	require.NoError(t, f.processor.Process(ctx, third))

	sent := f.producer.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, deliveryTopic, sent[0].topic)
	assert.Equal(t, deliveryTopic, sent[1].topic)
	assert.Equal(t, exhaustedTopic, sent[2].topic)
	assert.Equal(t, third.Value, sent[2].msg.Value)
	assert.Equal(t, "2", sent[2].msg.Headers[constants.HeaderRetryCount])

	stored := f.repo.record("alert-1", "TimeoutException")
	assert.Equal(t, 2, stored.RetryCount)
}

func TestProcessExhaustedWithoutTopicOnlyLogs(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 1}})
	ctx := context.Background()

	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-1", nil)))
	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-2", nil)))

	assert.Len(t, f.producer.sent(), 1)
}

func TestProcessRedeliveryIsNoop(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})
	ctx := context.Background()
	rec := envelope(t, "m-1", nil)

	require.NoError(t, f.processor.Process(ctx, rec))
	require.NoError(t, f.processor.Process(ctx, rec))

	assert.Len(t, f.producer.sent(), 1)
	assert.Equal(t, 1, f.repo.saves)
	assert.Equal(t, 1, f.repo.record("alert-1", "TimeoutException").RetryCount)
}

func TestProcessPublishFailureIsRetriedWithoutRecounting(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 5}})
	f.producer.failures = 1
	ctx := context.Background()
	rec := envelope(t, "m-1", nil)

	err := f.processor.Process(ctx, rec)
	require.Error(t, err)
	assert.Empty(t, f.producer.sent())
	assert.False(t, f.cache.isHandled("m-1"))

	require.NoError(t, f.processor.Process(ctx, rec))
	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "forward", sent[0].msg.Headers[constants.HeaderEventKind])
	assert.Equal(t, 1, f.repo.record("alert-1", "TimeoutException").RetryCount)
	assert.Equal(t, 1, f.repo.saves)
	assert.True(t, f.cache.isHandled("m-1"))
}

func TestProcessRedeliveryAfterCrashBeforePublish(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		ExhaustedTopic: exhaustedTopic,
		Defaults:       config.RetryPolicy{MaxRetryCount: 1, RetryIntervalMs: 2000},
	})
	ctx := context.Background()

	// The first delivery of m-1 got as far as the ledger and then the process died.
	ledger := retryhistory.NewLedger(f.repo, "memory", logger.NopLogger())
	_, advanced, err := ledger.RecordAttempt(ctx, retryhistory.Attempt{
		RequestID: "alert-1",
		MessageID: "m-1",
		Record:    retryhistory.RetryRecord{ExceptionClassName: "TimeoutException", MaxRetryCount: 1, RetryIntervalMs: 2000},
	})
	require.NoError(t, err)
	require.True(t, advanced)

	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-1", nil)))

	sent := f.producer.sent()
	require.Len(t, sent, 1, "the redelivery publishes the lost output")
	assert.Equal(t, schedulerTopic, sent[0].topic)
	assert.Equal(t, 1, f.repo.record("alert-1", "TimeoutException").RetryCount)

	require.NoError(t, f.processor.Process(ctx, envelope(t, "m-2", nil)))
	sent = f.producer.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, exhaustedTopic, sent[1].topic)
}

func TestProcessRepublishedScheduleKeepsItsID(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3, RetryIntervalMs: 1000}})
	f.cache.markErr = errors.New("redis down")
	ctx := context.Background()
	rec := envelope(t, "m-1", nil)

	require.NoError(t, f.processor.Process(ctx, rec), "a failed handled marker is only logged")
	require.NoError(t, f.processor.Process(ctx, rec))

	sent := f.producer.sent()
	require.Len(t, sent, 2)
	var first, second retryhistory.ScheduleEvent
	require.NoError(t, json.Unmarshal(sent[0].msg.Value, &first))
	require.NoError(t, json.Unmarshal(sent[1].msg.Value, &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.repo.record("alert-1", "TimeoutException").RetryCount)
}

func TestProcessHandledLookupErrorIsReturned(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})
	f.cache.handledErr = errors.New("redis down")

	err := f.processor.Process(context.Background(), envelope(t, "m-1", nil))
	require.Error(t, err)
	assert.Zero(t, f.repo.saves)
	assert.Empty(t, f.producer.sent())
}

func TestProcessRejectsMalformedEnvelope(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})

	err := f.processor.Process(context.Background(), broker.Record{Topic: retryTopic, Value: []byte("{not json")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDecode(err))

	err = f.processor.Process(context.Background(), envelope(t, "m-2", func(e *retryhistory.RetryNotificationEvent) {
		e.RetryRecord.ExceptionClassName = ""
	}))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDecode(err))

	err = f.processor.Process(context.Background(), envelope(t, "m-3", func(e *retryhistory.RetryNotificationEvent) {
		e.RequestID = ""
		e.OriginID = ""
	}))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDecode(err))
	assert.Zero(t, f.repo.saves)
}

func TestProcessAppliesExceptionPolicy(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		Defaults: config.RetryPolicy{MaxRetryCount: 3},
		Exceptions: []config.ExceptionPolicy{
			{Name: "TimeoutException", MaxRetryCount: 7, RetryIntervalMs: 250},
		},
	})

	require.NoError(t, f.processor.Process(context.Background(), envelope(t, "m-1", nil)))

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	var sched retryhistory.ScheduleEvent
	require.NoError(t, json.Unmarshal(sent[0].msg.Value, &sched))
	assert.Equal(t, int64(250), sched.DelayMs)
	assert.Equal(t, 7, f.repo.record("alert-1", "TimeoutException").MaxRetryCount)
}

func TestProcessEnvelopeLimitsOverridePolicy(t *testing.T) {
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 3}})

	require.NoError(t, f.processor.Process(context.Background(), envelope(t, "m-1", func(e *retryhistory.RetryNotificationEvent) {
		e.RetryRecord.MaxRetryCount = 9
	})))

	assert.Equal(t, 9, f.repo.record("alert-1", "TimeoutException").MaxRetryCount)
}

func TestProcessWithoutRequestIDCountsPerOrigin(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		ExhaustedTopic: exhaustedTopic,
		Defaults:       config.RetryPolicy{MaxRetryCount: 2, RetryIntervalMs: 1000},
	})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, f.processor.Process(ctx, envelope(t, fmt.Sprintf("m-%d", i), func(e *retryhistory.RetryNotificationEvent) {
			e.RequestID = ""
		})))
	}

	var scheduled, exhausted int
	for _, p := range f.producer.sent() {
		switch p.topic {
		case schedulerTopic:
			scheduled++
		case exhaustedTopic:
			exhausted++
		}
	}
	assert.Equal(t, 2, scheduled)
	assert.Equal(t, 4, exhausted)
	assert.Equal(t, 2, f.repo.record("sensor-1", "TimeoutException").RetryCount)
}

func TestProcessSeedsFromEmbeddedHistory(t *testing.T) {
	f := newFixture(t, config.RetryConfig{
		ExhaustedTopic: exhaustedTopic,
		Defaults:       config.RetryPolicy{MaxRetryCount: 3},
	})

	rec := envelope(t, "m-1", func(e *retryhistory.RetryNotificationEvent) {
		e.RequestID = ""
		e.History = &retryhistory.AlertHistory{
			OriginID: "sensor-1",
			RetryRecords: []retryhistory.RetryRecord{
				{ExceptionClassName: "TimeoutException", MaxRetryCount: 2, RetryCount: 2},
			},
		}
	})

	require.NoError(t, f.processor.Process(context.Background(), rec))

	sent := f.producer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, exhaustedTopic, sent[0].topic)
	assert.Equal(t, 1, f.repo.saves)
	assert.Equal(t, 2, f.repo.record("sensor-1", "TimeoutException").RetryCount)
}

func TestProcessConcurrentEnvelopesRespectTheCap(t *testing.T) {
	const workers = 8
	f := newFixture(t, config.RetryConfig{
		ExhaustedTopic: exhaustedTopic,
		Defaults:       config.RetryPolicy{MaxRetryCount: 3},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		rec := envelope(t, fmt.Sprintf("m-%d", i), nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.processor.Process(ctx, rec)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	var forwarded, exhausted int
	for _, p := range f.producer.sent() {
		switch p.topic {
		case deliveryTopic:
			forwarded++
		case exhaustedTopic:
			exhausted++
		}
	}
	assert.Equal(t, 3, forwarded)
	assert.Equal(t, workers-3, exhausted)
	assert.Equal(t, 3, f.repo.record("alert-1", "TimeoutException").RetryCount)
}

func TestProcessConcurrentRedeliveriesCountOnce(t *testing.T) {
	const workers = 8
	f := newFixture(t, config.RetryConfig{Defaults: config.RetryPolicy{MaxRetryCount: 5}})
	ctx := context.Background()
	rec := envelope(t, "m-1", nil)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.processor.Process(ctx, rec)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.repo.record("alert-1", "TimeoutException").RetryCount)
	assert.Equal(t, 1, f.repo.saves)
	for _, p := range f.producer.sent() {
		assert.Equal(t, deliveryTopic, p.topic)
	}
}

func TestNewProcessorValidatesContext(t *testing.T) {
	ledger := retryhistory.NewLedger(newMemoryRepository(), "memory", logger.NopLogger())

	_, err := NewProcessor(ProcessorContext{SourceTopics: []string{retryTopic}})
	assert.Error(t, err)

	_, err = NewProcessor(ProcessorContext{ID: "p"})
	assert.Error(t, err)

	_, err = NewProcessor(ProcessorContext{ID: "p", SourceTopics: []string{retryTopic}, Ledger: ledger})
	assert.Error(t, err)

	p, err := NewProcessor(ProcessorContext{
		ID:           "p",
		SourceTopics: []string{retryTopic},
		Ledger:       ledger,
		Cache:        newMemoryCache(),
		Producer:     &recordingProducer{},
	})
	require.NoError(t, err)
	assert.Equal(t, "p", p.ID())
	assert.Equal(t, []string{retryTopic}, p.SourceTopics())
}
