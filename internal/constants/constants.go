package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup        = "dedup:"
	CacheKeyPrefixRetryPending = "retry:pending:"
	CacheKeyPrefixRetryDone    = "retry:done:"
)

const (
	DefaultAlertTopic     = "alerts"
	DefaultDeliveryTopic  = "alerts.delivery"
	DefaultRetryTopic     = "alerts.retry"
	DefaultSchedulerTopic = "scheduler.commands"
)

const (
	DefaultDedupInterval   = 5 * time.Minute
	DefaultHandledTTL      = 10 * time.Minute
	DefaultMaxRetryCount   = 3
	DefaultRetryIntervalMs = 60000
)

// Alert history bookkeeping: how many recent envelope ids a history remembers for replay
// detection, and how often a conflicting save is re-read and retried.
const (
	MaxAppliedAttempts     = 64
	HistorySaveMaxAttempts = 10
)

const (
	HistoryStoreMongoDB  = "mongodb"
	HistoryStorePostgres = "postgres"
)

const (
	DefaultMongoDBName          = "telenotify"
	AlertHistoryCollection      = "alert_history"
	DedupLiveKeysRefreshSeconds = 30
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	ServiceNameDedup = "dedup-service"
	ServiceNameRetry = "retry-service"
)

// Kafka header names carried on forwarded and scheduled events.
const (
	HeaderCorrelationID = "correlation_id"
	HeaderRetryCount    = "retry_count"
	HeaderEventKind     = "event_kind"
)
