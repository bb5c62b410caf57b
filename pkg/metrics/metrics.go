package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DedupAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_alerts_total",
			Help: "Total number of alerts evaluated by the deduplication gate (count)",
		},
		[]string{"status"},
	)

	DedupProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_processing_duration_ms",
			Help:    "Duration of a single dedup gate check in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DedupLiveKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_live_keys",
			Help: "Number of live dedup gate entries in the key-value store (count)",
		},
	)

	SuppressedAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suppressed_alerts_total",
			Help: "Total number of alerts held back by a do-not-disturb window (count)",
		},
		[]string{"window_type"},
	)

	RetryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_events_total",
			Help: "Total number of retry envelopes by outcome (count)",
		},
		[]string{"outcome"},
	)

	RetryAttemptsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_recorded_total",
			Help: "Total number of retry attempts recorded in alert histories (count)",
		},
		[]string{"exception"},
	)

	RetryHistorySaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_history_save_duration_ms",
			Help:    "Duration of alert history load+save round trips in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"store", "status"},
	)

	RetryHistoryConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_history_conflicts_total",
			Help: "Total number of alert history saves rejected by a concurrent writer (count)",
		},
		[]string{"store"},
	)

	SkipGateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skip_gate_decisions_total",
			Help: "Total number of topology skip gate evaluations (count)",
		},
		[]string{"processor", "decision", "cached"},
	)

	HandlerRetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handler_retry_attempts_total",
			Help: "Total number of in-process handler retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"topic"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ops_http_rate_limit_requests_total",
			Help: "Total number of ops endpoint requests by rate limit decision (count)",
		},
		[]string{"status"},
	)
)

var (
	sharedOnce sync.Once
	brokerOnce sync.Once
	cbOnce     sync.Once
	httpOnce   sync.Once
)

func registerShared() {
	sharedOnce.Do(func() {
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func RegisterDedupMetrics() {
	prometheus.MustRegister(DedupAlertsTotal)
	prometheus.MustRegister(DedupProcessingDuration)
	prometheus.MustRegister(DedupLiveKeys)
	prometheus.MustRegister(SuppressedAlertsTotal)
	registerShared()
}

func RegisterRetryMetrics() {
	prometheus.MustRegister(RetryEventsTotal)
	prometheus.MustRegister(RetryAttemptsRecorded)
	prometheus.MustRegister(RetryHistorySaveDuration)
	prometheus.MustRegister(RetryHistoryConflictsTotal)
	prometheus.MustRegister(SkipGateDecisionsTotal)
	registerShared()
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(HandlerRetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	cbOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func ObserveDedupDuration(duration time.Duration, status string) {
	DedupProcessingDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetDedupLiveKeys(count int) {
	DedupLiveKeys.Set(float64(count))
}

func IncSuppressed(windowType string) {
	SuppressedAlertsTotal.WithLabelValues(windowType).Inc()
}

func IncRetryOutcome(outcome string) {
	RetryEventsTotal.WithLabelValues(outcome).Inc()
}

func IncRetryAttempt(exception string) {
	RetryAttemptsRecorded.WithLabelValues(exception).Inc()
}

func ObserveHistorySave(store, status string, duration time.Duration) {
	RetryHistorySaveDuration.WithLabelValues(store, status).Observe(float64(duration.Milliseconds()))
}

func IncHistoryConflict(store string) {
	RetryHistoryConflictsTotal.WithLabelValues(store).Inc()
}

func IncSkipGateDecision(processor string, skip, cached bool) {
	decision := "proceed"
	if skip {
		decision = "skip"
	}
	SkipGateDecisionsTotal.WithLabelValues(processor, decision, boolLabel(cached)).Inc()
}

func IncRateLimit(status string) {
	RateLimitRequestsTotal.WithLabelValues(status).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWrite(topic string, duration time.Duration) {
	KafkaMessagesWrittenTotal.WithLabelValues(topic).Inc()
	KafkaWriteDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
