package deduplication

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/metrics"
	"telenotify/pkg/models"
	"telenotify/pkg/tracing"
)

// Service gates alerts against the shared key-value store. The first alert for a key is
// accepted and opens a window of length interval; every alert with the same key arriving
// while the entry is live is dropped, including a resend of the accepted alert itself.
// Dropped alerts never extend the window.
//
// The entry holds the id of the accepted alert so that Release can hand the window back when
// the accepted alert could not be forwarded.
type Service struct {
	repo         Repository
	extractor    *KeyExtractor
	interval     time.Duration
	onStoreError string
	logger       logger.Logger
	now          func() time.Time

	liveKeysMu     sync.Mutex
	cancelLiveKeys context.CancelFunc
	liveKeysDone   chan struct{}
}

func NewService(repo Repository, extractor *KeyExtractor, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	interval := cfg.Interval
	if interval <= 0 {
		interval = constants.DefaultDedupInterval
	}

	if len(extractor.PayloadFields()) == 0 {
		log.Infow("No payload fields configured, dedup key uses event type and origin only")
	}

	return &Service{
		repo:         repo,
		extractor:    extractor,
		interval:     interval,
		onStoreError: strings.ToLower(cfg.OnStoreError),
		logger:       log,
		now:          time.Now,
	}
}

// Process reports whether alert is the first occurrence of its key within the interval.
func (s *Service) Process(ctx context.Context, alert models.AlertEvent) (bool, error) {
	_, unique, err := s.admit(ctx, alert)
	return unique, err
}

// FilterDuplicateAlert returns, in input order, the alerts that passed the gate. Returned
// alerts are copies carrying the dedup decision in their metadata. Alerts without a usable
// key are skipped. On a store error the alerts accepted so far are returned with the error.
func (s *Service) FilterDuplicateAlert(ctx context.Context, alerts []models.AlertEvent) ([]models.AlertEvent, error) {
	accepted := make([]models.AlertEvent, 0, len(alerts))

	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}

		key, unique, err := s.admit(ctx, alert)
		if err != nil {
			if key == "" {
				s.logger.WarnwCtx(ctx, "Skipping alert without dedup key",
					"alert_id", alert.ID,
					"error", err,
				)
				continue
			}
			return accepted, err
		}
		if !unique {
			continue
		}

		out := alert.Clone()
		out.Metadata.Deduplication = &models.DeduplicationInfo{
			IsUnique:  true,
			Key:       key,
			CheckedAt: s.now(),
		}
		accepted = append(accepted, out)
	}

	return accepted, nil
}

// admit returns the derived key (empty when none could be derived) and the gate decision.
func (s *Service) admit(ctx context.Context, alert models.AlertEvent) (string, bool, error) {
	ctx, span := tracing.GetTracer(constants.ServiceNameDedup).Start(ctx, "deduplication.process")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	key, err := s.extractor.Extract(alert)
	if err != nil {
		metrics.DedupAlertsTotal.WithLabelValues("invalid").Inc()
		return "", false, err
	}

	start := time.Now()
	unique, err := s.repo.PutIfAbsent(ctx, key, alert.ID, s.interval)
	duration := time.Since(start)

	if err != nil {
		unique, err = s.handleStoreError(ctx, err, duration, alert.ID)
		return key, unique, err
	}

	s.recordMetrics(duration, unique)
	return key, unique, nil
}

// Release drops the entry opened by alert so that a redelivery of it can pass again. Entries
// held by another alert, or already expired, are left alone.
func (s *Service) Release(ctx context.Context, alert models.AlertEvent) error {
	if alert.Metadata.Deduplication == nil || alert.Metadata.Deduplication.Key == "" {
		return nil
	}
	key := alert.Metadata.Deduplication.Key

	released, err := s.repo.DeleteIfValue(ctx, key, alert.ID)
	if err != nil {
		return fmt.Errorf("release dedup entry for alert %s: %w", alert.ID, err)
	}
	if released {
		metrics.DedupAlertsTotal.WithLabelValues("released").Inc()
	}
	return nil
}

func (s *Service) handleStoreError(ctx context.Context, err error, duration time.Duration, alertID string) (bool, error) {
	s.recordMetricsWithStatus(duration, "error")

	if s.onStoreError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
		s.logger.WarnwCtx(ctx, "Store error during dedup check, allowing alert (fallback: allow)",
			"alert_id", alertID,
			"error", err,
		)
		return true, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error").Inc()
	return false, fmt.Errorf("store error during dedup check for alert %s: %w", alertID, err)
}

func (s *Service) recordMetrics(duration time.Duration, isUnique bool) {
	status := "duplicate"
	if isUnique {
		status = "unique"
	}
	s.recordMetricsWithStatus(duration, status)
}

func (s *Service) recordMetricsWithStatus(duration time.Duration, status string) {
	metrics.DedupAlertsTotal.WithLabelValues(status).Inc()
	metrics.ObserveDedupDuration(duration, status)
}

// UpdatePayloadFields swaps the payload fields used for key derivation. Keys written
// before the swap stay live until they expire but no longer match new alerts. An empty
// list keys alerts on event type and origin only, as it does at startup.
func (s *Service) UpdatePayloadFields(fields []string) error {
	s.extractor.SetPayloadFields(fields)
	if len(fields) == 0 {
		s.logger.Infow("Cleared dedup payload fields, dedup key uses event type and origin only")
		return nil
	}
	s.logger.Infow("Updated dedup payload fields", "fields", fields)
	return nil
}

func (s *Service) PayloadFields() []string {
	return s.extractor.PayloadFields()
}

// StartLiveKeysUpdater refreshes the live-keys gauge every period until StopLiveKeysUpdater.
func (s *Service) StartLiveKeysUpdater(period time.Duration) {
	s.liveKeysMu.Lock()
	defer s.liveKeysMu.Unlock()
	if s.cancelLiveKeys != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLiveKeys = cancel
	s.liveKeysDone = make(chan struct{})
	go s.updateLiveKeys(ctx, period, s.liveKeysDone)
}

func (s *Service) StopLiveKeysUpdater() {
	s.liveKeysMu.Lock()
	cancel, done := s.cancelLiveKeys, s.liveKeysDone
	s.cancelLiveKeys, s.liveKeysDone = nil, nil
	s.liveKeysMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) updateLiveKeys(ctx context.Context, period time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			keys, err := s.repo.GetAllKeys(ctx, constants.CacheKeyPrefixDedup+"*")
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debugw("Failed to count live dedup keys", "error", err)
				continue
			}
			metrics.SetDedupLiveKeys(len(keys))
		case <-ctx.Done():
			return
		}
	}
}
