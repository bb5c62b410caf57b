package retryhistory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"telenotify/pkg/errors"
	"telenotify/pkg/models"
)

// CreateRetryNotificationEvent wraps a failed alert for the retry topic. The alert id
// doubles as the request id, and as the correlation id when the alert carries none.
func (l *Ledger) CreateRetryNotificationEvent(original models.AlertEvent, record RetryRecord, topic string) (*RetryNotificationEvent, error) {
	raw, err := json.Marshal(original)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err).WithMessage("failed to serialize alert %s", original.ID)
	}

	correlationID := original.Metadata.CorrelationID
	if correlationID == "" {
		correlationID = original.ID
	}

	return &RetryNotificationEvent{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Version:       original.Metadata.Version,
		RequestID:     original.ID,
		OriginID:      original.OriginID,
		SourceTopic:   topic,
		OriginalEvent: raw,
		RetryRecord:   record,
		CreatedAt:     l.now(),
	}, nil
}

// CreateCreateScheduleEvent builds the command that re-emits wrappedEvent on targetTopic
// after delay. It does not publish.
func (l *Ledger) CreateCreateScheduleEvent(correlationKey string, wrappedEvent []byte, delay time.Duration, targetTopic string) *ScheduleEvent {
	now := l.now()
	return &ScheduleEvent{
		ID:             uuid.NewString(),
		TargetTopic:    targetTopic,
		DelayMs:        delay.Milliseconds(),
		FireAt:         now.Add(delay),
		Payload:        wrappedEvent,
		CorrelationKey: correlationKey,
		CreatedAt:      now,
	}
}
