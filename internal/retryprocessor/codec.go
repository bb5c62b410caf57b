package retryprocessor

import (
	"encoding/json"

	"telenotify/internal/retryhistory"
	"telenotify/pkg/errors"
)

// Codec converts retry envelopes and schedule commands to and from wire bytes.
type Codec interface {
	DecodeRetryEvent(data []byte) (*retryhistory.RetryNotificationEvent, error)
	EncodeRetryEvent(event *retryhistory.RetryNotificationEvent) ([]byte, error)
	EncodeScheduleEvent(event *retryhistory.ScheduleEvent) ([]byte, error)
}

type JSONCodec struct{}

func (JSONCodec) DecodeRetryEvent(data []byte) (*retryhistory.RetryNotificationEvent, error) {
	var event retryhistory.RetryNotificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.ErrDecode.WithCause(err).WithMessage("retry event is not valid JSON")
	}
	if event.MessageID == "" {
		return nil, errors.ErrDecode.WithMessage("retry event has no message_id")
	}
	if event.RetryRecord.ExceptionClassName == "" {
		return nil, errors.ErrDecode.WithMessage("retry event %s has no exception class name", event.MessageID)
	}
	if event.RequestID == "" && event.OriginID == "" {
		return nil, errors.ErrDecode.WithMessage("retry event %s has neither request_id nor origin_id", event.MessageID)
	}
	if event.SourceTopic == "" || len(event.OriginalEvent) == 0 {
		return nil, errors.ErrDecode.WithMessage("retry event %s has no source topic or original event", event.MessageID)
	}
	return &event, nil
}

func (JSONCodec) EncodeRetryEvent(event *retryhistory.RetryNotificationEvent) ([]byte, error) {
	return json.Marshal(event)
}

func (JSONCodec) EncodeScheduleEvent(event *retryhistory.ScheduleEvent) ([]byte, error) {
	return json.Marshal(event)
}
