package retryhistory

import "time"

// RetryRecord tracks attempts for one exception class. Stored records always satisfy
// 0 < RetryCount <= MaxRetryCount.
type RetryRecord struct {
	ExceptionClassName string `json:"exception_class_name" bson:"exception_class_name"`
	MaxRetryCount      int    `json:"max_retry_count" bson:"max_retry_count"`
	RetryCount         int    `json:"retry_count" bson:"retry_count"`
	RetryIntervalMs    int64  `json:"retry_interval_ms" bson:"retry_interval_ms"`
}

func (r RetryRecord) Interval() time.Duration {
	return time.Duration(r.RetryIntervalMs) * time.Millisecond
}

func (r RetryRecord) Exhausted() bool {
	return r.RetryCount >= r.MaxRetryCount
}

// AppliedAttempt remembers that the envelope MessageID was already counted, and whether
// counting it advanced its record.
type AppliedAttempt struct {
	MessageID          string `json:"message_id" bson:"message_id"`
	ExceptionClassName string `json:"exception_class_name" bson:"exception_class_name"`
	Advanced           bool   `json:"advanced" bson:"advanced"`
}

// AlertHistory holds at most one RetryRecord per exception class name, in first-seen order.
// Version is the store's optimistic lock: zero for a history never saved, bumped by every
// successful save.
type AlertHistory struct {
	RequestID       string           `json:"request_id" bson:"_id"`
	OriginID        string           `json:"origin_id,omitempty" bson:"origin_id,omitempty"`
	RetryRecords    []RetryRecord    `json:"retry_records" bson:"retry_records"`
	AppliedAttempts []AppliedAttempt `json:"applied_attempts,omitempty" bson:"applied_attempts,omitempty"`
	Version         int64            `json:"version" bson:"version"`
	UpdatedAt       time.Time        `json:"updated_at" bson:"updated_at"`
}

// Record returns the entry for exceptionClassName, matched by exact string equality.
func (h *AlertHistory) Record(exceptionClassName string) (RetryRecord, bool) {
	if h == nil {
		return RetryRecord{}, false
	}
	for _, r := range h.RetryRecords {
		if r.ExceptionClassName == exceptionClassName {
			return r, true
		}
	}
	return RetryRecord{}, false
}

// Applied returns the remembered outcome for messageID.
func (h *AlertHistory) Applied(messageID string) (AppliedAttempt, bool) {
	if h == nil || messageID == "" {
		return AppliedAttempt{}, false
	}
	for _, a := range h.AppliedAttempts {
		if a.MessageID == messageID {
			return a, true
		}
	}
	return AppliedAttempt{}, false
}

func (h *AlertHistory) clone() *AlertHistory {
	out := *h
	out.RetryRecords = append([]RetryRecord(nil), h.RetryRecords...)
	out.AppliedAttempts = append([]AppliedAttempt(nil), h.AppliedAttempts...)
	return &out
}

// RetryNotificationEvent is the retry envelope: a failed delivery of OriginalEvent, to be
// re-emitted onto SourceTopic while the record's budget lasts.
type RetryNotificationEvent struct {
	MessageID     string        `json:"message_id"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Version       string        `json:"version,omitempty"`
	RequestID     string        `json:"request_id,omitempty"`
	OriginID      string        `json:"origin_id,omitempty"`
	SourceTopic   string        `json:"source_topic"`
	OriginalEvent []byte        `json:"original_event"`
	RetryRecord   RetryRecord   `json:"retry_record"`
	History       *AlertHistory `json:"history,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ScheduleEvent asks an external scheduler to write Payload to TargetTopic once DelayMs
// has elapsed.
type ScheduleEvent struct {
	ID             string    `json:"id"`
	TargetTopic    string    `json:"target_topic"`
	DelayMs        int64     `json:"delay_ms"`
	FireAt         time.Time `json:"fire_at"`
	Payload        []byte    `json:"payload"`
	CorrelationKey string    `json:"correlation_key"`
	CreatedAt      time.Time `json:"created_at"`
}
