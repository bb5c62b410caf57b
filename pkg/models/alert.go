package models

import "time"

// AlertEvent is a single vehicle-telemetry alert as it travels through the pipeline.
// Once published it is treated as immutable.
type AlertEvent struct {
	ID        string                 `json:"id"`
	OriginID  string                 `json:"origin_id"`  // vehicle or device identity
	EventType string                 `json:"event_type"` // e.g. "SPEED_ALERT", "GEOFENCE_EXIT"
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	CorrelationID string             `json:"correlation_id,omitempty"`
	Version       string             `json:"version,omitempty"`
	TraceID       string             `json:"trace_id,omitempty"`
	Deduplication *DeduplicationInfo `json:"deduplication,omitempty"`
	Suppression   *SuppressionInfo   `json:"suppression,omitempty"`
}

type DeduplicationInfo struct {
	IsUnique  bool      `json:"is_unique"`
	Key       string    `json:"key,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type SuppressionInfo struct {
	Suppressed bool      `json:"suppressed"`
	WindowType string    `json:"window_type,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Clone returns a copy whose payload map can be modified without touching the original.
func (a AlertEvent) Clone() AlertEvent {
	out := a
	if a.Payload != nil {
		out.Payload = make(map[string]interface{}, len(a.Payload))
		for k, v := range a.Payload {
			out.Payload[k] = v
		}
	}
	if a.Metadata.Deduplication != nil {
		d := *a.Metadata.Deduplication
		out.Metadata.Deduplication = &d
	}
	if a.Metadata.Suppression != nil {
		s := *a.Metadata.Suppression
		out.Metadata.Suppression = &s
	}
	return out
}
