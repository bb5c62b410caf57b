package models

import "time"

type AlertEventBuilder struct {
	event *AlertEvent
}

func NewAlertEventBuilder() *AlertEventBuilder {
	return &AlertEventBuilder{
		event: &AlertEvent{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *AlertEventBuilder) WithID(id string) *AlertEventBuilder {
	b.event.ID = id
	return b
}

func (b *AlertEventBuilder) WithOrigin(originID string) *AlertEventBuilder {
	b.event.OriginID = originID
	return b
}

func (b *AlertEventBuilder) WithEventType(eventType string) *AlertEventBuilder {
	b.event.EventType = eventType
	return b
}

func (b *AlertEventBuilder) WithTimestamp(timestamp time.Time) *AlertEventBuilder {
	b.event.Timestamp = timestamp
	return b
}

func (b *AlertEventBuilder) WithPayload(payload map[string]interface{}) *AlertEventBuilder {
	b.event.Payload = payload
	return b
}

func (b *AlertEventBuilder) WithField(key string, value interface{}) *AlertEventBuilder {
	if b.event.Payload == nil {
		b.event.Payload = make(map[string]interface{})
	}
	b.event.Payload[key] = value
	return b
}

func (b *AlertEventBuilder) WithCorrelationID(correlationID string) *AlertEventBuilder {
	b.event.Metadata.CorrelationID = correlationID
	return b
}

func (b *AlertEventBuilder) WithVersion(version string) *AlertEventBuilder {
	b.event.Metadata.Version = version
	return b
}

func (b *AlertEventBuilder) WithTraceID(traceID string) *AlertEventBuilder {
	b.event.Metadata.TraceID = traceID
	return b
}

func (b *AlertEventBuilder) Build() *AlertEvent {
	if b.event.Timestamp.IsZero() {
		b.event.Timestamp = time.Now()
	}
	return b.event
}
