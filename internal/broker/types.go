package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is an outbound record. Headers are copied onto the Kafka message next to the
// trace context headers.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// Record is an inbound record as handed to a HandlerFunc.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

type Producer interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, rec Record) error

// JSONMessage marshals v as the message value.
func JSONMessage(key string, v interface{}) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return Message{Key: []byte(key), Value: body, Time: time.Now()}, nil
}
