package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/errors"
	"telenotify/pkg/logging"
	"telenotify/pkg/metrics"
	"telenotify/pkg/retry"
	"telenotify/pkg/tracing"
)

const (
	headerMessageID      = "message_id"
	headerDLQReason      = "dlq_reason"
	headerDLQSourceTopic = "dlq_source_topic"
	headerDLQTimestamp   = "dlq_timestamp"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	start := time.Now()
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: headers,
			Time:    ts,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", topic, err)
	}
	metrics.ObserveKafkaWrite(topic, time.Since(start))

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	mu          sync.Mutex
	readers     []*kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume reads topic until ctx is cancelled. A handler error is retried with the configured
// backoff; fatal errors skip the retries. Messages that still fail go to the DLQ when one is
// configured and are committed either way so a poison message never blocks the partition.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming",
			"topic", topic,
		)

		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				time.Sleep(time.Second)
				continue
			}

			metrics.IncKafkaMessagesRead(c.serviceName, topic)
			c.handle(ctx, reader, m, handler)
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) handle(ctx context.Context, reader *kafka.Reader, m kafka.Message, handler HandlerFunc) {
	rec := recordFromMessage(m)

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()

	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	if id := rec.Headers[headerMessageID]; id != "" {
		msgCtx = logging.WithMessageID(msgCtx, id)
	} else if len(rec.Key) > 0 {
		msgCtx = logging.WithMessageID(msgCtx, string(rec.Key))
	}

	if err := c.processMessageWithRetry(msgCtx, rec, handler); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
			"error", err,
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
		)
		if c.dlqProducer != nil && c.cfg.DLQTopic != "" {
			if dlqErr := c.sendToDLQ(msgCtx, rec, err); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
					"error", dlqErr,
					"topic", rec.Topic,
				)
			}
		} else {
			c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
				"topic", rec.Topic,
			)
		}
	}

	if err := reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", rec.Topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	for _, r := range readers {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, rec Record, handler HandlerFunc) error {
	policy := c.retryPolicy()

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", rec.Topic,
				)
			}
		}()
		return handler(ctx, rec)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.HandlerRetryAttemptsTotal.WithLabelValues(c.serviceName, rec.Topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", rec.Topic,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, rec Record, originalErr error) error {
	headers := make(map[string]string, len(rec.Headers)+3)
	for k, v := range rec.Headers {
		headers[k] = v
	}
	headers[headerDLQReason] = originalErr.Error()
	headers[headerDLQSourceTopic] = rec.Topic
	headers[headerDLQTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, Message{
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	reason := "max_retries_exceeded"
	if retry.IsFatal(originalErr) {
		reason = "fatal"
	}
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, rec.Topic, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", rec.Topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}

func recordFromMessage(m kafka.Message) Record {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Record{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Timestamp: m.Time,
	}
}
