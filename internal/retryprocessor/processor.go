package retryprocessor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"telenotify/internal/broker"
	"telenotify/internal/config"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/internal/retryhistory"
	"telenotify/internal/topology"
	"telenotify/pkg/logging"
	"telenotify/pkg/metrics"
	"telenotify/pkg/tracing"
)

const (
	OutcomeSkipped    = "skipped"
	OutcomeDuplicate  = "duplicate"
	OutcomeScheduled  = "scheduled"
	OutcomeForwarded  = "forwarded"
	OutcomeExhausted  = "exhausted"
	OutcomeFailed     = "failed"
	eventKindSchedule = "schedule"
	eventKindForward  = "forward"
	eventKindExhaust  = "exhausted"
)

// ProcessorContext carries what a Processor needs at Init.
type ProcessorContext struct {
	ID           string
	SourceTopics []string
	Ledger       *retryhistory.Ledger
	Cache        retryhistory.Cache
	Gate         *topology.SkipGate
	Codec        Codec
	Producer     broker.Producer
	Config       config.RetryConfig
	Logger       logger.Logger
}

// Processor is the retry stage. For each retry envelope it records the attempt in the
// ledger and then reschedules the original event, forwards it at once, or gives up when
// the budget for the failing exception class is spent.
type Processor struct {
	id           string
	sourceTopics []string
	ledger       *retryhistory.Ledger
	cache        retryhistory.Cache
	gate         *topology.SkipGate
	codec        Codec
	producer     broker.Producer
	cfg          config.RetryConfig
	logger       logger.Logger
}

func NewProcessor(pc ProcessorContext) (*Processor, error) {
	p := &Processor{}
	if err := p.Init(pc); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Processor) Init(pc ProcessorContext) error {
	switch {
	case pc.ID == "":
		return fmt.Errorf("processor id is required")
	case len(pc.SourceTopics) == 0:
		return fmt.Errorf("processor %s declares no source topics", pc.ID)
	case pc.Ledger == nil || pc.Cache == nil || pc.Producer == nil:
		return fmt.Errorf("processor %s is missing a ledger, cache or producer", pc.ID)
	}

	p.id = pc.ID
	p.sourceTopics = append([]string(nil), pc.SourceTopics...)
	p.ledger = pc.Ledger
	p.cache = pc.Cache
	p.producer = pc.Producer
	p.cfg = pc.Config
	p.logger = pc.Logger
	if p.logger == nil {
		p.logger = logger.NopLogger()
	}
	p.codec = pc.Codec
	if p.codec == nil {
		p.codec = JSONCodec{}
	}
	p.gate = pc.Gate
	if p.gate == nil {
		p.gate = topology.NewSkipGate()
	}
	if p.cfg.HandledTTL <= 0 {
		p.cfg.HandledTTL = constants.DefaultHandledTTL
	}
	return nil
}

func (p *Processor) ID() string {
	return p.id
}

func (p *Processor) SourceTopics() []string {
	return p.sourceTopics
}

// Close drops the processor's cached skip decisions.
func (p *Processor) Close() {
	p.gate.Reset()
}

// Process handles one record from a source topic. The attempt is counted in the ledger under
// the envelope's message id, so a redelivery after a crash at any step re-publishes the same
// outcome without counting twice. Once the output is published the envelope is marked
// handled and later redeliveries stop at that marker.
func (p *Processor) Process(ctx context.Context, rec broker.Record) (err error) {
	if p.gate.Test(p, topology.ActiveStream(rec.Topic)) {
		metrics.IncRetryOutcome(OutcomeSkipped)
		return nil
	}

	ctx, span := tracing.GetTracer(constants.ServiceNameRetry).Start(ctx, "retry.process")
	defer span.End()
	defer func() {
		if err != nil {
			metrics.IncRetryOutcome(OutcomeFailed)
		}
	}()

	event, err := p.codec.DecodeRetryEvent(rec.Value)
	if err != nil {
		return err
	}

	ctx = logging.WithMessageID(ctx, event.MessageID)
	ctx = logging.WithRequestID(ctx, event.RequestID)
	ctx = logging.WithOriginID(ctx, event.OriginID)

	handled, err := p.cache.Handled(ctx, event.MessageID)
	if err != nil {
		return err
	}
	if handled {
		metrics.IncRetryOutcome(OutcomeDuplicate)
		p.logger.InfowCtx(ctx, "Retry event already handled, skipping redelivery")
		return nil
	}

	record, err := p.currentRecord(ctx, event)
	if err != nil {
		return err
	}

	history, advanced, err := p.ledger.RecordAttempt(ctx, retryhistory.Attempt{
		RequestID: requestKey(event),
		OriginID:  event.OriginID,
		MessageID: event.MessageID,
		Record:    record,
		Seed:      event.History,
	})
	if err != nil {
		return err
	}
	current, _ := history.Record(record.ExceptionClassName)

	switch {
	case !advanced:
		err = p.exhaust(ctx, event, current, rec.Value)
	case current.Interval() > 0:
		err = p.schedule(ctx, event, current)
	default:
		err = p.forward(ctx, event, current)
	}
	if err != nil {
		return err
	}

	if markErr := p.cache.MarkHandled(ctx, event.MessageID, p.cfg.HandledTTL); markErr != nil {
		p.logger.WarnwCtx(ctx, "Failed to mark retry event handled", "error", markErr)
	}
	return nil
}

// currentRecord prefers a pending record from the cache and otherwise bootstraps one from
// the envelope, filling unset limits from the configured policy for the exception class.
func (p *Processor) currentRecord(ctx context.Context, event *retryhistory.RetryNotificationEvent) (retryhistory.RetryRecord, error) {
	exception := event.RetryRecord.ExceptionClassName

	pending, err := p.cache.GetPending(ctx, requestKey(event), exception)
	if err != nil {
		return retryhistory.RetryRecord{}, err
	}
	if pending != nil {
		return *pending, nil
	}

	record := event.RetryRecord
	policy := p.cfg.PolicyFor(exception)
	if record.MaxRetryCount <= 0 {
		record.MaxRetryCount = policy.MaxRetryCount
	}
	if record.RetryIntervalMs <= 0 {
		record.RetryIntervalMs = policy.RetryIntervalMs
	}
	return record, nil
}

func (p *Processor) schedule(ctx context.Context, event *retryhistory.RetryNotificationEvent, current retryhistory.RetryRecord) error {
	key := correlationKey(event)
	sched := p.ledger.CreateCreateScheduleEvent(key, event.OriginalEvent, current.Interval(), event.SourceTopic)
	// Stable per envelope so the scheduler can drop the copy a redelivery re-publishes.
	sched.ID = uuid.NewSHA1(scheduleNamespace, []byte(event.MessageID)).String()

	body, err := p.codec.EncodeScheduleEvent(sched)
	if err != nil {
		return fmt.Errorf("failed to encode schedule event: %w", err)
	}

	if err := p.producer.Publish(ctx, p.cfg.SchedulerTopic, broker.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: p.headers(event, current, eventKindSchedule),
	}); err != nil {
		return err
	}

	if err := p.cache.PutPending(ctx, requestKey(event), current, current.Interval()); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to write pending retry marker", "error", err)
	}

	metrics.IncRetryOutcome(OutcomeScheduled)
	p.logger.InfowCtx(ctx, "Retry scheduled",
		"exception", current.ExceptionClassName,
		"retry_count", current.RetryCount,
		"max_retry_count", current.MaxRetryCount,
		"delay_ms", sched.DelayMs,
		"target_topic", sched.TargetTopic,
	)
	return nil
}

func (p *Processor) forward(ctx context.Context, event *retryhistory.RetryNotificationEvent, current retryhistory.RetryRecord) error {
	if err := p.producer.Publish(ctx, event.SourceTopic, broker.Message{
		Key:     []byte(correlationKey(event)),
		Value:   event.OriginalEvent,
		Headers: p.headers(event, current, eventKindForward),
	}); err != nil {
		return err
	}

	metrics.IncRetryOutcome(OutcomeForwarded)
	p.logger.InfowCtx(ctx, "Retry forwarded",
		"exception", current.ExceptionClassName,
		"retry_count", current.RetryCount,
		"target_topic", event.SourceTopic,
	)
	return nil
}

func (p *Processor) exhaust(ctx context.Context, event *retryhistory.RetryNotificationEvent, current retryhistory.RetryRecord, raw []byte) error {
	metrics.IncRetryOutcome(OutcomeExhausted)
	p.logger.WarnwCtx(ctx, "Retry budget exhausted",
		"exception", current.ExceptionClassName,
		"retry_count", current.RetryCount,
		"max_retry_count", current.MaxRetryCount,
	)

	if p.cfg.ExhaustedTopic == "" {
		return nil
	}
	return p.producer.Publish(ctx, p.cfg.ExhaustedTopic, broker.Message{
		Key:     []byte(correlationKey(event)),
		Value:   raw,
		Headers: p.headers(event, current, eventKindExhaust),
	})
}

func (p *Processor) headers(event *retryhistory.RetryNotificationEvent, current retryhistory.RetryRecord, kind string) map[string]string {
	return map[string]string{
		"message_id":                  event.MessageID,
		constants.HeaderCorrelationID: event.CorrelationID,
		constants.HeaderRetryCount:    strconv.Itoa(current.RetryCount),
		constants.HeaderEventKind:     kind,
	}
}

var scheduleNamespace = uuid.MustParse("6f1c2a4e-8d0b-5e3f-9a7c-2b4d6e8f0a1c")

// requestKey names the alert history an envelope counts against.
func requestKey(event *retryhistory.RetryNotificationEvent) string {
	if event.RequestID != "" {
		return event.RequestID
	}
	return event.OriginID
}

func correlationKey(event *retryhistory.RetryNotificationEvent) string {
	if event.OriginID != "" {
		return event.OriginID
	}
	return event.RequestID
}

// Handler adapts Process to a broker handler.
func (p *Processor) Handler() broker.HandlerFunc {
	return p.Process
}

var _ topology.Processor = (*Processor)(nil)

