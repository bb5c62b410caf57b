package deduplication

import (
	"context"
	"encoding/json"
	"time"

	"telenotify/internal/broker"
	"telenotify/internal/constants"
	"telenotify/internal/logger"
	"telenotify/pkg/errors"
	"telenotify/pkg/logging"
	"telenotify/pkg/metrics"
	"telenotify/pkg/models"
)

// Suppressor decides whether an alert falls inside an active do-not-disturb window.
// The returned string is the matching window type.
type Suppressor interface {
	IsSuppressed(ctx context.Context, alert models.AlertEvent, instant time.Time) (bool, string)
}

// Handler is the dedup-service stage: it decodes an alert, runs it through the gate and the
// suppression windows, and publishes survivors to the delivery topic.
type Handler struct {
	service     *Service
	suppressor  Suppressor
	producer    broker.Producer
	outputTopic string
	logger      logger.Logger
	now         func() time.Time
}

func NewHandler(service *Service, suppressor Suppressor, producer broker.Producer, outputTopic string, log logger.Logger) *Handler {
	return &Handler{
		service:     service,
		suppressor:  suppressor,
		producer:    producer,
		outputTopic: outputTopic,
		logger:      log,
		now:         time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, rec broker.Record) error {
	var alert models.AlertEvent
	if err := json.Unmarshal(rec.Value, &alert); err != nil {
		return errors.ErrDecode.WithCause(err).WithMessage("alert on %s is not valid JSON", rec.Topic)
	}
	if err := models.ValidateAlertEvent(&alert); err != nil {
		return errors.ErrValidation.WithCause(err)
	}

	ctx = logging.WithMessageID(ctx, alert.ID)
	ctx = logging.WithOriginID(ctx, alert.OriginID)
	if alert.Metadata.TraceID != "" {
		ctx = logging.WithTraceID(ctx, alert.Metadata.TraceID)
	}

	accepted, err := h.service.FilterDuplicateAlert(ctx, []models.AlertEvent{alert})
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		h.logger.InfowCtx(ctx, "Alert duplicate", "event_type", alert.EventType)
		return nil
	}
	out := accepted[0]

	if h.suppressor != nil {
		now := h.now()
		if suppressed, windowType := h.suppressor.IsSuppressed(ctx, out, now); suppressed {
			metrics.IncSuppressed(windowType)
			h.logger.InfowCtx(ctx, "Alert suppressed by do-not-disturb window",
				"event_type", out.EventType,
				"window_type", windowType,
			)
			return nil
		}
		out.Metadata.Suppression = &models.SuppressionInfo{Suppressed: false, CheckedAt: now}
	}

	msg, err := broker.JSONMessage(out.OriginID, out)
	if err != nil {
		return errors.ErrInternal.WithCause(err)
	}
	msg.Headers = map[string]string{"message_id": out.ID}
	if out.Metadata.CorrelationID != "" {
		msg.Headers[constants.HeaderCorrelationID] = out.Metadata.CorrelationID
	}

	if err := h.producer.Publish(ctx, h.outputTopic, msg); err != nil {
		if relErr := h.service.Release(context.WithoutCancel(ctx), out); relErr != nil {
			h.logger.WarnwCtx(ctx, "Failed to release dedup entry after publish error",
				"error", relErr,
			)
		}
		return err
	}
	h.logger.InfowCtx(ctx, "Alert unique",
		"output_topic", h.outputTopic,
	)
	return nil
}
