package config_handler

import (
	"context"
	"encoding/json"
	"fmt"

	"telenotify/internal/broker"
	"telenotify/internal/config"
	"telenotify/internal/logger"
	"telenotify/pkg/errors"
	"telenotify/pkg/models"
)

type PayloadFieldsUpdater interface {
	UpdatePayloadFields(fields []string) error
}

type WindowReplacer interface {
	ReplaceWindows(windows []config.SuppressionWindowConfig) error
}

// Handler applies runtime configuration updates published on the config update topic.
// Events for a service type with no registered target are ignored.
type Handler struct {
	fieldsUpdater  PayloadFieldsUpdater
	windowReplacer WindowReplacer
	logger         logger.Logger
}

func NewHandler(log logger.Logger) *Handler {
	return &Handler{logger: log}
}

func (h *Handler) WithPayloadFieldsUpdater(updater PayloadFieldsUpdater) *Handler {
	h.fieldsUpdater = updater
	return h
}

func (h *Handler) WithWindowReplacer(replacer WindowReplacer) *Handler {
	h.windowReplacer = replacer
	return h
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, rec broker.Record) error {
	var event models.ConfigUpdateEvent
	if err := json.Unmarshal(rec.Value, &event); err != nil {
		return errors.ErrDecode.WithCause(err).WithMessage("config update event is not valid JSON")
	}

	if event.EventType == "" || event.ServiceType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type or service_type",
			"topic", rec.Topic,
			"offset", rec.Offset,
		)
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"service_type", event.ServiceType,
		"action", event.Action,
		"changed_by", event.ChangedBy,
	)

	switch {
	case event.EventType == models.EventTypeDedupConfigUpdated && event.ServiceType == models.ServiceTypeDeduplication:
		return h.applyPayloadFields(ctx, event)
	case event.EventType == models.EventTypeSuppressionConfigUpdated && event.ServiceType == models.ServiceTypeSuppression:
		return h.applyWindows(ctx, event)
	default:
		return nil
	}
}

func (h *Handler) applyPayloadFields(ctx context.Context, event models.ConfigUpdateEvent) error {
	// An absent list leaves the fields alone; an explicit [] clears them.
	if h.fieldsUpdater == nil || event.PayloadFields == nil {
		return nil
	}

	if err := h.fieldsUpdater.UpdatePayloadFields(event.PayloadFields); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to update dedup payload fields", "error", err)
		return errors.ErrValidation.WithCause(err)
	}
	return nil
}

func (h *Handler) applyWindows(ctx context.Context, event models.ConfigUpdateEvent) error {
	if h.windowReplacer == nil {
		return nil
	}

	var windows []config.SuppressionWindowConfig
	if len(event.Windows) > 0 {
		if err := json.Unmarshal(event.Windows, &windows); err != nil {
			return errors.ErrDecode.WithCause(err).WithMessage("suppression windows are not valid JSON")
		}
	}

	if err := h.windowReplacer.ReplaceWindows(windows); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to replace suppression windows", "error", err)
		return errors.ErrValidation.WithCause(fmt.Errorf("replace suppression windows: %w", err))
	}

	h.logger.InfowCtx(ctx, "Suppression windows replaced", "count", len(windows))
	return nil
}
