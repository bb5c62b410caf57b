package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateAlertEvent(alert *AlertEvent) error {
	if alert == nil {
		return &ValidationError{
			Field:   "alert",
			Message: "alert event cannot be nil",
		}
	}

	if alert.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "alert ID is required",
		}
	}

	if alert.OriginID == "" {
		return &ValidationError{
			Field:   "origin_id",
			Message: "alert origin identity is required",
		}
	}

	if alert.EventType == "" {
		return &ValidationError{
			Field:   "event_type",
			Message: "alert event type is required",
		}
	}

	if alert.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "alert timestamp is required",
		}
	}

	return nil
}
