package models

import (
	"encoding/json"
	"time"
)

type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`   // "dedup_config_updated", "suppression_config_updated"
	ServiceType string                 `json:"service_type"` // "deduplication", "suppression"
	Action      string                 `json:"action"`       // "update", "reload"
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// PayloadFields replaces the dedup key payload fields (dedup_config_updated). Nil means
	// absent; an empty list clears the fields.
	PayloadFields []string `json:"payload_fields"`
	// Windows replaces the full suppression window set (suppression_config_updated).
	// It is decoded by the consumer against its own window schema.
	Windows json.RawMessage `json:"windows,omitempty"`
}

const (
	EventTypeDedupConfigUpdated       = "dedup_config_updated"
	EventTypeSuppressionConfigUpdated = "suppression_config_updated"
)

const (
	ActionUpdate = "update"
	ActionReload = "reload"
)

const (
	ServiceTypeDeduplication = "deduplication"
	ServiceTypeSuppression   = "suppression"
)
