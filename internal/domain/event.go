package domain

import (
	"encoding/json"
	"time"
)

// EventCategory is the webhook payload category announced by the upstream
// "feature" discriminator.
type EventCategory string

const (
	CategoryDeviceLogs   EventCategory = "DEVICE_LOGS"
	CategoryDeviceStatus EventCategory = "DEVICE_STATUS"
	CategoryDeviceAuths  EventCategory = "DEVICE_AUTHS"
	CategoryUnknown      EventCategory = "UNKNOWN"
)

// NormalizedEvent is the canonical record extracted from one webhook
// delivery. It is built fresh per delivery and never mutated afterwards.
type NormalizedEvent struct {
	DeviceID        string          `json:"device_id"`
	Category        EventCategory   `json:"category"`
	Action          string          `json:"action,omitempty"`
	Trigger         string          `json:"trigger,omitempty"`
	Source          string          `json:"source,omitempty"`
	DeviceType      string          `json:"device_type,omitempty"`
	CompletionState string          `json:"completion_state,omitempty"`
	ActorName       string          `json:"actor_name,omitempty"`
	AuthID          string          `json:"auth_id,omitempty"`
	AuthDeleted     bool            `json:"auth_deleted,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	SequenceID      string          `json:"sequence_id,omitempty"`
	Status          json.RawMessage `json:"status,omitempty"`
}
