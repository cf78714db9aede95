package domain

import (
	"encoding/json"
	"time"
)

// DeviceState is the per-device "last" view derived from accepted lock
// events. One instance exists per device id; it is created on the first
// event and mutated only by the aggregator.
type DeviceState struct {
	DeviceID        string    `json:"device_id"`
	LastActor       string    `json:"last_actor"`
	LastAction      string    `json:"last_action"`
	Trigger         string    `json:"trigger"`
	Source          string    `json:"source"`
	DeviceType      string    `json:"device_type"`
	CompletionState string    `json:"completion_state"`
	LastDate        time.Time `json:"last_date"`
	EventCounter    int64     `json:"event_counter"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StatusSnapshot holds the most recent DEVICE_STATUS block for a device.
// Upstream has not defined display semantics for these fields yet, so the
// raw state object is kept opaque.
type StatusSnapshot struct {
	DeviceID   string          `json:"device_id"`
	State      json.RawMessage `json:"state"`
	ReceivedAt time.Time       `json:"received_at"`
}
