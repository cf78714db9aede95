package domain

import "time"

// WebhookRegistration mirrors the upstream-side webhook configuration.
// The upstream platform is the source of truth; this is the last known
// good snapshot cached locally.
type WebhookRegistration struct {
	WebhookID  string    `json:"webhook_id"`
	TargetURL  string    `json:"target_url"`
	EventTypes []string  `json:"event_types"`
	UpdatedAt  time.Time `json:"updated_at"`
}
