// Package domain holds the audit event type emitted for every decision,
// challenge transition, and session/tunnel lifecycle change.
package domain

import "time"

// EventType names the category of an audit event.
type EventType string

const (
	EventAccessDecision  EventType = "access_decision"
	EventMfaChallenge    EventType = "mfa_challenge"
	EventStepUpChallenge EventType = "stepup_challenge"
	EventSession         EventType = "session_lifecycle"
	EventTunnel          EventType = "tunnel_lifecycle"
)

// Event is one audit record. Serialized as JSON onto the audit stream.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"event_type"`
	Actor      string            `json:"actor"` // user id
	DeviceID   string            `json:"device_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Reasons    []string          `json:"reasons,omitempty"`
	LatencyMS  int64             `json:"latency_ms"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
