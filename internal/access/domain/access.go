// Package domain holds the request and decision types shared by the policy engine
// and the access request processor.
package domain

import (
	"time"

	"opensase/access-plane/internal/accessctx"
	devicedomain "opensase/access-plane/internal/device/domain"
	identitydomain "opensase/access-plane/internal/identity/domain"
	resourcedomain "opensase/access-plane/internal/resource/domain"
)

// AccessRequest is one attempt by an identity/device pair to reach a resource.
type AccessRequest struct {
	ID        string
	Identity  *identitydomain.Identity
	Device    *devicedomain.Device
	Resource  *resourcedomain.Resource
	Action    Action
	Context   *accessctx.AccessContext
	Timestamp time.Time
}

// Action is what the subject wants to do with the resource.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
	ActionDelete  Action = "delete"
	ActionAdmin   Action = "admin"
	ActionConnect Action = "connect"
)

// Decision is the authoritative outcome of an access evaluation.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionDeny      Decision = "deny"
	DecisionChallenge Decision = "challenge"
	DecisionStepUp    Decision = "step_up"
	DecisionReview    Decision = "review"
)

// ConditionType names an advisory condition attached to a decision.
type ConditionType string

const (
	ConditionRequireMfa              ConditionType = "require_mfa"
	ConditionRequireDeviceCompliance ConditionType = "require_device_compliance"
	ConditionReadOnly                ConditionType = "read_only"
	ConditionSessionTimeout          ConditionType = "session_timeout"
	ConditionSessionRecording        ConditionType = "session_recording"
)

// Condition is an advisory annotation on a decision. Only the decision itself is
// authoritative; conditions inform the gateway and the session layer.
type Condition struct {
	Type    ConditionType `json:"type"`
	Minutes int           `json:"minutes,omitempty"` // set for session_timeout
}

// AccessDecision is the authoritative API response for one access request.
type AccessDecision struct {
	RequestID    string      `json:"request_id"`
	Decision     Decision    `json:"decision"`
	TrustScore   int         `json:"trust_score"`
	Reasons      []string    `json:"reasons"`
	Conditions   []Condition `json:"conditions,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	SessionToken string      `json:"session_token,omitempty"`
	TunnelID     string      `json:"tunnel_id,omitempty"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	EvaluatedAt  time.Time   `json:"evaluated_at"`
}

// PolicyDecision is the policy engine's verdict. Authoritative only in Decision;
// Conditions are advisory and merged by the orchestrator.
type PolicyDecision struct {
	Decision   Decision
	Reasons    []string
	Conditions []Condition
}
