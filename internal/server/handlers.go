package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	domain "opensase/access-plane/internal/access/domain"
	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/audit"
	auditdomain "opensase/access-plane/internal/audit/domain"
	connectordomain "opensase/access-plane/internal/connector/domain"
	devicedomain "opensase/access-plane/internal/device/domain"
	identitydomain "opensase/access-plane/internal/identity/domain"
	mfadomain "opensase/access-plane/internal/mfa/domain"
	policydomain "opensase/access-plane/internal/policy/domain"
	policyengine "opensase/access-plane/internal/policy/engine"
	resourcedomain "opensase/access-plane/internal/resource/domain"
	"opensase/access-plane/internal/session"
	"opensase/access-plane/internal/stepup"
	stepupdomain "opensase/access-plane/internal/stepup/domain"
)

type identityBody struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Groups      []string `json:"groups"`
	Roles       []string `json:"roles"`
	MFAVerified bool     `json:"mfa_verified"`
	Provider    string   `json:"provider"`
}

type accessBody struct {
	Identity   identityBody `json:"identity"`
	DeviceID   string       `json:"device_id"`
	ResourceID string       `json:"resource_id"`
	Action     string       `json:"action"`
	SessionID  string       `json:"session_id"`
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var body accessBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Identity.UserID == "" || body.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "validation", "identity.user_id and resource_id are required")
		return
	}

	res, ok := s.deps.Resources.Get(body.ResourceID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "resource "+body.ResourceID+" is not registered")
		return
	}
	var dev *devicedomain.Device
	if body.DeviceID != "" {
		dev, ok = s.deps.Devices.Get(body.DeviceID)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "device "+body.DeviceID+" is not registered")
			return
		}
	}

	action := domain.ActionRead
	if body.Action != "" {
		action = domain.Action(body.Action)
	}
	ac := s.deps.Contexts.BuildContext(r.Context(), clientIP(r), r.UserAgent(), body.SessionID)

	req := &domain.AccessRequest{
		Identity: &identitydomain.Identity{
			ID:          body.Identity.UserID,
			UserID:      body.Identity.UserID,
			Email:       body.Identity.Email,
			Name:        body.Identity.Name,
			Groups:      body.Identity.Groups,
			Roles:       body.Identity.Roles,
			MFAVerified: body.Identity.MFAVerified,
			Provider:    identitydomain.Provider(body.Identity.Provider),
		},
		Device:   dev,
		Resource: res,
		Action:   action,
		Context:  ac,
	}
	writeJSON(w, http.StatusOK, s.deps.Processor.Process(r.Context(), req))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Processor.EndSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session "+id+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "terminated"})
}

type stepUpCreateBody struct {
	Reason string `json:"reason"`
}

type stepUpChallengeResponse struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ChallengeType string    `json:"challenge_type"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (s *Server) handleCreateStepUp(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	var body stepUpCreateBody
	if !decodeBody(w, r, &body) {
		return
	}
	reason := stepupdomain.Reason(body.Reason)
	if !validReason(reason) {
		writeError(w, http.StatusBadRequest, "validation", "unknown step-up reason "+body.Reason)
		return
	}
	sess, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "session "+sessionID+" not found")
		return
	}
	ch, err := s.deps.StepUps.CreateChallenge(sessionID, sess.Identity.UserID, reason)
	if err != nil {
		if errors.Is(err, stepup.ErrPendingChallenge) {
			writeError(w, http.StatusConflict, "conflict", "session already has a pending step-up challenge")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.auditStepUp(ch, "created")
	writeJSON(w, http.StatusCreated, stepUpChallengeResponse{
		ID:            ch.ID,
		SessionID:     ch.SessionID,
		ChallengeType: string(ch.ChallengeType),
		Reason:        string(ch.Reason),
		Status:        string(ch.Status),
		ExpiresAt:     ch.ExpiresAt,
	})
}

type verifyBody struct {
	Response string `json:"response"`
}

type stepUpVerifyResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"session_id,omitempty"`
	TrustBonus int    `json:"trust_bonus,omitempty"`
}

func (s *Server) handleVerifyStepUp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body verifyBody
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := s.deps.StepUps.Verify(r.Context(), id, body.Response)
	if err != nil {
		ch, _ := s.deps.StepUps.Challenge(id)
		if ch != nil {
			s.auditStepUp(ch, string(ch.Status))
		}
		switch {
		case errors.Is(err, stepup.ErrChallengeNotFound):
			writeError(w, http.StatusNotFound, "not_found", "step-up challenge "+id+" not found")
		case errors.Is(err, stepup.ErrExpired):
			writeError(w, http.StatusGone, "expired", "step-up challenge expired")
		case errors.Is(err, stepup.ErrTooManyAttempts):
			writeError(w, http.StatusConflict, "exhausted", "step-up attempts exhausted")
		case errors.Is(err, stepup.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, "conflict", "step-up challenge already finished")
		case errors.Is(err, stepup.ErrVerificationFailed):
			writeError(w, http.StatusForbidden, "verification_failed", "step-up verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	// Completed step-up feeds its bonus back into the session's trust score.
	if err := s.deps.Sessions.ApplyTrustBonus(result.SessionID, result.TrustBonus); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "session "+result.SessionID+" not found")
		return
	}
	if ch, ok := s.deps.StepUps.Challenge(id); ok {
		s.auditStepUp(ch, "completed")
	}
	writeJSON(w, http.StatusOK, stepUpVerifyResponse{
		Success:    true,
		SessionID:  result.SessionID,
		TrustBonus: result.TrustBonus,
	})
}

type mfaCreateBody struct {
	UserID     string `json:"user_id"`
	FactorType string `json:"factor_type"`
}

type mfaChallengeResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FactorType string    `json:"factor_type"`
	State      string    `json:"state"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Server) handleCreateMfaChallenge(w http.ResponseWriter, r *http.Request) {
	var body mfaCreateBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" || body.FactorType == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id and factor_type are required")
		return
	}
	ch, err := s.deps.MFA.CreateChallenge(body.UserID, mfadomain.FactorType(body.FactorType))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	s.auditMfa(ch, "created")
	writeJSON(w, http.StatusCreated, mfaChallengeResponse{
		ID:         ch.ID,
		UserID:     ch.UserID,
		FactorType: string(ch.FactorType),
		State:      string(ch.State),
		ExpiresAt:  ch.ExpiresAt,
	})
}

type mfaVerifyResponse struct {
	Success    bool   `json:"success"`
	FactorType string `json:"factor_type,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleVerifyMfaChallenge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body verifyBody
	if !decodeBody(w, r, &body) {
		return
	}
	result := s.deps.MFA.Verify(r.Context(), id, body.Response)
	if ch, ok := s.deps.MFA.Challenge(id); ok {
		s.auditMfa(ch, string(ch.State))
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusForbidden
	}
	writeJSON(w, status, mfaVerifyResponse{
		Success:    result.Success,
		FactorType: string(result.FactorType),
		Message:    result.Message,
	})
}

type postureBody struct {
	FirewallEnabled   bool `json:"firewall_enabled"`
	AntivirusRunning  bool `json:"antivirus_running"`
	DiskEncrypted     bool `json:"disk_encrypted"`
	OSPatched         bool `json:"os_patched"`
	ScreenLockEnabled bool `json:"screen_lock_enabled"`
	Jailbroken        bool `json:"jailbroken"`
}

type certificateBody struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidUntil  time.Time `json:"valid_until"`
	Fingerprint string    `json:"fingerprint"`
}

type deviceBody struct {
	UserID       string            `json:"user_id"`
	Name         string            `json:"name"`
	OS           string            `json:"os"`
	Managed      bool              `json:"managed"`
	Compliant    bool              `json:"compliant"`
	Posture      postureBody       `json:"posture"`
	Certificates []certificateBody `json:"certificates"`
}

func (s *Server) handleUpsertDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body deviceBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "validation", "user_id is required")
		return
	}
	now := time.Now().UTC()
	dev := &devicedomain.Device{
		ID:        id,
		Name:      body.Name,
		OS:        body.OS,
		Managed:   body.Managed,
		Compliant: body.Compliant,
		Posture: devicedomain.Posture{
			FirewallEnabled:   body.Posture.FirewallEnabled,
			AntivirusRunning:  body.Posture.AntivirusRunning,
			DiskEncrypted:     body.Posture.DiskEncrypted,
			OSPatched:         body.Posture.OSPatched,
			ScreenLockEnabled: body.Posture.ScreenLockEnabled,
			Jailbroken:        body.Posture.Jailbroken,
			LastChecked:       now,
		},
		LastSeenAt: now,
	}
	for _, c := range body.Certificates {
		dev.Certificates = append(dev.Certificates, devicedomain.Certificate{
			ID:          c.ID,
			Subject:     c.Subject,
			Issuer:      c.Issuer,
			ValidFrom:   c.ValidFrom,
			ValidUntil:  c.ValidUntil,
			Fingerprint: c.Fingerprint,
		})
	}
	s.deps.Devices.Register(body.UserID, dev)
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "registered"})
}

type credentialsBody struct {
	Password string `json:"password"`
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "validation", "password is required")
		return
	}
	if err := s.deps.Credentials.SetPassword(userID, body.Password); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "stored"})
}

func (s *Server) handleUserDevices(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	devices := s.deps.Devices.UserDevices(userID)
	out := make([]deviceBody, 0, len(devices))
	for _, d := range devices {
		body := deviceBody{
			UserID:    userID,
			Name:      d.Name,
			OS:        d.OS,
			Managed:   d.Managed,
			Compliant: d.Compliant,
			Posture: postureBody{
				FirewallEnabled:   d.Posture.FirewallEnabled,
				AntivirusRunning:  d.Posture.AntivirusRunning,
				DiskEncrypted:     d.Posture.DiskEncrypted,
				OSPatched:         d.Posture.OSPatched,
				ScreenLockEnabled: d.Posture.ScreenLockEnabled,
				Jailbroken:        d.Posture.Jailbroken,
			},
		}
		out = append(out, body)
	}
	writeJSON(w, http.StatusOK, out)
}

type connectorBody struct {
	Name       string `json:"name"`
	ResourceID string `json:"resource_id"`
	Type       string `json:"type"`
	Endpoint   string `json:"endpoint"`
	Health     string `json:"health"`

	Capabilities *struct {
		SupportsTCP           bool `json:"supports_tcp"`
		SupportsUDP           bool `json:"supports_udp"`
		SupportsHTTP          bool `json:"supports_http"`
		SupportsRDP           bool `json:"supports_rdp"`
		SupportsSSH           bool `json:"supports_ssh"`
		MaxConcurrentSessions int  `json:"max_concurrent_sessions"`
		DLPEnabled            bool `json:"dlp_enabled"`
		SessionRecording      bool `json:"session_recording"`
	} `json:"capabilities"`
}

func (s *Server) handleUpsertConnector(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body connectorBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ResourceID == "" || body.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "validation", "resource_id and endpoint are required")
		return
	}
	caps := connectordomain.DefaultCapabilities()
	if body.Capabilities != nil {
		caps = connectordomain.Capabilities{
			SupportsTCP:           body.Capabilities.SupportsTCP,
			SupportsUDP:           body.Capabilities.SupportsUDP,
			SupportsHTTP:          body.Capabilities.SupportsHTTP,
			SupportsRDP:           body.Capabilities.SupportsRDP,
			SupportsSSH:           body.Capabilities.SupportsSSH,
			MaxConcurrentSessions: body.Capabilities.MaxConcurrentSessions,
			DLPEnabled:            body.Capabilities.DLPEnabled,
			SessionRecording:      body.Capabilities.SessionRecording,
		}
	}
	s.deps.Connectors.RegisterConnector(connectordomain.Connector{
		ID:           id,
		Name:         body.Name,
		ResourceID:   body.ResourceID,
		Type:         connectordomain.ConnectorType(body.Type),
		Endpoint:     body.Endpoint,
		Health:       connectordomain.Health(body.Health),
		Capabilities: caps,
	})
	writeJSON(w, http.StatusOK, map[string]string{"connector_id": id, "status": "registered"})
}

type resourceBody struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Sensitivity string            `json:"sensitivity"`
	Segment     string            `json:"segment"`
	Owner       string            `json:"owner"`
	Tags        map[string]string `json:"tags"`
}

func (s *Server) handleUpsertResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body resourceBody
	if !decodeBody(w, r, &body) {
		return
	}
	sensitivity, ok := parseSensitivity(body.Sensitivity)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation", "unknown sensitivity "+body.Sensitivity)
		return
	}
	s.deps.Resources.Upsert(&resourcedomain.Resource{
		ID:          id,
		Name:        body.Name,
		Type:        resourcedomain.ResourceType(body.Type),
		Sensitivity: sensitivity,
		Segment:     body.Segment,
		Owner:       body.Owner,
		Tags:        body.Tags,
	})
	writeJSON(w, http.StatusOK, map[string]string{"resource_id": id, "status": "registered"})
}

type policyBody struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Priority    int                `json:"priority"`
	Enabled     bool               `json:"enabled"`
	Effect      string             `json:"effect"`
	RegoRule    string             `json:"rego_rule"`
	Conditions  []domain.Condition `json:"conditions"`
	Match       policyMatchBody    `json:"match"`
}

type policyMatchBody struct {
	Segments         []string `json:"segments"`
	Resources        []string `json:"resources"`
	ResourceTypes    []string `json:"resource_types"`
	MinSensitivity   string   `json:"min_sensitivity"`
	Groups           []string `json:"groups"`
	Roles            []string `json:"roles"`
	Networks         []string `json:"networks"`
	Countries        []string `json:"countries"`
	RequireManaged   *bool    `json:"require_managed"`
	RequireCompliant *bool    `json:"require_compliant"`
	HourStart        *int     `json:"hour_start"`
	HourEnd          *int     `json:"hour_end"`
}

func (s *Server) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body policyBody
	if !decodeBody(w, r, &body) {
		return
	}
	match := policydomain.Match{
		Segments:         body.Match.Segments,
		Resources:        body.Match.Resources,
		Groups:           body.Match.Groups,
		Roles:            body.Match.Roles,
		Countries:        body.Match.Countries,
		RequireManaged:   body.Match.RequireManaged,
		RequireCompliant: body.Match.RequireCompliant,
	}
	for _, rt := range body.Match.ResourceTypes {
		match.ResourceTypes = append(match.ResourceTypes, resourcedomain.ResourceType(rt))
	}
	for _, n := range body.Match.Networks {
		match.Networks = append(match.Networks, accessctx.NetworkType(n))
	}
	if body.Match.MinSensitivity != "" {
		sensitivity, ok := parseSensitivity(body.Match.MinSensitivity)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation", "unknown sensitivity "+body.Match.MinSensitivity)
			return
		}
		match.MinSensitivity = &sensitivity
	}
	if body.Match.HourStart != nil && body.Match.HourEnd != nil {
		match.Hours = &accessctx.HourWindow{Start: *body.Match.HourStart, End: *body.Match.HourEnd}
	}

	err := s.deps.Policies.Upsert(policydomain.Policy{
		ID:          id,
		Name:        body.Name,
		Description: body.Description,
		Priority:    body.Priority,
		Enabled:     body.Enabled,
		Match:       match,
		Effect:      domain.Decision(body.Effect),
		Conditions:  body.Conditions,
		RegoRule:    body.RegoRule,
	})
	if err != nil {
		if errors.Is(err, policyengine.ErrInvalidPolicy) {
			writeError(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"policy_id": id, "status": "stored"})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := s.deps.Policies.List()
	out := make([]map[string]any, 0, len(policies))
	for _, p := range policies {
		out = append(out, map[string]any{
			"id":       p.ID,
			"name":     p.Name,
			"priority": p.Priority,
			"enabled":  p.Enabled,
			"effect":   string(p.Effect),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":   s.deps.Sessions.Stats(),
		"connectors": s.deps.Connectors.Stats(),
	})
}

func (s *Server) auditStepUp(ch *stepupdomain.Challenge, outcome string) {
	audit.EmitAsync(s.deps.Emitter, &auditdomain.Event{
		ID:        uuid.NewString(),
		Type:      auditdomain.EventStepUpChallenge,
		Actor:     ch.UserID,
		SessionID: ch.SessionID,
		Decision:  outcome,
		Metadata:  map[string]string{"challenge_id": ch.ID, "challenge_type": string(ch.ChallengeType), "reason": string(ch.Reason)},
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Server) auditMfa(ch *mfadomain.Challenge, outcome string) {
	audit.EmitAsync(s.deps.Emitter, &auditdomain.Event{
		ID:        uuid.NewString(),
		Type:      auditdomain.EventMfaChallenge,
		Actor:     ch.UserID,
		Decision:  outcome,
		Metadata:  map[string]string{"challenge_id": ch.ID, "factor_type": string(ch.FactorType)},
		CreatedAt: time.Now().UTC(),
	})
}

func validReason(r stepupdomain.Reason) bool {
	switch r {
	case stepupdomain.ReasonSensitiveResource, stepupdomain.ReasonTrustDegradation,
		stepupdomain.ReasonHighRiskAction, stepupdomain.ReasonSessionTimeout,
		stepupdomain.ReasonPolicyRequired, stepupdomain.ReasonAdminForced:
		return true
	default:
		return false
	}
}

func parseSensitivity(s string) (resourcedomain.Sensitivity, bool) {
	switch s {
	case "", "public":
		return resourcedomain.SensitivityPublic, true
	case "internal":
		return resourcedomain.SensitivityInternal, true
	case "confidential":
		return resourcedomain.SensitivityConfidential, true
	case "restricted":
		return resourcedomain.SensitivityRestricted, true
	case "top_secret":
		return resourcedomain.SensitivityTopSecret, true
	default:
		return 0, false
	}
}
