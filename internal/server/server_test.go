package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/connector"
	"opensase/access-plane/internal/device"
	"opensase/access-plane/internal/history"
	"opensase/access-plane/internal/mfa"
	mfadomain "opensase/access-plane/internal/mfa/domain"
	policyengine "opensase/access-plane/internal/policy/engine"
	"opensase/access-plane/internal/processor"
	"opensase/access-plane/internal/resource"
	"opensase/access-plane/internal/security"
	"opensase/access-plane/internal/session"
	"opensase/access-plane/internal/stepup"
	stepupdomain "opensase/access-plane/internal/stepup/domain"
	"opensase/access-plane/internal/trust"
)

func newTestServer(t *testing.T) (http.Handler, Deps) {
	t.Helper()
	assessor := device.NewAssessor(device.DefaultRequirements(), device.DefaultWeights())
	trustEngine := trust.NewEngine(assessor, trust.DefaultThresholds(), trust.DefaultPenalties())
	contexts := accessctx.NewEvaluator([]string{"10.0.0.0/8"}, nil, nil, 0)
	policies := policyengine.NewEngine()
	sessions := session.NewManager(time.Hour)
	tunnels := connector.NewManager()
	devices := device.NewRegistry()
	resources := resource.NewRegistry()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("test token provider: %v", err)
	}
	credentials := security.NewCredentialStore(security.NewHasher(bcrypt.MinCost))
	stepVerifiers := map[stepupdomain.ChallengeType]stepup.Verifier{
		stepupdomain.TypeMfa: stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return response == "ok", nil
		}),
		stepupdomain.TypeReAuth: stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return credentials.Verify(ch.UserID, response), nil
		}),
	}
	deps := Deps{
		Processor: processor.New(contexts, trustEngine, policies, sessions, tunnels,
			history.NewMemory(), tokens, nil, nil, nil, processor.Options{AutoTunnel: true}),
		Contexts:    contexts,
		Sessions:    sessions,
		StepUps:     stepup.NewManager(stepVerifiers),
		MFA:         mfa.NewEngine(nil, nil, nil),
		Devices:     devices,
		Resources:   resources,
		Connectors:  tunnels,
		Policies:    policies,
		Credentials: credentials,
	}
	return Router(deps), deps
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Forwarded-For", "10.1.2.3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedCatalog(t *testing.T, h http.Handler) {
	t.Helper()
	rec := doJSON(t, h, "PUT", "/v1/resources/res-1", map[string]any{
		"name":        "billing",
		"type":        "application",
		"sensitivity": "internal",
		"segment":     "corp",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert resource: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, "PUT", "/v1/devices/dev-1", map[string]any{
		"user_id":   "u1",
		"name":      "laptop",
		"os":        "linux",
		"managed":   true,
		"compliant": true,
		"posture": map[string]any{
			"firewall_enabled":    true,
			"antivirus_running":   true,
			"disk_encrypted":      true,
			"os_patched":          true,
			"screen_lock_enabled": true,
		},
		"certificates": []map[string]any{{
			"id":          "cert-1",
			"valid_from":  time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
			"valid_until": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert device: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, "PUT", "/v1/connectors/conn-1", map[string]any{
		"name":        "east",
		"resource_id": "res-1",
		"type":        "agent",
		"endpoint":    "10.9.0.1:8443",
		"health":      "healthy",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert connector: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, "PUT", "/v1/policies/p-corp", map[string]any{
		"name":     "corp allow",
		"priority": 10,
		"enabled":  true,
		"effect":   "allow",
		"match":    map[string]any{"segments": []string{"corp"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert policy: %d %s", rec.Code, rec.Body)
	}
}

func accessRequestBody(mfaVerified bool) map[string]any {
	return map[string]any{
		"identity": map[string]any{
			"user_id":      "u1",
			"email":        "u1@example.com",
			"groups":       []string{"engineering"},
			"mfa_verified": mfaVerified,
			"provider":     "oidc",
		},
		"device_id":   "dev-1",
		"resource_id": "res-1",
		"action":      "read",
	}
}

func TestAccessGrantedEndToEnd(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, "POST", "/v1/access", accessRequestBody(true))
	if rec.Code != http.StatusOK {
		t.Fatalf("access: %d %s", rec.Code, rec.Body)
	}
	var decision struct {
		Decision     string `json:"decision"`
		SessionID    string `json:"session_id"`
		SessionToken string `json:"session_token"`
		TunnelID     string `json:"tunnel_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Decision != "allow" {
		t.Fatalf("decision = %s, body %s", decision.Decision, rec.Body)
	}
	if decision.SessionID == "" || decision.TunnelID == "" || decision.SessionToken == "" {
		t.Errorf("expected session, tunnel, and token: %+v", decision)
	}
}

func TestAccessUnknownResource(t *testing.T) {
	h, _ := newTestServer(t)

	body := accessRequestBody(true)
	body["device_id"] = ""
	rec := doJSON(t, h, "POST", "/v1/access", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body)
	}
	var e errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Error.Kind != "not_found" {
		t.Errorf("kind = %s", e.Error.Kind)
	}
}

func TestAccessWithoutDeviceDenies(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)

	body := accessRequestBody(true)
	delete(body, "device_id")
	rec := doJSON(t, h, "POST", "/v1/access", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("access without device: %d %s", rec.Code, rec.Body)
	}
	var decision struct {
		Decision  string `json:"decision"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Decision != "deny" {
		t.Errorf("decision = %s, want deny without device posture", decision.Decision)
	}
	if decision.SessionID != "" {
		t.Error("denied request must not create a session")
	}
}

func TestAccessChallengeForUnverifiedMfa(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)
	rec := doJSON(t, h, "PUT", "/v1/resources/res-1", map[string]any{
		"name":        "billing",
		"type":        "application",
		"sensitivity": "confidential",
		"segment":     "corp",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert resource: %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/v1/access", accessRequestBody(false))
	if rec.Code != http.StatusOK {
		t.Fatalf("access: %d %s", rec.Code, rec.Body)
	}
	var decision struct {
		Decision  string `json:"decision"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Decision != "challenge" {
		t.Fatalf("decision = %s, body %s", decision.Decision, rec.Body)
	}
	if decision.SessionID != "" {
		t.Errorf("challenge must not create a session")
	}
}

func TestEndSessionEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, "POST", "/v1/access", accessRequestBody(true))
	var decision struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, "POST", "/v1/sessions/"+decision.SessionID+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "POST", "/v1/sessions/nope/end", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestStepUpFlow(t *testing.T) {
	h, deps := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, "POST", "/v1/access", accessRequestBody(true))
	var decision struct {
		SessionID  string `json:"session_id"`
		TrustScore int    `json:"trust_score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, "POST", "/v1/sessions/"+decision.SessionID+"/stepup", map[string]any{
		"reason": "sensitive_resource",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create step-up: %d %s", rec.Code, rec.Body)
	}
	var challenge struct {
		ID            string `json:"id"`
		ChallengeType string `json:"challenge_type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if challenge.ChallengeType != "mfa" {
		t.Errorf("challenge_type = %s, want mfa", challenge.ChallengeType)
	}

	// Second pending challenge for the same session conflicts.
	rec = doJSON(t, h, "POST", "/v1/sessions/"+decision.SessionID+"/stepup", map[string]any{
		"reason": "sensitive_resource",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for second pending challenge, got %d", rec.Code)
	}

	// Wrong response fails, session score unchanged.
	rec = doJSON(t, h, "POST", "/v1/stepup/"+challenge.ID+"/verify", map[string]any{"response": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong response, got %d %s", rec.Code, rec.Body)
	}

	// Correct response completes and applies the trust bonus.
	rec = doJSON(t, h, "POST", "/v1/stepup/"+challenge.ID+"/verify", map[string]any{"response": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify step-up: %d %s", rec.Code, rec.Body)
	}
	var verify struct {
		Success    bool `json:"success"`
		TrustBonus int  `json:"trust_bonus"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verify); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !verify.Success || verify.TrustBonus != 10 {
		t.Errorf("verify = %+v, want success with bonus 10", verify)
	}
	sess, err := deps.Sessions.Get(decision.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.TrustScore < decision.TrustScore {
		t.Errorf("trust score %d should not drop below %d", sess.TrustScore, decision.TrustScore)
	}
}

func TestReAuthStepUpUsesStoredCredential(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, "PUT", "/v1/users/u1/credentials", map[string]any{"password": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set credentials: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, "PUT", "/v1/users/u1/credentials", map[string]any{"password": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty password, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/v1/access", accessRequestBody(true))
	var decision struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, "POST", "/v1/sessions/"+decision.SessionID+"/stepup", map[string]any{
		"reason": "session_timeout",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create step-up: %d %s", rec.Code, rec.Body)
	}
	var challenge struct {
		ID            string `json:"id"`
		ChallengeType string `json:"challenge_type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if challenge.ChallengeType != "reauth" {
		t.Errorf("challenge_type = %s, want reauth", challenge.ChallengeType)
	}

	rec = doJSON(t, h, "POST", "/v1/stepup/"+challenge.ID+"/verify", map[string]any{"response": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong password, got %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "POST", "/v1/stepup/"+challenge.ID+"/verify", map[string]any{"response": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify step-up: %d %s", rec.Code, rec.Body)
	}
	var verify struct {
		Success    bool `json:"success"`
		TrustBonus int  `json:"trust_bonus"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verify); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !verify.Success || verify.TrustBonus != 20 {
		t.Errorf("verify = %+v, want success with reauth bonus 20", verify)
	}
}

func TestStepUpUnknownReason(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)
	rec := doJSON(t, h, "POST", "/v1/access", accessRequestBody(true))
	var decision struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, "POST", "/v1/sessions/"+decision.SessionID+"/stepup", map[string]any{
		"reason": "because",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown reason, got %d", rec.Code)
	}
}

func TestMfaChallengeValidation(t *testing.T) {
	h, deps := newTestServer(t)

	// Unregistered factor rejected before any mutation.
	rec := doJSON(t, h, "POST", "/v1/mfa/challenges", map[string]any{
		"user_id":     "u1",
		"factor_type": "totp",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body)
	}

	deps.MFA.RegisterFactor("u1", mfadomain.Factor{
		Type:   mfadomain.FactorTotp,
		Name:   "authenticator",
		Secret: "JBSWY3DPEHPK3PXP",
	})
	rec = doJSON(t, h, "POST", "/v1/mfa/challenges", map[string]any{
		"user_id":     "u1",
		"factor_type": "totp",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create challenge: %d %s", rec.Code, rec.Body)
	}
	var challenge struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &challenge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if challenge.State != "pending" {
		t.Errorf("state = %s, want pending", challenge.State)
	}

	// Bad code is rejected but the challenge survives until attempts run out.
	rec = doJSON(t, h, "POST", "/v1/mfa/challenges/"+challenge.ID+"/verify", map[string]any{"response": "000000"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for wrong code, got %d", rec.Code)
	}
}

func TestUserDevicesAndStats(t *testing.T) {
	h, _ := newTestServer(t)
	seedCatalog(t, h)

	rec := doJSON(t, h, "GET", "/v1/users/u1/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user devices: %d", rec.Code)
	}
	var devices []deviceBody
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "laptop" {
		t.Errorf("devices = %+v", devices)
	}

	rec = doJSON(t, h, "GET", "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var stats map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := stats["sessions"]; !ok {
		t.Error("missing sessions stats")
	}
	if _, ok := stats["connectors"]; !ok {
		t.Error("missing connectors stats")
	}
}

func TestPolicyUpsertRejectsBadRego(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, "PUT", "/v1/policies/p-bad", map[string]any{
		"name":      "broken",
		"priority":  5,
		"enabled":   true,
		"effect":    "allow",
		"rego_rule": "package access.policy\nmatch if {",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid rego, got %d %s", rec.Code, rec.Body)
	}
}
