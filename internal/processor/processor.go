// Package processor orchestrates trust, policy, session, and tunnel components
// into one decision pipeline per access request.
package processor

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	domain "opensase/access-plane/internal/access/domain"
	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/audit"
	auditdomain "opensase/access-plane/internal/audit/domain"
	"opensase/access-plane/internal/connector"
	connectordomain "opensase/access-plane/internal/connector/domain"
	"opensase/access-plane/internal/history"
	policyengine "opensase/access-plane/internal/policy/engine"
	resourcedomain "opensase/access-plane/internal/resource/domain"
	"opensase/access-plane/internal/security"
	"opensase/access-plane/internal/session"
	"opensase/access-plane/internal/trust"
)

// Recorder starts activity recording for a session. External collaborator;
// failures degrade the request, they do not fail it.
type Recorder interface {
	StartRecording(ctx context.Context, sessionID string) error
}

// Inspector is the external content-inspection collaborator. No scanning logic
// lives in this process.
type Inspector interface {
	Inspect(ctx context.Context, sessionID, content string) (bool, error)
}

// Options toggle optional pipeline behavior.
type Options struct {
	// AutoTunnel creates and activates a micro-tunnel for every granted request.
	AutoTunnel bool
	// RecordAll forces session recording regardless of trust recommendation.
	RecordAll bool
}

// Processor runs the access decision pipeline.
type Processor struct {
	contexts *accessctx.Evaluator
	trust    *trust.Engine
	policies *policyengine.Engine
	sessions *session.Manager
	tunnels  *connector.Manager
	history  history.Provider
	tokens   *security.TokenProvider
	emitter  audit.Emitter
	recorder Recorder
	dlp      Inspector
	opts     Options

	nowF func() time.Time
}

// New wires a Processor. contexts, trustEngine, policies, sessions, and tunnels
// are required; the rest may be nil and the corresponding step degrades or is
// skipped.
func New(
	contexts *accessctx.Evaluator,
	trustEngine *trust.Engine,
	policies *policyengine.Engine,
	sessions *session.Manager,
	tunnels *connector.Manager,
	hist history.Provider,
	tokens *security.TokenProvider,
	emitter audit.Emitter,
	recorder Recorder,
	dlp Inspector,
	opts Options,
) *Processor {
	return &Processor{
		contexts: contexts,
		trust:    trustEngine,
		policies: policies,
		sessions: sessions,
		tunnels:  tunnels,
		history:  hist,
		tokens:   tokens,
		emitter:  emitter,
		recorder: recorder,
		dlp:      dlp,
		opts:     opts,
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Process evaluates one access request and returns the authoritative decision.
// The pipeline short-circuits on Deny and Challenge outcomes; tunnel creation
// failure after a grant is non-fatal.
func (p *Processor) Process(ctx context.Context, req *domain.AccessRequest) *domain.AccessDecision {
	started := p.nowF()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = started
	}

	p.enrichContext(ctx, req)

	// Step 1: trust evaluation. A Deny recommendation ends the request before
	// any session or tunnel state exists.
	ev := p.trust.Evaluate(req.Identity, req.Device, req.Resource, req.Context)
	if ev.Recommendation == trust.RecommendDeny {
		return p.finish(req, started, &domain.AccessDecision{
			RequestID:  req.ID,
			Decision:   domain.DecisionDeny,
			TrustScore: ev.OverallScore,
			Reasons:    ev.Reasons,
		})
	}

	// Step 2: MFA gate. The caller re-submits once the out-of-band challenge
	// completes; no session is created for a challenged request.
	if ev.Recommendation == trust.RecommendAllowWithMfa && !req.Identity.MFAVerified {
		return p.finish(req, started, &domain.AccessDecision{
			RequestID:  req.ID,
			Decision:   domain.DecisionChallenge,
			TrustScore: ev.OverallScore,
			Reasons:    append(ev.Reasons, "mfa verification required"),
			Conditions: []domain.Condition{{Type: domain.ConditionRequireMfa}},
		})
	}

	// Step 3: policy evaluation. No matching policy denies by default.
	pd := p.policies.Evaluate(ctx, req)
	if pd.Decision == domain.DecisionDeny {
		return p.finish(req, started, &domain.AccessDecision{
			RequestID:  req.ID,
			Decision:   domain.DecisionDeny,
			TrustScore: ev.OverallScore,
			Reasons:    pd.Reasons,
		})
	}

	// Step 4: idempotent session upsert.
	recording := ev.Recommendation == trust.RecommendAllowWithRecord || p.opts.RecordAll
	sess := p.sessions.CreateOrUpdate(req.Identity, req.Device, req.Resource, ev.OverallScore, recording)

	decision := &domain.AccessDecision{
		RequestID:  req.ID,
		Decision:   domain.DecisionAllow,
		TrustScore: ev.OverallScore,
		Reasons:    append(ev.Reasons, pd.Reasons...),
		SessionID:  sess.ID,
	}
	expires := sess.ExpiresAt
	decision.ExpiresAt = &expires

	// Step 5: recording collaborator.
	if recording && p.recorder != nil {
		if err := p.recorder.StartRecording(ctx, sess.ID); err != nil {
			log.Printf("processor: start recording for session %s: %v", sess.ID, err)
			decision.Reasons = append(decision.Reasons, "session recording unavailable")
		}
	}

	// Step 6: tunnel auto-creation. Failure here degrades the grant; access
	// stands without a tunnel.
	if p.opts.AutoTunnel {
		tunnel, err := p.tunnels.CreateTunnel(sess.ID, req.Identity.UserID, req.Resource.ID, protocolFor(req.Resource))
		if err != nil {
			log.Printf("processor: tunnel for session %s: %v", sess.ID, err)
			decision.Reasons = append(decision.Reasons, "tunnel unavailable: access granted without tunnel")
		} else {
			if err := p.tunnels.ActivateTunnel(tunnel.ID); err != nil {
				log.Printf("processor: activate tunnel %s: %v", tunnel.ID, err)
			}
			decision.TunnelID = tunnel.ID
			p.auditTunnel(req, sess.ID, tunnel.ID, "established")
		}
	}

	// Step 7: merge advisory conditions and issue the session token.
	decision.Conditions = mergeConditions(pd.Conditions, recording, p.nowF(), sess.ExpiresAt)
	if p.tokens != nil {
		deviceID := ""
		if req.Device != nil {
			deviceID = req.Device.ID
		}
		token, _, err := p.tokens.IssueSession(sess.ID, req.Identity.UserID, deviceID, req.Resource.ID, sess.ExpiresAt)
		if err != nil {
			log.Printf("processor: issue session token for %s: %v", sess.ID, err)
		} else {
			decision.SessionToken = token
		}
	}

	p.recordBaseline(ctx, req)
	return p.finish(req, started, decision)
}

// EndSession closes every tunnel bound to the session and then terminates it.
// Teardown order guarantees no tunnel references a terminated session.
func (p *Processor) EndSession(sessionID string) error {
	p.tunnels.CloseSessionTunnels(sessionID)
	sess, err := p.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if err := p.sessions.Terminate(sessionID); err != nil {
		return err
	}
	audit.EmitAsync(p.emitter, &auditdomain.Event{
		ID:        uuid.NewString(),
		Type:      auditdomain.EventSession,
		Actor:     sess.Identity.UserID,
		SessionID: sessionID,
		Decision:  "terminated",
		CreatedAt: p.nowF(),
	})
	return nil
}

// CheckDLP passes session content to the external inspection collaborator.
// With no inspector configured the content passes; an inspector error is a
// collaborator failure and also passes, with a logged warning.
func (p *Processor) CheckDLP(ctx context.Context, sessionID, content string) bool {
	if p.dlp == nil {
		return true
	}
	ok, err := p.dlp.Inspect(ctx, sessionID, content)
	if err != nil {
		log.Printf("processor: dlp inspection for session %s: %v", sessionID, err)
		return true
	}
	return ok
}

// enrichContext loads the user's baseline and derives risk signals onto the
// request context. A history failure leaves the signals empty rather than
// failing the request.
func (p *Processor) enrichContext(ctx context.Context, req *domain.AccessRequest) {
	if req.Context == nil || p.history == nil {
		return
	}
	hist, err := p.history.History(ctx, req.Identity.UserID)
	if err != nil {
		log.Printf("processor: history for user %s: %v", req.Identity.UserID, err)
		return
	}
	deviceID, deviceName := "", ""
	if req.Device != nil {
		deviceID = req.Device.ID
		deviceName = req.Device.Name
	}
	req.Context.Signals = p.contexts.Evaluate(deviceID, deviceName, req.Context, hist)
}

// recordBaseline folds a granted access back into the user's history.
func (p *Processor) recordBaseline(ctx context.Context, req *domain.AccessRequest) {
	if p.history == nil {
		return
	}
	deviceID := ""
	if req.Device != nil {
		deviceID = req.Device.ID
	}
	var geo *accessctx.GeoLocation
	if req.Context != nil {
		geo = req.Context.GeoLocation
	}
	if err := p.history.RecordAccess(ctx, req.Identity.UserID, deviceID, geo, p.nowF()); err != nil {
		log.Printf("processor: record access for user %s: %v", req.Identity.UserID, err)
	}
}

// finish stamps the decision and emits the audit record with pipeline latency.
func (p *Processor) finish(req *domain.AccessRequest, started time.Time, d *domain.AccessDecision) *domain.AccessDecision {
	now := p.nowF()
	d.EvaluatedAt = now

	deviceID := ""
	if req.Device != nil {
		deviceID = req.Device.ID
	}
	audit.EmitAsync(p.emitter, &auditdomain.Event{
		ID:         uuid.NewString(),
		Type:       auditdomain.EventAccessDecision,
		Actor:      req.Identity.UserID,
		DeviceID:   deviceID,
		SessionID:  d.SessionID,
		ResourceID: req.Resource.ID,
		Decision:   string(d.Decision),
		Reasons:    d.Reasons,
		LatencyMS:  now.Sub(started).Milliseconds(),
		CreatedAt:  now,
	})
	return d
}

func (p *Processor) auditTunnel(req *domain.AccessRequest, sessionID, tunnelID, outcome string) {
	audit.EmitAsync(p.emitter, &auditdomain.Event{
		ID:         uuid.NewString(),
		Type:       auditdomain.EventTunnel,
		Actor:      req.Identity.UserID,
		SessionID:  sessionID,
		ResourceID: req.Resource.ID,
		Decision:   outcome,
		Metadata:   map[string]string{"tunnel_id": tunnelID},
		CreatedAt:  p.nowF(),
	})
}

// mergeConditions combines policy conditions with the session-management ones.
// Policy conditions win on type collisions.
func mergeConditions(policy []domain.Condition, recording bool, now, expiresAt time.Time) []domain.Condition {
	merged := make([]domain.Condition, 0, len(policy)+2)
	seen := make(map[domain.ConditionType]struct{}, len(policy))
	for _, c := range policy {
		merged = append(merged, c)
		seen[c.Type] = struct{}{}
	}
	if recording {
		if _, ok := seen[domain.ConditionSessionRecording]; !ok {
			merged = append(merged, domain.Condition{Type: domain.ConditionSessionRecording})
		}
	}
	if _, ok := seen[domain.ConditionSessionTimeout]; !ok {
		minutes := int(expiresAt.Sub(now).Minutes())
		if minutes > 0 {
			merged = append(merged, domain.Condition{Type: domain.ConditionSessionTimeout, Minutes: minutes})
		}
	}
	return merged
}

// protocolFor picks the tunnel protocol a resource type implies.
func protocolFor(res *resourcedomain.Resource) connectordomain.Protocol {
	switch res.Type {
	case resourcedomain.TypeApplication, resourcedomain.TypeAPI, resourcedomain.TypeService:
		return connectordomain.ProtocolHTTPS
	case resourcedomain.TypeInfrastructure:
		return connectordomain.ProtocolSSH
	default:
		return connectordomain.ProtocolTCP
	}
}
