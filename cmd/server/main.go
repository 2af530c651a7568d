// Server runs the access-plane HTTP API: trust and policy evaluation, MFA and
// step-up challenges, sessions, and tunnel lifecycle, with audit events going
// to Kafka and OTel.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opensase/access-plane/internal/accessctx"
	"opensase/access-plane/internal/accessctx/geoip"
	"opensase/access-plane/internal/audit"
	auditotel "opensase/access-plane/internal/audit/otel"
	"opensase/access-plane/internal/audit/producer"
	"opensase/access-plane/internal/config"
	"opensase/access-plane/internal/connector"
	"opensase/access-plane/internal/db"
	"opensase/access-plane/internal/device"
	"opensase/access-plane/internal/history"
	"opensase/access-plane/internal/mfa"
	mfadomain "opensase/access-plane/internal/mfa/domain"
	"opensase/access-plane/internal/mfa/sms"
	policyengine "opensase/access-plane/internal/policy/engine"
	"opensase/access-plane/internal/processor"
	"opensase/access-plane/internal/resource"
	"opensase/access-plane/internal/security"
	"opensase/access-plane/internal/server"
	"opensase/access-plane/internal/session"
	"opensase/access-plane/internal/stepup"
	"opensase/access-plane/internal/stepup/approval"
	stepupdomain "opensase/access-plane/internal/stepup/domain"
	"opensase/access-plane/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	providers, err := auditotel.NewProviders(ctx, cfg.OTLPEndpoint, "access-plane", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	kafkaProducer, err := producer.NewKafkaProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	emitter := audit.Multi{kafkaProducer, auditotel.NewEmitter(providers.LoggerProvider)}

	var geo accessctx.GeoLookup
	if cfg.GeoIPURL != "" {
		geo = geoip.NewClient(cfg.GeoIPURL)
	}
	contexts := accessctx.NewEvaluator(cfg.CorporateCIDRList(), cfg.VPNEgressIPList(), geo, cfg.MaxTravelKmPerMin)

	assessor := device.NewAssessor(device.DefaultRequirements(), device.DefaultWeights())
	trustEngine := trust.NewEngine(assessor, trust.DefaultThresholds(), trust.DefaultPenalties())
	policies := policyengine.NewEngine()
	sessions := session.NewManager(cfg.SessionTTL())
	tunnels := connector.NewManager()
	devices := device.NewRegistry()
	resources := resource.NewRegistry()

	var smsSender mfa.CodeSender
	if cfg.SMSLocalAPIKey != "" {
		smsSender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}
	mfaEngine := mfa.NewEngine(smsSender, nil, nil)
	credentials := security.NewCredentialStore(security.NewHasher(cfg.BcryptCost))
	var approvals *approval.Client
	if cfg.ApprovalURL != "" {
		approvals = approval.NewClient(cfg.ApprovalURL)
	}
	stepUps := stepup.NewManager(stepUpVerifiers(mfaEngine, credentials, approvals))

	var hist history.Provider = history.NewMemory()
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		hist = history.NewPostgres(sqlDB)
	}

	var tokens *security.TokenProvider
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		priv, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("jwt private key: %v", err)
		}
		pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("jwt public key: %v", err)
		}
		tokens = security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience)
	}

	proc := processor.New(contexts, trustEngine, policies, sessions, tunnels, hist, tokens, emitter, nil, nil, processor.Options{
		AutoTunnel: cfg.AutoCreateTunnel,
		RecordAll:  cfg.RecordSessions,
	})

	handler := server.Router(server.Deps{
		Processor:   proc,
		Contexts:    contexts,
		Sessions:    sessions,
		StepUps:     stepUps,
		MFA:         mfaEngine,
		Devices:     devices,
		Resources:   resources,
		Connectors:  tunnels,
		Policies:    policies,
		Credentials: credentials,
		Emitter:     emitter,
	})

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	go runSweeps(sweepCtx, cfg.SweepEvery(), sessions, stepUps, mfaEngine)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	stopSweeps()

	// Give in-flight async audit emits time to land before tearing down sinks.
	time.Sleep(audit.ShutdownDrainDuration)
	if err := kafkaProducer.Close(); err != nil {
		log.Printf("kafka close: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

// stepUpVerifiers wires each step-up challenge type to its verification path.
// MFA and biometric step-ups delegate to the user's registered factors; re-auth
// checks the stored local credential; manager approval asks the external
// approval collaborator. Without a configured collaborator, manager-approval
// step-ups have no verifier and fail closed.
func stepUpVerifiers(engine *mfa.Engine, credentials *security.CredentialStore, approvals *approval.Client) map[stepupdomain.ChallengeType]stepup.Verifier {
	verifiers := map[stepupdomain.ChallengeType]stepup.Verifier{
		stepupdomain.TypeMfa: stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return engine.VerifyFactor(ctx, ch.UserID, mfadomain.FactorTotp, response), nil
		}),
		stepupdomain.TypeBiometric: stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return engine.VerifyFactor(ctx, ch.UserID, mfadomain.FactorBiometric, response), nil
		}),
		stepupdomain.TypeReAuth: stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return credentials.Verify(ch.UserID, response), nil
		}),
	}
	if approvals != nil {
		verifiers[stepupdomain.TypeManagerApproval] = stepup.VerifierFunc(func(ctx context.Context, ch *stepupdomain.Challenge, response string) (bool, error) {
			return approvals.Approved(ctx, ch.UserID, ch.ID, response)
		})
	}
	return verifiers
}

// runSweeps periodically expires abandoned sessions and challenges.
func runSweeps(ctx context.Context, every time.Duration, sessions *session.Manager, stepUps *stepup.Manager, mfaEngine *mfa.Engine) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				log.Printf("sweep: expired %d sessions", n)
			}
			if n := stepUps.Sweep(); n > 0 {
				log.Printf("sweep: expired %d step-up challenges", n)
			}
			if n := mfaEngine.Sweep(); n > 0 {
				log.Printf("sweep: expired %d mfa challenges", n)
			}
		}
	}
}
