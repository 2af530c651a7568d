package stepup

import (
	"context"
	"errors"
	"testing"
	"time"

	"opensase/access-plane/internal/stepup/domain"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func acceptAll() Verifier {
	return VerifierFunc(func(context.Context, *domain.Challenge, string) (bool, error) {
		return true, nil
	})
}

func rejectAll() Verifier {
	return VerifierFunc(func(context.Context, *domain.Challenge, string) (bool, error) {
		return false, nil
	})
}

func newTestManager(verifiers map[domain.ChallengeType]Verifier) *Manager {
	m := NewManager(verifiers)
	m.nowF = func() time.Time { return testNow }
	return m
}

func TestTypeForReasonMapping(t *testing.T) {
	cases := []struct {
		reason domain.Reason
		want   domain.ChallengeType
	}{
		{domain.ReasonSensitiveResource, domain.TypeMfa},
		{domain.ReasonTrustDegradation, domain.TypeMfa},
		{domain.ReasonPolicyRequired, domain.TypeMfa},
		{domain.ReasonHighRiskAction, domain.TypeBiometric},
		{domain.ReasonSessionTimeout, domain.TypeReAuth},
		{domain.ReasonAdminForced, domain.TypeReAuth},
	}
	for _, tc := range cases {
		if got := domain.TypeForReason(tc.reason); got != tc.want {
			t.Errorf("TypeForReason(%s) = %s, want %s", tc.reason, got, tc.want)
		}
	}
}

func TestCreateChallengeBindsSession(t *testing.T) {
	m := newTestManager(nil)
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if ch.Status != domain.StatusPending || ch.ChallengeType != domain.TypeMfa {
		t.Fatalf("challenge = %+v, want pending mfa", ch)
	}
	if !m.HasPending("sess-1") {
		t.Fatal("HasPending false after create")
	}
	pending, ok := m.PendingChallenge("sess-1")
	if !ok || pending.ID != ch.ID {
		t.Fatalf("PendingChallenge = %+v, want %s", pending, ch.ID)
	}
}

func TestOnePendingChallengePerSession(t *testing.T) {
	m := newTestManager(nil)
	if _, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := m.CreateChallenge("sess-1", "alice", domain.ReasonHighRiskAction); !errors.Is(err, ErrPendingChallenge) {
		t.Fatalf("second CreateChallenge error = %v, want ErrPendingChallenge", err)
	}
}

func TestCreateReplacesExpiredLeftover(t *testing.T) {
	m := newTestManager(nil)
	old, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	m.nowF = func() time.Time { return testNow.Add(defaultChallengeTTL + time.Second) }

	fresh, err := m.CreateChallenge("sess-1", "alice", domain.ReasonAdminForced)
	if err != nil {
		t.Fatalf("CreateChallenge after expiry: %v", err)
	}
	stale, _ := m.Challenge(old.ID)
	if stale.Status != domain.StatusExpired {
		t.Errorf("old challenge status = %s, want expired", stale.Status)
	}
	pending, ok := m.PendingChallenge("sess-1")
	if !ok || pending.ID != fresh.ID {
		t.Fatalf("pending = %+v, want the fresh challenge", pending)
	}
}

func TestVerifySuccessGrantsBonusAndClearsBinding(t *testing.T) {
	m := newTestManager(map[domain.ChallengeType]Verifier{domain.TypeReAuth: acceptAll()})
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonAdminForced)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	got, err := m.Verify(context.Background(), ch.ID, "hunter2")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.TrustBonus != 20 {
		t.Errorf("TrustBonus = %d, want 20 for reauth", got.TrustBonus)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got.SessionID)
	}
	if m.HasPending("sess-1") {
		t.Error("pending binding survived a completed challenge")
	}
	stored, _ := m.Challenge(ch.ID)
	if stored.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestTrustBonusByType(t *testing.T) {
	cases := []struct {
		typ  domain.ChallengeType
		want int
	}{
		{domain.TypeReAuth, 20},
		{domain.TypeBiometric, 15},
		{domain.TypeMfa, 10},
		{domain.TypeManagerApproval, 5},
		{domain.TypeCustom, 5},
	}
	for _, tc := range cases {
		ch := domain.Challenge{ChallengeType: tc.typ}
		if got := ch.TrustBonus(); got != tc.want {
			t.Errorf("TrustBonus(%s) = %d, want %d", tc.typ, got, tc.want)
		}
	}
}

func TestVerifyAttemptCapFailsPermanently(t *testing.T) {
	m := newTestManager(map[domain.ChallengeType]Verifier{domain.TypeMfa: rejectAll()})
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonPolicyRequired)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	for i := 0; i < defaultMaxAttempts; i++ {
		if _, err := m.Verify(context.Background(), ch.ID, "wrong"); !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("attempt %d error = %v, want ErrVerificationFailed", i+1, err)
		}
	}
	stored, _ := m.Challenge(ch.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("status = %s after %d failures, want failed", stored.Status, defaultMaxAttempts)
	}
	if m.HasPending("sess-1") {
		t.Error("pending binding survived a failed challenge")
	}
	if _, err := m.Verify(context.Background(), ch.ID, "wrong"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("post-terminal Verify error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestVerifyUnknownChallenge(t *testing.T) {
	m := newTestManager(nil)
	if _, err := m.Verify(context.Background(), "no-such-id", "x"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("Verify error = %v, want ErrChallengeNotFound", err)
	}
}

func TestVerifyExpiredFlipsAndClears(t *testing.T) {
	m := newTestManager(map[domain.ChallengeType]Verifier{domain.TypeMfa: acceptAll()})
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	m.nowF = func() time.Time { return testNow.Add(defaultChallengeTTL + time.Second) }
	if _, err := m.Verify(context.Background(), ch.ID, "123456"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Verify error = %v, want ErrExpired", err)
	}
	stored, _ := m.Challenge(ch.ID)
	if stored.Status != domain.StatusExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
	if m.HasPending("sess-1") {
		t.Error("pending binding survived expiry")
	}
}

func TestVerifierErrorFailsClosed(t *testing.T) {
	boom := VerifierFunc(func(context.Context, *domain.Challenge, string) (bool, error) {
		return false, errors.New("backend down")
	})
	m := newTestManager(map[domain.ChallengeType]Verifier{domain.TypeMfa: boom})
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := m.Verify(context.Background(), ch.ID, "123456"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("Verify error = %v, want ErrVerificationFailed", err)
	}
}

func TestMissingVerifierFailsClosed(t *testing.T) {
	m := newTestManager(nil)
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonHighRiskAction)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, err := m.Verify(context.Background(), ch.ID, "sample"); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("Verify error = %v, want ErrVerificationFailed", err)
	}
}

func TestCancelClearsBindingAtomically(t *testing.T) {
	m := newTestManager(nil)
	ch, err := m.CreateChallenge("sess-1", "alice", domain.ReasonSensitiveResource)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	m.Cancel(ch.ID)
	stored, _ := m.Challenge(ch.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
	if m.HasPending("sess-1") {
		t.Error("pending binding survived a cancel")
	}

	// Cancelling a terminal challenge changes nothing.
	m.Cancel(ch.ID)
	stored, _ = m.Challenge(ch.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("status = %s after second cancel, want cancelled", stored.Status)
	}
}

func TestSweepFlipsExpiredPending(t *testing.T) {
	m := newTestManager(nil)
	chA, _ := m.CreateChallenge("sess-a", "alice", domain.ReasonSensitiveResource)
	chB, _ := m.CreateChallenge("sess-b", "bob", domain.ReasonAdminForced)

	m.nowF = func() time.Time { return testNow.Add(defaultChallengeTTL + time.Second) }
	chC, _ := m.CreateChallenge("sess-c", "carol", domain.ReasonHighRiskAction)

	if got := m.Sweep(); got != 2 {
		t.Fatalf("Sweep = %d, want 2", got)
	}
	for _, id := range []string{chA.ID, chB.ID} {
		stored, _ := m.Challenge(id)
		if stored.Status != domain.StatusExpired {
			t.Errorf("challenge %s status = %s, want expired", id, stored.Status)
		}
	}
	stored, _ := m.Challenge(chC.ID)
	if stored.Status != domain.StatusPending {
		t.Errorf("fresh challenge status = %s, want pending", stored.Status)
	}
	if m.HasPending("sess-a") || m.HasPending("sess-b") {
		t.Error("swept sessions still bound")
	}
	if !m.HasPending("sess-c") {
		t.Error("fresh session lost its binding")
	}
}
