package device

import (
	"testing"
	"time"

	"opensase/access-plane/internal/device/domain"
)

func fullPostureDevice() *domain.Device {
	return &domain.Device{
		ID:        "dev-1",
		Name:      "corp-laptop",
		Managed:   true,
		Compliant: true,
		Posture: domain.Posture{
			FirewallEnabled:   true,
			AntivirusRunning:  true,
			DiskEncrypted:     true,
			OSPatched:         true,
			ScreenLockEnabled: true,
		},
	}
}

func TestAssess_JailbrokenBlockedShortCircuits(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	d := fullPostureDevice() // every other flag on
	d.Posture.Jailbroken = true

	got := a.Assess(d)
	if got.TrustLevel != domain.TrustUntrusted {
		t.Errorf("trust level = %v, want untrusted", got.TrustLevel)
	}
	if got.Score != 0 {
		t.Errorf("score = %d, want 0", got.Score)
	}
	if got.Compliant {
		t.Error("jailbroken device must not be compliant")
	}
}

func TestAssess_JailbrokenWithoutBlockAppliesPenalty(t *testing.T) {
	req := DefaultRequirements()
	req.BlockJailbroken = false
	a := NewAssessor(req, DefaultWeights())
	d := fullPostureDevice()
	d.Posture.Jailbroken = true

	got := a.Assess(d)
	// 25+20+10+10+15+10+5 = 95, minus 50 penalty.
	if got.Score != 45 {
		t.Errorf("score = %d, want 45", got.Score)
	}
	if got.TrustLevel != domain.TrustMedium {
		t.Errorf("trust level = %v, want medium", got.TrustLevel)
	}
}

func TestAssess_FullPostureScoresHigh(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	got := a.Assess(fullPostureDevice())
	if got.Score != 95 {
		t.Errorf("score = %d, want 95", got.Score)
	}
	if got.TrustLevel != domain.TrustFull {
		t.Errorf("trust level = %v, want full", got.TrustLevel)
	}
	if !got.Compliant {
		t.Error("full posture should be compliant")
	}
}

func TestAssess_ScoreMonotonicInEachPostureFlag(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	base := &domain.Device{ID: "dev-1", Posture: domain.Posture{}}
	baseScore := a.Assess(base).Score

	flips := []func(*domain.Device){
		func(d *domain.Device) { d.Managed = true },
		func(d *domain.Device) { d.Compliant = true },
		func(d *domain.Device) { d.Posture.FirewallEnabled = true },
		func(d *domain.Device) { d.Posture.AntivirusRunning = true },
		func(d *domain.Device) { d.Posture.DiskEncrypted = true },
		func(d *domain.Device) { d.Posture.OSPatched = true },
		func(d *domain.Device) { d.Posture.ScreenLockEnabled = true },
	}
	for i, flip := range flips {
		d := &domain.Device{ID: "dev-1", Posture: domain.Posture{}}
		flip(d)
		if got := a.Assess(d).Score; got < baseScore {
			t.Errorf("flip %d: score %d < base %d; positive flag must not lower score", i, got, baseScore)
		}
	}
}

func TestAssess_ComplianceIndependentOfScore(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	d := fullPostureDevice()
	d.Posture.ScreenLockEnabled = false // one required flag off

	got := a.Assess(d)
	if got.Score < 80 {
		t.Fatalf("score = %d, expected high score despite missing screen lock", got.Score)
	}
	if got.Compliant {
		t.Error("device must be non-compliant while a required flag is false")
	}
}

func TestAssess_NilDeviceFailsClosed(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	got := a.Assess(nil)
	if got.TrustLevel != domain.TrustUntrusted {
		t.Errorf("trust level = %v, want untrusted", got.TrustLevel)
	}
	if got.Score != 0 {
		t.Errorf("score = %d, want 0", got.Score)
	}
	if got.Compliant {
		t.Error("absent device must not be compliant")
	}
	if !containsIssue(got.Issues, "no device posture available") {
		t.Errorf("issues = %v, want missing-posture issue", got.Issues)
	}
}

func TestNewAssessor_ClockAdvances(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	first := a.nowF()
	time.Sleep(10 * time.Millisecond)
	if second := a.nowF(); !second.After(first) {
		t.Errorf("clock did not advance: first=%v second=%v", first, second)
	}
}

func TestAssess_ValidCertificateAddsWeight(t *testing.T) {
	a := NewAssessor(DefaultRequirements(), DefaultWeights())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a.nowF = func() time.Time { return now }

	d := fullPostureDevice()
	d.Certificates = []domain.Certificate{{
		ID:         "cert-1",
		ValidFrom:  now.Add(-24 * time.Hour),
		ValidUntil: now.Add(24 * time.Hour),
	}}
	// 95 posture/management score + 15 certificate weight.
	if got := a.Assess(d); got.Score != 110 {
		t.Errorf("score = %d, want 110", got.Score)
	}

	d.Certificates[0].ValidUntil = now.Add(-time.Hour)
	got := a.Assess(d)
	if got.Score != 95 {
		t.Errorf("score with expired cert = %d, want 95", got.Score)
	}
	if !containsIssue(got.Issues, "no valid device certificate") {
		t.Errorf("issues = %v, want expired-certificate issue", got.Issues)
	}
}

func containsIssue(issues []string, want string) bool {
	for _, i := range issues {
		if i == want {
			return true
		}
	}
	return false
}

func TestRegistry_RegisterIsIdempotentUpsert(t *testing.T) {
	r := NewRegistry()
	d := fullPostureDevice()
	r.Register("user-1", d)

	d2 := *d
	d2.Name = "renamed"
	r.Register("user-1", &d2)

	got, ok := r.Get(d.ID)
	if !ok {
		t.Fatal("device should be registered")
	}
	if got.Name != "renamed" {
		t.Errorf("name = %q, want renamed", got.Name)
	}
	if n := len(r.UserDevices("user-1")); n != 1 {
		t.Errorf("user devices = %d, want 1", n)
	}
}

func TestRegistry_UpdatePosture(t *testing.T) {
	r := NewRegistry()
	d := fullPostureDevice()
	r.Register("user-1", d)

	p := d.Posture
	p.FirewallEnabled = false
	r.UpdatePosture(d.ID, p)

	got, _ := r.Get(d.ID)
	if got.Posture.FirewallEnabled {
		t.Error("posture update should be visible on Get")
	}

	// Unknown id is a no-op.
	r.UpdatePosture("missing", p)
}

func TestRegistry_UserDevicesFiltersByOwner(t *testing.T) {
	r := NewRegistry()
	a := fullPostureDevice()
	b := fullPostureDevice()
	b.ID = "dev-2"
	r.Register("user-1", a)
	r.Register("user-2", b)

	if n := len(r.UserDevices("user-1")); n != 1 {
		t.Errorf("user-1 devices = %d, want 1", n)
	}
	if n := len(r.UserDevices("user-3")); n != 0 {
		t.Errorf("user-3 devices = %d, want 0", n)
	}
}
