package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.MaxTravelKmPerMin != 15.0 {
		t.Errorf("MaxTravelKmPerMin = %v, want 15", cfg.MaxTravelKmPerMin)
	}
	if !cfg.AutoCreateTunnel {
		t.Error("AutoCreateTunnel should default to true")
	}
	if cfg.SessionTTL() != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want 60m", cfg.SessionTTL())
	}
	if cfg.SweepEvery() != 30*time.Second {
		t.Errorf("SweepEvery = %v, want 30s", cfg.SweepEvery())
	}
}

func TestLoad_InvalidCorporateCIDR(t *testing.T) {
	setEnv(t, "CORPORATE_CIDRS", "10.0.0.0/16,not-a-cidr")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject invalid CIDR")
	}
}

func TestLoad_InvalidVPNAddress(t *testing.T) {
	setEnv(t, "VPN_EGRESS_IPS", "198.51.100.7,bogus")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject invalid VPN egress address")
	}
}

func TestCorporateCIDRList_TrimsAndSkipsEmpty(t *testing.T) {
	cfg := &Config{CorporateCIDRs: " 10.0.0.0/8 ,, 192.0.2.0/24"}
	got := cfg.CorporateCIDRList()
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.0.2.0/24" {
		t.Errorf("CorporateCIDRList = %v", got)
	}
}

func TestAuditKafkaBrokersList_Empty(t *testing.T) {
	cfg := &Config{}
	if got := cfg.AuditKafkaBrokersList(); got != nil {
		t.Errorf("AuditKafkaBrokersList = %v, want nil", got)
	}
}

func TestSessionTTL_Invalid(t *testing.T) {
	cfg := &Config{SessionTimeout: "banana"}
	if cfg.SessionTTL() != 60*time.Minute {
		t.Errorf("SessionTTL = %v, want fallback 60m", cfg.SessionTTL())
	}
}
