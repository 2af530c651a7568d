package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateSession(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	expiresAt := time.Now().Add(time.Hour).UTC()

	token, jti, err := p.IssueSession("s1", "u1", "d1", "r1", expiresAt)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("token or jti empty")
	}

	claims, err := p.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.SessionID != "s1" || claims.Subject != "u1" || claims.DeviceID != "d1" || claims.ResourceID != "r1" {
		t.Errorf("claims = %+v, want s1/u1/d1/r1", claims)
	}
	if claims.ID != jti {
		t.Errorf("jti = %q, want %q", claims.ID, jti)
	}
}

func TestTokenProvider_ValidateSessionInvalid(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateSession("invalid-token"); err != ErrInvalidToken {
		t.Errorf("ValidateSession invalid token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ExpiredSessionRejected(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueSession("s1", "u1", "d1", "r1", time.Now().Add(-time.Minute).UTC())
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := p.ValidateSession(token); err != ErrInvalidToken {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongIssuerRejected(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	issuer := NewTokenProvider(signer, pub, "other-issuer", "test-audience")
	validator := NewTokenProvider(signer, pub, "test-issuer", "test-audience")

	token, _, err := issuer.IssueSession("s1", "u1", "d1", "r1", time.Now().Add(time.Hour).UTC())
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := validator.ValidateSession(token); err != ErrInvalidToken {
		t.Errorf("wrong issuer: want ErrInvalidToken, got %v", err)
	}
}
