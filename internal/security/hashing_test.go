package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("correct horse battery staple")); err != nil {
		t.Errorf("Compare with matching password: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Error("Compare accepted a wrong password")
	}
}

func TestNewHasher_CostClamped(t *testing.T) {
	if h := NewHasher(0); h.Cost != bcrypt.DefaultCost {
		t.Errorf("Cost = %d, want default %d", h.Cost, bcrypt.DefaultCost)
	}
	if h := NewHasher(100); h.Cost != bcrypt.MaxCost {
		t.Errorf("Cost = %d, want max %d", h.Cost, bcrypt.MaxCost)
	}
}
