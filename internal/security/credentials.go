package security

import (
	"sync"
)

// CredentialStore keeps per-user re-authentication credentials as bcrypt hashes.
// Plaintext passwords are hashed on the way in and never stored or logged.
type CredentialStore struct {
	mu     sync.RWMutex
	hashes map[string]string
	hasher *Hasher
}

// NewCredentialStore returns a CredentialStore hashing with hasher. A nil hasher
// falls back to the default bcrypt cost.
func NewCredentialStore(hasher *Hasher) *CredentialStore {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &CredentialStore{
		hashes: make(map[string]string),
		hasher: hasher,
	}
}

// SetPassword stores the hash of password for the user, replacing any previous
// credential.
func (s *CredentialStore) SetPassword(userID, password string) error {
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[userID] = hash
	s.mu.Unlock()
	return nil
}

// Verify checks password against the user's stored hash. A user without a stored
// credential fails closed.
func (s *CredentialStore) Verify(userID, password string) bool {
	s.mu.RLock()
	hash, ok := s.hashes[userID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.hasher.Compare(hash, []byte(password)) == nil
}

// Remove deletes the user's stored credential.
func (s *CredentialStore) Remove(userID string) {
	s.mu.Lock()
	delete(s.hashes, userID)
	s.mu.Unlock()
}
