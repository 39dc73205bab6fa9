package nodeauth

import (
	"crypto/subtle"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/kilianp07/chargenet/core/model"
)

// CredentialStore holds per-node secrets.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[model.NodeID]Credential
}

// NewCredentialStore builds a store from a credential list.
func NewCredentialStore(list []Credential) *CredentialStore {
	s := &CredentialStore{creds: make(map[model.NodeID]Credential, len(list))}
	for _, c := range list {
		s.creds[model.NodeID(c.NodeID)] = c
	}
	return s
}

// Set adds or replaces the credential of a node.
func (s *CredentialStore) Set(c Credential) {
	s.mu.Lock()
	s.creds[model.NodeID(c.NodeID)] = c
	s.mu.Unlock()
}

// Remove deletes the credential of a node.
func (s *CredentialStore) Remove(id model.NodeID) {
	s.mu.Lock()
	delete(s.creds, id)
	s.mu.Unlock()
}

func (s *CredentialStore) get(id model.NodeID) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	return c, ok
}

// CheckPassword compares password with the stored one. Stored bcrypt hashes
// are verified with bcrypt, anything else by constant-time equality.
func (s *CredentialStore) CheckPassword(id model.NodeID, password string) bool {
	c, ok := s.get(id)
	if !ok || c.Password == "" {
		return false
	}
	if isBcrypt(c.Password) {
		return bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
}

// TOTPSecret returns the shared one-time-code secret of a node.
func (s *CredentialStore) TOTPSecret(id model.NodeID) (string, bool) {
	c, ok := s.get(id)
	if !ok || c.TOTPSecret == "" {
		return "", false
	}
	return c.TOTPSecret, true
}

// HashPassword returns a bcrypt hash suitable for the password field.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
