package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/lotflow/internal/clock"
	"github.com/yourorg/lotflow/internal/lot"
)

// InMemoryKeyStore keeps service-account keys in process memory. Keys are
// indexed by display prefix so validation hashes at most a handful of
// candidates instead of every key.
type InMemoryKeyStore struct {
	mu       sync.RWMutex
	cfg      Config
	clock    clock.Clock
	accounts map[string]*ServiceAccount // id -> account
	byPrefix map[string][]string        // key prefix -> ids
}

var _ KeyStore = (*InMemoryKeyStore)(nil)

func NewInMemoryKeyStore(cfg Config, clk clock.Clock) *InMemoryKeyStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &InMemoryKeyStore{
		cfg:      cfg,
		clock:    clk,
		accounts: make(map[string]*ServiceAccount),
		byPrefix: make(map[string][]string),
	}
}

// ValidateKey resolves a raw key to its account. Revoked keys fail; expired
// keys fail unless they were rotated and are still inside the rotation window.
func (s *InMemoryKeyStore) ValidateKey(ctx context.Context, rawKey string) (ServiceAccount, error) {
	prefix := ExtractKeyPrefix(rawKey)
	if prefix == "" {
		return ServiceAccount{}, ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byPrefix[prefix] {
		acct := s.accounts[id]
		if !VerifyKey(rawKey, acct.KeyHash) {
			continue
		}
		if acct.RevokedAt != nil {
			return ServiceAccount{}, ErrKeyRevoked
		}
		if acct.ExpiresAt != nil && !s.clock.Now().Before(*acct.ExpiresAt) {
			return ServiceAccount{}, ErrKeyExpired
		}
		return *acct, nil
	}
	return ServiceAccount{}, ErrInvalidAPIKey
}

func (s *InMemoryKeyStore) CreateKey(ctx context.Context, name, displayName string, role lot.Role, expiresAt *time.Time) (ServiceAccount, string, error) {
	if !role.Valid() {
		return ServiceAccount{}, "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(name, displayName, role, expiresAt)
}

func (s *InMemoryKeyStore) createLocked(name, displayName string, role lot.Role, expiresAt *time.Time) (ServiceAccount, string, error) {
	rawKey, prefix, err := GenerateAPIKey()
	if err != nil {
		return ServiceAccount{}, "", err
	}
	hash, err := HashKey(rawKey, s.cfg)
	if err != nil {
		return ServiceAccount{}, "", err
	}
	acct := &ServiceAccount{
		ID:          lot.NewID(),
		Name:        name,
		DisplayName: displayName,
		Role:        role,
		KeyPrefix:   prefix,
		KeyHash:     hash,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.clock.Now().UTC(),
	}
	s.accounts[acct.ID] = acct
	s.byPrefix[prefix] = append(s.byPrefix[prefix], acct.ID)
	return *acct, rawKey, nil
}

// RotateKey issues a replacement key with the same name and role and lets the
// old one keep working for KeyRotationWindow.
func (s *InMemoryKeyStore) RotateKey(ctx context.Context, id string) (ServiceAccount, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.accounts[id]
	if !ok {
		return ServiceAccount{}, "", fmt.Errorf("key not found: %s", id)
	}
	if old.RevokedAt != nil {
		return ServiceAccount{}, "", fmt.Errorf("cannot rotate revoked key")
	}
	next, rawKey, err := s.createLocked(old.Name, old.DisplayName, old.Role, nil)
	if err != nil {
		return ServiceAccount{}, "", err
	}
	grace := s.clock.Now().UTC().Add(s.cfg.KeyRotationWindow)
	if old.ExpiresAt == nil || old.ExpiresAt.After(grace) {
		old.ExpiresAt = &grace
	}
	old.Rotated = true
	return next, rawKey, nil
}

func (s *InMemoryKeyStore) RevokeKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	now := s.clock.Now().UTC()
	acct.RevokedAt = &now
	return nil
}

func (s *InMemoryKeyStore) ListKeys(ctx context.Context) ([]ServiceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServiceAccount, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, *acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryKeyStore) UpdateLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("key not found: %s", id)
	}
	now := s.clock.Now().UTC()
	acct.LastUsedAt = &now
	return nil
}
