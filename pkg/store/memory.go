package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Records implementation used for tests and
// single-process development.
type MemoryStore struct {
	mu       sync.Mutex
	vaults   map[string]VaultRecord
	tokens   map[string]TokenRecord
	profiles map[string]Profile
	outcomes []Outcome
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vaults:   make(map[string]VaultRecord),
		tokens:   make(map[string]TokenRecord),
		profiles: make(map[string]Profile),
	}
}

// GetVault retrieves the vault record for a user.
func (s *MemoryStore) GetVault(_ context.Context, userID string) (*VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.vaults[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// PutVault stores or overwrites the vault record for a user.
func (s *MemoryStore) PutVault(_ context.Context, rec VaultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.UpdatedAt = time.Now()
	s.vaults[rec.UserID] = rec
	return nil
}

// DeleteVault removes the vault record for a user.
func (s *MemoryStore) DeleteVault(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.vaults, userID)
	return nil
}

// GetToken retrieves the token record for a user.
func (s *MemoryStore) GetToken(_ context.Context, userID string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// PutToken stores or overwrites the token record for a user.
func (s *MemoryStore) PutToken(_ context.Context, rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[rec.UserID] = rec
	return nil
}

// GetProfile retrieves the profile for a user, creating an empty one for
// unknown users so cooldown bookkeeping works without prior registration.
func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
		s.profiles[userID] = p
	}
	return &p, nil
}

// SetProfile stores a whole profile, cooldown state included. Test helper.
func (s *MemoryStore) SetProfile(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = p
	return nil
}

// UpdateProfileSettings writes the user-configurable fields without
// touching the cooldown state, which only the reservation path may move.
func (s *MemoryStore) UpdateProfileSettings(_ context.Context, userID, handle string, cooldownSecs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
	}
	p.Handle = handle
	p.CooldownSecs = cooldownSecs
	s.profiles[userID] = p
	return nil
}

// CompareAndSetLastPosted atomically replaces the user's lastPostedAt, but
// only if the stored value still equals old.
func (s *MemoryStore) CompareAndSetLastPosted(_ context.Context, userID string, old, new time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
	}
	if !p.LastPostedAt.Equal(old) {
		return false, nil
	}
	p.LastPostedAt = new
	s.profiles[userID] = p
	return true, nil
}

// SetLastPosted unconditionally writes the user's lastPostedAt. Used for
// reservation rollback.
func (s *MemoryStore) SetLastPosted(_ context.Context, userID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
	}
	p.LastPostedAt = t
	s.profiles[userID] = p
	return nil
}

// RecordOutcome appends a posting attempt outcome.
func (s *MemoryStore) RecordOutcome(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	s.outcomes = append(s.outcomes, o)
	return nil
}

// Outcomes returns a copy of all recorded outcomes. Test helper.
func (s *MemoryStore) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}
