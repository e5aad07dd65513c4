// Package store defines the persistence interface the posting engine
// depends on, plus in-memory and Postgres implementations.
//
// The engine never touches the relational schema directly; everything it
// needs from the external store is expressed through the Records interface.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// VaultRecord holds the encrypted session blob for one user.
type VaultRecord struct {
	UserID        string
	EncryptedBlob string
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

// TokenRecord holds a first-class OAuth token grant for one user.
type TokenRecord struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Profile carries the per-user posting settings and cooldown state.
type Profile struct {
	UserID string

	// Handle is the external account handle, used to build post URLs.
	// May be empty.
	Handle string

	// CooldownSecs overrides the global cooldown when positive.
	CooldownSecs int

	// LastPostedAt is the cooldown reference point. Zero means the user
	// has never posted.
	LastPostedAt time.Time
}

// Outcome is the persisted result of one posting attempt.
type Outcome struct {
	ID        string
	UserID    string
	PostID    string
	PostURL   string
	Success   bool
	Reason    string
	CreatedAt time.Time
}

// Records is the engine's view of the persistent store.
//
// CompareAndSetLastPosted must be atomic: it is the serialization point
// that prevents two concurrent attempts for the same user from both
// passing the cooldown check.
type Records interface {
	GetVault(ctx context.Context, userID string) (*VaultRecord, error)
	PutVault(ctx context.Context, rec VaultRecord) error
	DeleteVault(ctx context.Context, userID string) error

	GetToken(ctx context.Context, userID string) (*TokenRecord, error)
	PutToken(ctx context.Context, rec TokenRecord) error

	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfileSettings(ctx context.Context, userID, handle string, cooldownSecs int) error
	CompareAndSetLastPosted(ctx context.Context, userID string, old, new time.Time) (bool, error)
	SetLastPosted(ctx context.Context, userID string, t time.Time) error

	RecordOutcome(ctx context.Context, o Outcome) error
}
