// Package session decides whether a stored session is locally usable.
//
// Validity is a local timestamp comparison against previously recorded
// expiry; the validator never makes network calls. A false positive
// (expired upstream but locally still valid) is tolerated and surfaces as
// a posting-time failure through the driver's login detection.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/xpost/pkg/store"
)

// Method identifies which credential kind backs a usable session.
type Method string

const (
	// MethodToken is a first-class access token from an explicit,
	// revocable grant. Preferred over captured session state.
	MethodToken Method = "token"

	// MethodCookie is a captured session-state bundle.
	MethodCookie Method = "cookie"
)

// Status is the result of a validity check. Stored distinguishes a user
// whose credentials have lapsed from one who never connected at all; the
// two cases prompt different caller guidance.
type Status struct {
	Valid    bool
	Stored   bool
	Method   Method
	Identity string
}

// Validator checks stored credentials against their recorded expiry.
type Validator struct {
	records store.Records
	now     func() time.Time
}

// NewValidator creates a validator over the record store.
func NewValidator(records store.Records) *Validator {
	return &Validator{records: records, now: time.Now}
}

// Usable reports whether the user has any locally-valid credential,
// checking the token grant first and the cookie bundle second.
func (v *Validator) Usable(ctx context.Context, userID string) (Status, error) {
	now := v.now()

	stored := false
	token, err := v.records.GetToken(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Status{}, fmt.Errorf("load token record: %w", err)
	}
	if token != nil && token.AccessToken != "" {
		stored = true
		if now.Before(token.ExpiresAt) {
			return Status{Valid: true, Stored: true, Method: MethodToken, Identity: userID}, nil
		}
	}

	rec, err := v.records.GetVault(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Status{Stored: stored}, nil
		}
		return Status{}, fmt.Errorf("load vault record: %w", err)
	}
	if now.Before(rec.ExpiresAt) {
		return Status{Valid: true, Stored: true, Method: MethodCookie, Identity: userID}, nil
	}

	return Status{Stored: true}, nil
}

// WithNowFunc overrides the time source. Test helper.
func (v *Validator) WithNowFunc(now func() time.Time) {
	v.now = now
}
