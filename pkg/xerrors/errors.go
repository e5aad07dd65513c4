// Package xerrors defines the failure taxonomy shared by the posting engine.
//
// Every failure a caller can observe maps to a stable machine-readable
// reason string plus optional hints (needReconnect, needWait) so the calling
// layer can prompt re-authentication or show a countdown without parsing
// free-text messages.
package xerrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrDecryption indicates vault ciphertext failed authentication.
	// Tamper or key misconfiguration; the session must be re-captured.
	ErrDecryption = errors.New("vault decryption failed")

	// ErrNoSession indicates no stored session exists for the user.
	ErrNoSession = errors.New("no session available")

	// ErrSessionExpired indicates the stored session is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrNeedsReconnect indicates login detection could not positively
	// confirm an authenticated session.
	ErrNeedsReconnect = errors.New("session invalid, reconnect required")

	// ErrConfirmationTimeout indicates the submission happened but no
	// confirming network evidence was observed within budget. The outcome
	// is ambiguous and must be reported as failure, never assumed success.
	ErrConfirmationTimeout = errors.New("post confirmation not observed")
)

// TooSoonError is returned when the per-user cooldown window has not
// elapsed. WaitUntil is the earliest time a new attempt may begin.
type TooSoonError struct {
	WaitUntil time.Time
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("cooldown not elapsed, wait until %s", e.WaitUntil.Format(time.RFC3339))
}

// InteractionStep identifies which phase of a UI primitive failed.
type InteractionStep string

const (
	StepLocate InteractionStep = "locate"
	StepAct    InteractionStep = "act"
	StepVerify InteractionStep = "verify"
)

// InteractionError reports a failed UI interaction primitive.
type InteractionError struct {
	Step     InteractionStep
	Selector string
	Err      error
}

func (e *InteractionError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("interaction %s failed for %q: %v", e.Step, e.Selector, e.Err)
	}
	return fmt.Sprintf("interaction %s failed: %v", e.Step, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// MediaValidationError reports disallowed media type, size, duration or
// quantity before any browser work begins.
type MediaValidationError struct {
	Reason string
}

func (e *MediaValidationError) Error() string {
	return "media validation failed: " + e.Reason
}

// Reason codes reported through the inbound API.
const (
	ReasonDecryption          = "DecryptionError"
	ReasonNoSession           = "NoSession"
	ReasonSessionExpired      = "SessionExpired"
	ReasonTooSoon             = "TooSoon"
	ReasonInteraction         = "InteractionError"
	ReasonConfirmationTimeout = "ConfirmationTimeout"
	ReasonMediaValidation     = "MediaValidationError"
	ReasonNeedsReconnect      = "NeedsReconnect"
	ReasonUnknown             = "Unknown"
)

// Hints describes how the caller should react to a failure.
type Hints struct {
	Reason        string
	NeedReconnect bool
	NeedWait      bool
	WaitUntil     time.Time
}

// Classify maps any error from the engine to its stable reason and hints.
func Classify(err error) Hints {
	var tooSoon *TooSoonError
	var interaction *InteractionError
	var media *MediaValidationError

	switch {
	case errors.As(err, &tooSoon):
		return Hints{Reason: ReasonTooSoon, NeedWait: true, WaitUntil: tooSoon.WaitUntil}
	case errors.Is(err, ErrDecryption):
		return Hints{Reason: ReasonDecryption, NeedReconnect: true}
	case errors.Is(err, ErrNoSession):
		return Hints{Reason: ReasonNoSession, NeedReconnect: true}
	case errors.Is(err, ErrSessionExpired):
		return Hints{Reason: ReasonSessionExpired, NeedReconnect: true}
	case errors.Is(err, ErrNeedsReconnect):
		return Hints{Reason: ReasonNeedsReconnect, NeedReconnect: true}
	case errors.Is(err, ErrConfirmationTimeout):
		return Hints{Reason: ReasonConfirmationTimeout}
	case errors.As(err, &interaction):
		return Hints{Reason: ReasonInteraction}
	case errors.As(err, &media):
		return Hints{Reason: ReasonMediaValidation}
	default:
		return Hints{Reason: ReasonUnknown}
	}
}
