// Package poster orchestrates a posting attempt end to end: cooldown
// reservation, credential validation, vault decryption, media staging,
// the browser flow, and outcome persistence.
//
// The reservation is rolled back on every failure path except the
// cooldown rejection itself, so a failed attempt never burns the user's
// posting window. Failures are reported as structured results with
// machine-readable reasons, never free text alone.
package poster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/xpost/pkg/logging"
	"github.com/entrhq/xpost/pkg/media"
	"github.com/entrhq/xpost/pkg/scheduler"
	"github.com/entrhq/xpost/pkg/session"
	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/vault"
	"github.com/entrhq/xpost/pkg/xerrors"
)

var posterLog *logging.Logger

func init() {
	var err error
	posterLog, err = logging.NewLogger("poster")
	if err != nil {
		posterLog.Warnf("Failed to initialize poster logger, using stderr fallback: %v", err)
	}
}

// Result is the outcome of one posting attempt as reported to callers.
type Result struct {
	Success       bool      `json:"success"`
	PostID        string    `json:"postId,omitempty"`
	PostURL       string    `json:"postUrl,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Message       string    `json:"message,omitempty"`
	NeedReconnect bool      `json:"needReconnect,omitempty"`
	NeedWait      bool      `json:"needWait,omitempty"`
	WaitUntil     time.Time `json:"waitUntil,omitzero"`
}

// Reserver is the scheduler surface the orchestrator needs.
type Reserver interface {
	Reserve(ctx context.Context, userID string) (*scheduler.Reservation, error)
	Rollback(ctx context.Context, res *scheduler.Reservation) error
}

// Validator checks local credential validity.
type Validator interface {
	Usable(ctx context.Context, userID string) (session.Status, error)
}

// SessionVault loads and stores encrypted session state.
type SessionVault interface {
	Load(ctx context.Context, userID string) (vault.SessionState, error)
	Store(ctx context.Context, userID string, state vault.SessionState) error
	Invalidate(ctx context.Context, userID string) error
}

// MediaStager prepares attachments before the browser flow runs.
type MediaStager interface {
	Prepare(ctx context.Context, urls []string) ([]media.Item, error)
}

// Capturer drives an interactive login in a visible browser and returns
// the harvested session cookies.
type Capturer interface {
	CaptureInteractive(ctx context.Context, timeout time.Duration) ([]vault.Cookie, error)
}

// Service runs posting attempts.
type Service struct {
	reserver  Reserver
	validator Validator
	vault     SessionVault
	media     MediaStager
	flow      Flow
	records   store.Records
	capturer  Capturer
	now       func() time.Time

	captureWait     time.Duration
	sessionValidity time.Duration
}

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithCapturer enables interactive session capture through the given
// browser-backed capturer.
func WithCapturer(c Capturer) ServiceOption {
	return func(s *Service) { s.capturer = c }
}

// WithCaptureWindow overrides how long an interactive login may take and
// how long the captured session stays valid.
func WithCaptureWindow(wait, validity time.Duration) ServiceOption {
	return func(s *Service) {
		s.captureWait = wait
		s.sessionValidity = validity
	}
}

// NewService wires the orchestrator.
func NewService(reserver Reserver, validator Validator, sessionVault SessionVault, stager MediaStager, flow Flow, records store.Records, opts ...ServiceOption) *Service {
	s := &Service{
		reserver:  reserver,
		validator: validator,
		vault:     sessionVault,
		media:     stager,
		flow:      flow,
		records:   records,
		now:       time.Now,

		captureWait:     5 * time.Minute,
		sessionValidity: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post runs one attempt for the user. Typed failures come back inside
// the Result; the error return is reserved for infrastructure faults
// (store unavailable and the like).
func (s *Service) Post(ctx context.Context, userID, text string, mediaURLs []string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("post text cannot be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	reservation, err := s.reserver.Reserve(ctx, userID)
	if err != nil {
		var tooSoon *xerrors.TooSoonError
		if errors.As(err, &tooSoon) {
			// Cooldown rejection consumes nothing; no rollback, no
			// browser, no outcome record.
			return &Result{
				Success:   false,
				Reason:    xerrors.ReasonTooSoon,
				Message:   "Too many posts. Wait before posting again.",
				NeedWait:  true,
				WaitUntil: tooSoon.WaitUntil,
			}, nil
		}
		return nil, fmt.Errorf("reservation failed: %w", err)
	}

	result, err := s.attempt(ctx, userID, text, mediaURLs)
	if err != nil || !result.Success {
		if rbErr := s.reserver.Rollback(ctx, reservation); rbErr != nil {
			posterLog.Errorf("Rollback failed for %s: %v", userID, rbErr)
		}
	}
	if err != nil {
		return nil, err
	}

	s.recordOutcome(ctx, userID, result)
	return result, nil
}

// attempt runs everything inside the reservation. Any non-success from
// here is rolled back by Post.
func (s *Service) attempt(ctx context.Context, userID, text string, mediaURLs []string) (*Result, error) {
	status, err := s.validator.Usable(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("validity check failed: %w", err)
	}
	if !status.Valid {
		// A lapsed session and a user who never connected prompt
		// different guidance.
		reason := xerrors.ReasonSessionExpired
		message := "Session expired, reconnect."
		if !status.Stored {
			reason = xerrors.ReasonNoSession
			message = "No session connected, connect first."
		}
		return &Result{
			Success:       false,
			Reason:        reason,
			Message:       message,
			NeedReconnect: true,
		}, nil
	}

	state, err := s.vault.Load(ctx, userID)
	if err != nil {
		hints := xerrors.Classify(err)
		if hints.NeedReconnect {
			posterLog.Warnf("Vault load failed for %s: %v", userID, err)
			return &Result{
				Success:       false,
				Reason:        hints.Reason,
				Message:       "Stored session unusable, reconnect.",
				NeedReconnect: true,
			}, nil
		}
		return nil, fmt.Errorf("vault load failed: %w", err)
	}

	items, err := s.media.Prepare(ctx, mediaURLs)
	if err != nil {
		var mediaErr *xerrors.MediaValidationError
		if errors.As(err, &mediaErr) {
			return &Result{
				Success: false,
				Reason:  xerrors.ReasonMediaValidation,
				Message: mediaErr.Reason,
			}, nil
		}
		return nil, fmt.Errorf("media staging failed: %w", err)
	}

	postID, err := s.flow.Run(ctx, state, Attempt{Text: text, Media: items})
	if err != nil {
		hints := xerrors.Classify(err)
		posterLog.Warnf("Attempt failed for %s (%s): %v", userID, hints.Reason, err)
		return &Result{
			Success:       false,
			Reason:        hints.Reason,
			Message:       err.Error(),
			NeedReconnect: hints.NeedReconnect,
		}, nil
	}

	return &Result{
		Success: true,
		PostID:  postID,
		PostURL: s.postURL(ctx, userID, postID),
	}, nil
}

// postURL builds the canonical link, using the user's handle when the
// profile has one.
func (s *Service) postURL(ctx context.Context, userID, postID string) string {
	profile, err := s.records.GetProfile(ctx, userID)
	if err == nil && profile != nil && profile.Handle != "" {
		return fmt.Sprintf("https://x.com/%s/status/%s", profile.Handle, postID)
	}
	return fmt.Sprintf("https://x.com/i/web/status/%s", postID)
}

func (s *Service) recordOutcome(ctx context.Context, userID string, result *Result) {
	outcome := store.Outcome{
		ID:        uuid.NewString(),
		UserID:    userID,
		PostID:    result.PostID,
		PostURL:   result.PostURL,
		Success:   result.Success,
		Reason:    result.Reason,
		CreatedAt: s.now(),
	}
	if err := s.records.RecordOutcome(ctx, outcome); err != nil {
		posterLog.Errorf("Failed to record outcome for %s: %v", userID, err)
	}
}

// CaptureSession drives an interactive login in a visible browser,
// harvests the resulting cookies, and stores them for the user. Returns
// the expiry of the stored session.
func (s *Service) CaptureSession(ctx context.Context, userID string) (time.Time, error) {
	if s.capturer == nil {
		return time.Time{}, fmt.Errorf("interactive capture is not configured")
	}
	if userID == "" {
		return time.Time{}, fmt.Errorf("user id is required")
	}

	cookies, err := s.capturer.CaptureInteractive(ctx, s.captureWait)
	if err != nil {
		return time.Time{}, fmt.Errorf("interactive capture failed: %w", err)
	}

	expiresAt := s.now().Add(s.sessionValidity)
	if err := s.StoreSession(ctx, userID, cookies, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// StoreSession encrypts and stores an already-captured session bundle,
// replacing whatever was there.
func (s *Service) StoreSession(ctx context.Context, userID string, cookies []vault.Cookie, expiresAt time.Time) error {
	if len(cookies) == 0 {
		return fmt.Errorf("capture requires at least one cookie")
	}
	state := vault.SessionState{
		Cookies:    cookies,
		CapturedAt: s.now(),
		ExpiresAt:  expiresAt,
	}
	if err := s.vault.Store(ctx, userID, state); err != nil {
		return fmt.Errorf("session capture failed: %w", err)
	}
	posterLog.Infof("Captured session for %s, expires %s", userID, expiresAt.Format(time.RFC3339))
	return nil
}

// Disconnect removes the stored session for the user.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	return s.vault.Invalidate(ctx, userID)
}
