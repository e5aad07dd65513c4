package xerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	waitUntil := time.Now().Add(90 * time.Second)

	tests := []struct {
		name          string
		err           error
		reason        string
		needReconnect bool
		needWait      bool
	}{
		{"decryption", ErrDecryption, ReasonDecryption, true, false},
		{"no session", ErrNoSession, ReasonNoSession, true, false},
		{"expired", ErrSessionExpired, ReasonSessionExpired, true, false},
		{"reconnect", ErrNeedsReconnect, ReasonNeedsReconnect, true, false},
		{"confirmation", ErrConfirmationTimeout, ReasonConfirmationTimeout, false, false},
		{"too soon", &TooSoonError{WaitUntil: waitUntil}, ReasonTooSoon, false, true},
		{"interaction", &InteractionError{Step: StepLocate, Selector: "div"}, ReasonInteraction, false, false},
		{"media", &MediaValidationError{Reason: "too many images"}, ReasonMediaValidation, false, false},
		{"unknown", errors.New("boom"), ReasonUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Classify(tt.err)
			if h.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", h.Reason, tt.reason)
			}
			if h.NeedReconnect != tt.needReconnect {
				t.Errorf("needReconnect = %v, want %v", h.NeedReconnect, tt.needReconnect)
			}
			if h.NeedWait != tt.needWait {
				t.Errorf("needWait = %v, want %v", h.NeedWait, tt.needWait)
			}
		})
	}
}

func TestClassify_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("load vault entry: %w", ErrDecryption)
	h := Classify(wrapped)
	if h.Reason != ReasonDecryption {
		t.Errorf("reason = %q, want %q", h.Reason, ReasonDecryption)
	}

	inner := &TooSoonError{WaitUntil: time.Now().Add(time.Minute)}
	h = Classify(fmt.Errorf("reserve: %w", inner))
	if h.Reason != ReasonTooSoon || !h.NeedWait {
		t.Errorf("wrapped too-soon not classified: %+v", h)
	}
	if h.WaitUntil != inner.WaitUntil {
		t.Errorf("waitUntil not carried through")
	}
}

func TestInteractionError_Unwrap(t *testing.T) {
	cause := errors.New("element detached")
	err := &InteractionError{Step: StepAct, Selector: "button", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("InteractionError should unwrap to its cause")
	}
}
