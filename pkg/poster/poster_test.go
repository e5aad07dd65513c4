package poster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/xpost/pkg/media"
	"github.com/entrhq/xpost/pkg/scheduler"
	"github.com/entrhq/xpost/pkg/session"
	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/vault"
	"github.com/entrhq/xpost/pkg/xerrors"
)

type fakeReserver struct {
	reserveErr error
	reserved   int
	rolledBack int
}

func (f *fakeReserver) Reserve(_ context.Context, userID string) (*scheduler.Reservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved++
	return &scheduler.Reservation{UserID: userID, Previous: time.Time{}}, nil
}

func (f *fakeReserver) Rollback(context.Context, *scheduler.Reservation) error {
	f.rolledBack++
	return nil
}

type fakeValidator struct {
	status session.Status
	err    error
}

func (f *fakeValidator) Usable(context.Context, string) (session.Status, error) {
	return f.status, f.err
}

type fakeVault struct {
	state   vault.SessionState
	loadErr error
	stored  map[string]vault.SessionState
}

func (f *fakeVault) Load(context.Context, string) (vault.SessionState, error) {
	if f.loadErr != nil {
		return vault.SessionState{}, f.loadErr
	}
	return f.state, nil
}

func (f *fakeVault) Store(_ context.Context, userID string, state vault.SessionState) error {
	if f.stored == nil {
		f.stored = make(map[string]vault.SessionState)
	}
	f.stored[userID] = state
	return nil
}

func (f *fakeVault) Invalidate(_ context.Context, userID string) error {
	delete(f.stored, userID)
	return nil
}

type fakeStager struct {
	items []media.Item
	err   error
	urls  []string
}

func (f *fakeStager) Prepare(_ context.Context, urls []string) ([]media.Item, error) {
	f.urls = urls
	return f.items, f.err
}

type fakeFlow struct {
	postID string
	err    error
	runs   int
}

func (f *fakeFlow) Run(context.Context, vault.SessionState, Attempt) (string, error) {
	f.runs++
	if f.err != nil {
		return "", f.err
	}
	return f.postID, nil
}

func newTestService(reserver *fakeReserver, validator *fakeValidator, v *fakeVault, stager *fakeStager, flow *fakeFlow) (*Service, *store.MemoryStore) {
	records := store.NewMemoryStore()
	return NewService(reserver, validator, v, stager, flow, records), records
}

func validSession() session.Status {
	return session.Status{Valid: true, Method: session.MethodCookie, Identity: "user-1"}
}

func TestPost_Success(t *testing.T) {
	reserver := &fakeReserver{}
	flow := &fakeFlow{postID: "12345"}
	svc, records := newTestService(reserver, &fakeValidator{status: validSession()}, &fakeVault{}, &fakeStager{}, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello world", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "12345", result.PostID)
	assert.Equal(t, "https://x.com/i/web/status/12345", result.PostURL)
	assert.Equal(t, 0, reserver.rolledBack, "success must keep the reservation")

	outcomes := records.Outcomes()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "user-1", outcomes[0].UserID)
}

func TestPost_UsesHandleInURL(t *testing.T) {
	svc, records := newTestService(&fakeReserver{}, &fakeValidator{status: validSession()}, &fakeVault{}, &fakeStager{}, &fakeFlow{postID: "99"})
	require.NoError(t, records.SetProfile(context.Background(), store.Profile{UserID: "user-1", Handle: "someone"}))

	result, err := svc.Post(context.Background(), "user-1", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/someone/status/99", result.PostURL)
}

func TestPost_TooSoonSkipsEverything(t *testing.T) {
	waitUntil := time.Now().Add(90 * time.Second)
	reserver := &fakeReserver{reserveErr: &xerrors.TooSoonError{WaitUntil: waitUntil}}
	flow := &fakeFlow{}
	stager := &fakeStager{}
	svc, records := newTestService(reserver, &fakeValidator{status: validSession()}, &fakeVault{}, stager, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello", []string{"https://cdn/pic.png"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.NeedWait)
	assert.Equal(t, xerrors.ReasonTooSoon, result.Reason)
	assert.Equal(t, waitUntil, result.WaitUntil)

	assert.Equal(t, 0, flow.runs, "cooldown rejection must never reach the browser")
	assert.Nil(t, stager.urls, "cooldown rejection must never stage media")
	assert.Equal(t, 0, reserver.rolledBack)
	assert.Empty(t, records.Outcomes())
}

func TestPost_ExpiredSessionRollsBackBeforeDecrypt(t *testing.T) {
	reserver := &fakeReserver{}
	v := &fakeVault{loadErr: errors.New("should not be called")}
	flow := &fakeFlow{}
	svc, _ := newTestService(reserver, &fakeValidator{status: session.Status{Valid: false, Stored: true}}, v, &fakeStager{}, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.NeedReconnect)
	assert.Equal(t, xerrors.ReasonSessionExpired, result.Reason)
	assert.Equal(t, 1, reserver.rolledBack)
	assert.Equal(t, 0, flow.runs)
}

func TestPost_NeverConnectedReportsNoSession(t *testing.T) {
	reserver := &fakeReserver{}
	svc, _ := newTestService(reserver, &fakeValidator{status: session.Status{}}, &fakeVault{}, &fakeStager{}, &fakeFlow{})

	result, err := svc.Post(context.Background(), "user-1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.NeedReconnect)
	assert.Equal(t, xerrors.ReasonNoSession, result.Reason,
		"a user who never connected must not be told their session expired")
	assert.Equal(t, 1, reserver.rolledBack)
}

func TestPost_DecryptionFailureNeedsReconnect(t *testing.T) {
	reserver := &fakeReserver{}
	v := &fakeVault{loadErr: xerrors.ErrDecryption}
	svc, _ := newTestService(reserver, &fakeValidator{status: validSession()}, v, &fakeStager{}, &fakeFlow{})

	result, err := svc.Post(context.Background(), "user-1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.NeedReconnect)
	assert.Equal(t, xerrors.ReasonDecryption, result.Reason)
	assert.Equal(t, 1, reserver.rolledBack)
}

func TestPost_MediaValidationFailureRollsBack(t *testing.T) {
	reserver := &fakeReserver{}
	stager := &fakeStager{err: &xerrors.MediaValidationError{Reason: "mixed kinds"}}
	flow := &fakeFlow{}
	svc, _ := newTestService(reserver, &fakeValidator{status: validSession()}, &fakeVault{}, stager, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, xerrors.ReasonMediaValidation, result.Reason)
	assert.Equal(t, 1, reserver.rolledBack)
	assert.Equal(t, 0, flow.runs)
}

func TestPost_FlowReconnectFailureRollsBack(t *testing.T) {
	reserver := &fakeReserver{}
	flow := &fakeFlow{err: xerrors.ErrNeedsReconnect}
	svc, records := newTestService(reserver, &fakeValidator{status: validSession()}, &fakeVault{}, &fakeStager{}, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.NeedReconnect)
	assert.Equal(t, 1, reserver.rolledBack)

	outcomes := records.Outcomes()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
}

func TestPost_ConfirmationTimeoutIsFailure(t *testing.T) {
	reserver := &fakeReserver{}
	flow := &fakeFlow{err: xerrors.ErrConfirmationTimeout}
	svc, _ := newTestService(reserver, &fakeValidator{status: validSession()}, &fakeVault{}, &fakeStager{}, flow)

	result, err := svc.Post(context.Background(), "user-1", "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Success, "ambiguous outcome must never be assumed success")
	assert.Equal(t, xerrors.ReasonConfirmationTimeout, result.Reason)
	assert.Equal(t, 1, reserver.rolledBack)
}

func TestPost_EmptyTextRejected(t *testing.T) {
	svc, _ := newTestService(&fakeReserver{}, &fakeValidator{status: validSession()}, &fakeVault{}, &fakeStager{}, &fakeFlow{})

	_, err := svc.Post(context.Background(), "user-1", "   ", nil)
	assert.Error(t, err)
}

func TestStoreSession(t *testing.T) {
	v := &fakeVault{}
	svc, _ := newTestService(&fakeReserver{}, &fakeValidator{}, v, &fakeStager{}, &fakeFlow{})

	expiry := time.Now().Add(24 * time.Hour)
	err := svc.StoreSession(context.Background(), "user-1", []vault.Cookie{{Name: "auth_token", Value: "x"}}, expiry)
	require.NoError(t, err)

	state, ok := v.stored["user-1"]
	require.True(t, ok)
	assert.Equal(t, expiry, state.ExpiresAt)
	assert.Len(t, state.Cookies, 1)

	assert.Error(t, svc.StoreSession(context.Background(), "user-1", nil, expiry))
}

type fakeCapturer struct {
	cookies []vault.Cookie
	err     error
	waits   []time.Duration
}

func (f *fakeCapturer) CaptureInteractive(_ context.Context, timeout time.Duration) ([]vault.Cookie, error) {
	f.waits = append(f.waits, timeout)
	return f.cookies, f.err
}

func TestCaptureSession_DrivesCapturerAndStores(t *testing.T) {
	v := &fakeVault{}
	capturer := &fakeCapturer{cookies: []vault.Cookie{{Name: "auth_token", Value: "x"}}}
	records := store.NewMemoryStore()
	svc := NewService(&fakeReserver{}, &fakeValidator{}, v, &fakeStager{}, &fakeFlow{}, records,
		WithCapturer(capturer), WithCaptureWindow(2*time.Minute, 12*time.Hour))

	before := time.Now()
	expiresAt, err := svc.CaptureSession(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, capturer.waits, 1)
	assert.Equal(t, 2*time.Minute, capturer.waits[0])

	state, ok := v.stored["user-1"]
	require.True(t, ok)
	assert.Len(t, state.Cookies, 1)
	assert.WithinDuration(t, before.Add(12*time.Hour), expiresAt, time.Minute)
	assert.Equal(t, expiresAt, state.ExpiresAt)
}

func TestCaptureSession_NotConfigured(t *testing.T) {
	svc, _ := newTestService(&fakeReserver{}, &fakeValidator{}, &fakeVault{}, &fakeStager{}, &fakeFlow{})
	_, err := svc.CaptureSession(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestCaptureSession_CapturerFailureStoresNothing(t *testing.T) {
	v := &fakeVault{}
	capturer := &fakeCapturer{err: errors.New("login window closed")}
	records := store.NewMemoryStore()
	svc := NewService(&fakeReserver{}, &fakeValidator{}, v, &fakeStager{}, &fakeFlow{}, records,
		WithCapturer(capturer))

	_, err := svc.CaptureSession(context.Background(), "user-1")
	assert.Error(t, err)
	assert.Empty(t, v.stored)
}
