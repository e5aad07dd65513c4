// Package server exposes the posting engine over HTTP.
//
// Callers are the web front end's submission handler and any scheduled
// poster. Every API route requires a bearer token minted by the identity
// provider; the engine never trusts a user id from the request body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/entrhq/xpost/pkg/genai"
	"github.com/entrhq/xpost/pkg/identity"
	"github.com/entrhq/xpost/pkg/logging"
	"github.com/entrhq/xpost/pkg/poster"
	"github.com/entrhq/xpost/pkg/session"
	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/vault"
)

var serverLog *logging.Logger

func init() {
	var err error
	serverLog, err = logging.NewLogger("server")
	if err != nil {
		serverLog.Warnf("Failed to initialize server logger, using stderr fallback: %v", err)
	}
}

// Poster is the orchestrator surface the API exposes.
type Poster interface {
	Post(ctx context.Context, userID, text string, mediaURLs []string) (*poster.Result, error)
	StoreSession(ctx context.Context, userID string, cookies []vault.Cookie, expiresAt time.Time) error
	Disconnect(ctx context.Context, userID string) error
}

// Validator reports local credential validity for the status route.
type Validator interface {
	Usable(ctx context.Context, userID string) (session.Status, error)
}

// Options configures the server.
type Options struct {
	Port int

	// RateRequests per RateWindow per user on the posting route.
	RateRequests int
	RateWindow   time.Duration
	RateBurst    int
}

// Server is the HTTP front of the engine.
type Server struct {
	inner     *http.Server
	verifier  *identity.Verifier
	limiter   *userRateLimiter
	poster    Poster
	validator Validator
	records   store.Records
	generator genai.Generator // nil when drafting is not configured
}

// New builds the server with its routes and middleware chain.
func New(opts Options, verifier *identity.Verifier, p Poster, v Validator, records store.Records, generator genai.Generator) *Server {
	if opts.RateRequests == 0 {
		opts.RateRequests = 10
	}
	if opts.RateWindow == 0 {
		opts.RateWindow = time.Minute
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 3
	}

	s := &Server{
		verifier:  verifier,
		limiter:   newUserRateLimiter(opts.RateRequests, opts.RateWindow, opts.RateBurst),
		poster:    p,
		validator: v,
		records:   records,
		generator: generator,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/post", s.handlePost)
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("POST /api/session", s.handleStoreSession)
	api.HandleFunc("DELETE /api/session", s.handleDisconnect)
	api.HandleFunc("POST /api/token", s.handleStoreToken)
	api.HandleFunc("PATCH /api/profile", s.handleUpdateProfile)
	api.HandleFunc("POST /api/draft", s.handleDraft)
	mux.Handle("/api/", s.authenticate(s.throttle(api)))

	s.inner = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	serverLog.Infof("Listening on %s", s.inner.Addr)
	return s.inner.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

// Handler exposes the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.inner.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postRequest struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"mediaUrls"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.poster.Post(r.Context(), UserID(r.Context()), req.Text, req.MediaURLs)
	if err != nil {
		serverLog.Errorf("Post failed: %v", err)
		writeError(w, http.StatusInternalServerError, "posting failed")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

type statusResponse struct {
	Connected bool      `json:"connected"`
	Method    string    `json:"method,omitempty"`
	Handle    string    `json:"handle,omitempty"`
	NextPost  time.Time `json:"nextPostAt,omitzero"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	status, err := s.validator.Usable(r.Context(), userID)
	if err != nil {
		serverLog.Errorf("Status check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "status check failed")
		return
	}

	resp := statusResponse{Connected: status.Valid, Method: string(status.Method)}
	if profile, err := s.records.GetProfile(r.Context(), userID); err == nil && profile != nil {
		resp.Handle = profile.Handle
		resp.NextPost = profile.LastPostedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type captureRequest struct {
	Cookies   []vault.Cookie `json:"cookies"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (s *Server) handleStoreSession(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpiresAt.IsZero() {
		writeError(w, http.StatusBadRequest, "expiresAt is required")
		return
	}

	if err := s.poster.StoreSession(r.Context(), UserID(r.Context()), req.Cookies, req.ExpiresAt); err != nil {
		serverLog.Errorf("Session capture failed: %v", err)
		writeError(w, http.StatusBadRequest, "session capture failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

type tokenRequest struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ExpiresIn    int       `json:"expiresIn"` // seconds, used when expiresAt is absent
}

// handleStoreToken ingests an OAuth token grant obtained by the front
// end's authorization flow, making it the preferred credential for the
// user until it expires.
func (s *Server) handleStoreToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "accessToken is required")
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		if req.ExpiresIn <= 0 {
			writeError(w, http.StatusBadRequest, "expiresAt or expiresIn is required")
			return
		}
		expiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	rec := store.TokenRecord{
		UserID:       UserID(r.Context()),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	if err := s.records.PutToken(r.Context(), rec); err != nil {
		serverLog.Errorf("Token store failed: %v", err)
		writeError(w, http.StatusInternalServerError, "token store failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

type profileRequest struct {
	Handle       string `json:"handle"`
	CooldownSecs int    `json:"cooldownSecs"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CooldownSecs < 0 {
		writeError(w, http.StatusBadRequest, "cooldownSecs cannot be negative")
		return
	}

	if err := s.records.UpdateProfileSettings(r.Context(), UserID(r.Context()), req.Handle, req.CooldownSecs); err != nil {
		serverLog.Errorf("Profile update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "profile update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.poster.Disconnect(r.Context(), UserID(r.Context())); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
			return
		}
		serverLog.Errorf("Disconnect failed: %v", err)
		writeError(w, http.StatusInternalServerError, "disconnect failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type draftRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusNotImplemented, "drafting is not configured")
		return
	}

	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text, err := s.generator.Draft(r.Context(), req.Topic)
	if err != nil {
		serverLog.Errorf("Draft failed: %v", err)
		writeError(w, http.StatusBadGateway, "draft generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		serverLog.Warnf("Response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
