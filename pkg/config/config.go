// Package config loads the runtime configuration for the posting engine
// from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config captures every environment-level knob the engine reads.
type Config struct {
	// VaultKey is the base64-encoded 32-byte encryption key for the
	// credential vault, or an operator passphrase from which a key is
	// derived. Absence is a startup-fatal error.
	VaultKey string

	// JWTSecret signs and verifies identity tokens on the HTTP surface.
	JWTSecret string

	// DatabaseURL is the DSN of the persistent store. Empty selects the
	// in-memory store (tests, single-process development).
	DatabaseURL string

	// CooldownSeconds is the global default minimum spacing between posts
	// for one user when the user has no per-user override.
	CooldownSeconds int

	// MinDelay and MaxDelay bound the jitter added to a reservation.
	MinDelay time.Duration
	MaxDelay time.Duration

	// RemoteBrowserURL is an optional CDP endpoint. When empty a local
	// chromium process is launched instead.
	RemoteBrowserURL   string
	RemoteBrowserToken string
	Headless           bool

	// StealthProfilePath optionally points to a YAML fingerprint profile
	// overriding the built-in one.
	StealthProfilePath string

	// MediaCacheDir and MediaCacheTTL configure the media staging cache.
	MediaCacheDir string
	MediaCacheTTL time.Duration

	// Timeout ceilings for suspension points that depend on network state.
	LoginTimeout    time.Duration
	ComposerTimeout time.Duration
	MediaTimeout    time.Duration
	ConfirmTimeout  time.Duration

	// SnapshotBucket enables S3 checkpoint screenshots when non-empty.
	SnapshotBucket   string
	SnapshotRegion   string
	SnapshotEndpoint string

	// CaptureWait bounds how long an interactive login may take;
	// SessionTTL is how long a captured session is considered valid.
	CaptureWait time.Duration
	SessionTTL  time.Duration

	// OpenAIKey enables the content-generation collaborator when set.
	OpenAIKey string

	// Port is the HTTP API listen port.
	Port int
}

// Load reads configuration from environment variables, applying defaults
// for everything except the vault key, which is required.
func Load() (Config, error) {
	cfg := Config{
		VaultKey:           os.Getenv("XPOST_VAULT_KEY"),
		JWTSecret:          getString("XPOST_JWT_SECRET", ""),
		DatabaseURL:        getString("XPOST_DATABASE_URL", ""),
		CooldownSeconds:    getInt("XPOST_COOLDOWN_SECS", 120),
		MinDelay:           getDuration("XPOST_MIN_DELAY", 2*time.Minute),
		MaxDelay:           getDuration("XPOST_MAX_DELAY", 6*time.Minute),
		RemoteBrowserURL:   getString("XPOST_BROWSER_URL", ""),
		RemoteBrowserToken: getString("XPOST_BROWSER_TOKEN", ""),
		Headless:           getBool("XPOST_HEADLESS", true),
		StealthProfilePath: getString("XPOST_STEALTH_PROFILE", ""),
		MediaCacheDir:      getString("XPOST_MEDIA_CACHE_DIR", filepath.Join(os.TempDir(), "xpost-media-cache")),
		MediaCacheTTL:      getDuration("XPOST_MEDIA_CACHE_TTL", 24*time.Hour),
		LoginTimeout:       getDuration("XPOST_LOGIN_TIMEOUT", 30*time.Second),
		ComposerTimeout:    getDuration("XPOST_COMPOSER_TIMEOUT", 20*time.Second),
		MediaTimeout:       getDuration("XPOST_MEDIA_TIMEOUT", 45*time.Second),
		ConfirmTimeout:     getDuration("XPOST_CONFIRM_TIMEOUT", 25*time.Second),
		SnapshotBucket:     getString("XPOST_SNAPSHOT_BUCKET", ""),
		SnapshotRegion:     getString("XPOST_SNAPSHOT_REGION", "us-east-1"),
		SnapshotEndpoint:   getString("XPOST_SNAPSHOT_ENDPOINT", ""),
		CaptureWait:        getDuration("XPOST_CAPTURE_WAIT", 5*time.Minute),
		SessionTTL:         getDuration("XPOST_SESSION_TTL", 24*time.Hour),
		OpenAIKey:          getString("OPENAI_API_KEY", ""),
		Port:               getInt("XPOST_PORT", 8080),
	}

	if cfg.VaultKey == "" {
		return Config{}, fmt.Errorf("XPOST_VAULT_KEY is required")
	}
	if cfg.MinDelay > cfg.MaxDelay {
		return Config{}, fmt.Errorf("XPOST_MIN_DELAY (%s) exceeds XPOST_MAX_DELAY (%s)", cfg.MinDelay, cfg.MaxDelay)
	}
	if cfg.CooldownSeconds <= 0 {
		return Config{}, fmt.Errorf("XPOST_COOLDOWN_SECS must be positive, got %d", cfg.CooldownSeconds)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
