// Package browser acquires and tears down authenticated browser sessions.
//
// The driver follows a scoped-acquisition pattern: WithSession launches a
// context (local chromium or a remote CDP endpoint), seeds it with the
// caller's session state, applies the stealth fingerprint, runs the
// caller's function, and guarantees teardown on every exit path. No
// context or browser process outlives the call, and contexts are never
// shared across users or concurrent attempts.
package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/xpost/pkg/emulate"
	"github.com/entrhq/xpost/pkg/logging"
	"github.com/entrhq/xpost/pkg/vault"
)

var browserLog *logging.Logger

func init() {
	var err error
	browserLog, err = logging.NewLogger("browser")
	if err != nil {
		browserLog.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}

const (
	homeURL = "https://x.com/home"

	navigationTimeout = 120 * time.Second
)

// Checkpoint receives debug screenshots at labeled points of an attempt.
// Implementations must tolerate being called concurrently and must never
// fail the attempt; errors are theirs to log and swallow.
type Checkpoint interface {
	Capture(ctx context.Context, png []byte, label string)
}

// NopCheckpoint discards screenshots.
type NopCheckpoint struct{}

// Capture implements Checkpoint.
func (NopCheckpoint) Capture(context.Context, []byte, string) {}

// Options configures a Driver.
type Options struct {
	// RemoteURL is a CDP endpoint such as a browserless instance. When
	// empty the driver launches a local chromium.
	RemoteURL  string
	Headless   bool
	Profile    Profile
	Checkpoint Checkpoint
}

// Driver owns the playwright runtime and opens scoped sessions.
type Driver struct {
	opts Options

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewDriver starts the playwright runtime. Call Stop when done.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Checkpoint == nil {
		opts.Checkpoint = NopCheckpoint{}
	}
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.RemoteURL == "" {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &Driver{opts: opts, pw: pw}, nil
}

// Stop shuts down the playwright runtime.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

// Session is the live browser state handed to a WithSession callback.
type Session struct {
	Page  playwright.Page
	Human *emulate.Humanizer

	driver *Driver
}

// Checkpoint captures a screenshot for the given label. Failures are
// logged and swallowed; a missing debug artifact never fails an attempt.
func (s *Session) Checkpoint(ctx context.Context, label string) {
	png, err := s.Page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
	})
	if err != nil {
		browserLog.Warnf("Checkpoint %q screenshot failed: %v", label, err)
		return
	}
	s.driver.opts.Checkpoint.Capture(ctx, png, label)
}

// WithSession acquires a browser context seeded with state, runs fn, and
// tears everything down regardless of outcome. No browser state outlives
// the call.
func (d *Driver) WithSession(ctx context.Context, state vault.SessionState, fn func(*Session) error) error {
	browser, err := d.connect()
	if err != nil {
		return err
	}
	defer func() {
		if err := browser.Close(); err != nil {
			browserLog.Warnf("Browser close failed: %v", err)
		}
	}()

	browserContext, err := d.newContext(browser)
	if err != nil {
		return err
	}
	defer func() {
		// Session cookies are secrets; scrub them before the context goes.
		if err := browserContext.ClearCookies(); err != nil {
			browserLog.Warnf("Cookie scrub failed: %v", err)
		}
		if err := browserContext.Close(); err != nil {
			browserLog.Warnf("Context close failed: %v", err)
		}
	}()

	if err := browserContext.AddCookies(toPlaywrightCookies(state.Cookies)); err != nil {
		// Invalid cookies surface at login detection, not here.
		browserLog.Warnf("AddCookies failed, continuing: %v", err)
	}

	page, err := browserContext.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}

	session := &Session{
		Page: page,
		Human: emulate.New(page, emulate.WithViewport(
			float64(d.opts.Profile.ViewportWidth),
			float64(d.opts.Profile.ViewportHeight),
		)),
		driver: d,
	}
	return fn(session)
}

// connect returns a browser from the configured strategy: a remote CDP
// endpoint when one is set, else a stealth-flagged local chromium.
func (d *Driver) connect() (playwright.Browser, error) {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("driver is stopped")
	}

	if d.opts.RemoteURL != "" {
		browser, err := pw.Chromium.ConnectOverCDP(d.opts.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to remote browser: %w", err)
		}
		browserLog.Infof("Connected to remote browser at %s", d.opts.RemoteURL)
		return browser, nil
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(d.opts.Headless),
		Args:              launchArgs,
		IgnoreDefaultArgs: []string{"--enable-automation"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	browserLog.Infof("Launched local chromium")
	return browser, nil
}

// newContext creates a context carrying the stealth fingerprint. The
// init script is installed before any page exists so no page script ever
// observes the raw navigator surface.
func (d *Driver) newContext(browser playwright.Browser) (playwright.BrowserContext, error) {
	profile := d.opts.Profile
	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  profile.ViewportWidth,
			Height: profile.ViewportHeight,
		},
		Locale:           playwright.String(profile.Locale),
		TimezoneId:       playwright.String(profile.TimezoneID),
		UserAgent:        playwright.String(profile.UserAgent),
		ExtraHttpHeaders: profile.ExtraHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if err := browserContext.AddInitScript(playwright.Script{
		Content: playwright.String(profile.InitScript()),
	}); err != nil {
		browserLog.Warnf("Init script install failed, continuing: %v", err)
	}
	return browserContext, nil
}

// toPlaywrightCookies converts stored session cookies to the shape the
// context accepts, defaulting domain and path for entries captured
// before those fields were recorded.
func toPlaywrightCookies(cookies []vault.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = "x.com"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(domain),
			Path:     playwright.String(path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: sameSiteOf(c.SameSite),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		out = append(out, oc)
	}
	return out
}

func sameSiteOf(v string) *playwright.SameSiteAttribute {
	switch v {
	case "Lax":
		return playwright.SameSiteAttributeLax
	case "Strict":
		return playwright.SameSiteAttributeStrict
	default:
		return playwright.SameSiteAttributeNone
	}
}
