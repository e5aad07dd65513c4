package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/xpost/pkg/vault"
)

const (
	loginURL = "https://x.com/login"

	// authCookieName is the session cookie that proves a completed login.
	authCookieName = "auth_token"

	capturePollInterval = time.Second
)

// wantedCookieNames are the session cookies worth carrying even when
// their domain attribute is unusual.
var wantedCookieNames = map[string]bool{
	"auth_token": true,
	"ct0":        true,
	"twid":       true,
	"guest_id":   true,
}

// CaptureInteractive opens a visible browser at the login page, waits for
// the user to complete a login by hand, and returns the harvested session
// cookies. The wait ends as soon as the auth cookie appears, or when the
// timeout or ctx expires. The browser and its cookies are torn down
// before returning; the returned slice is the only surviving copy.
func (d *Driver) CaptureInteractive(ctx context.Context, timeout time.Duration) ([]vault.Cookie, error) {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("driver is stopped")
	}

	// Capture always needs a window the user can type into, whatever the
	// posting headless setting is.
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless:          playwright.Bool(false),
		Args:              launchArgs,
		IgnoreDefaultArgs: []string{"--enable-automation"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			browserLog.Warnf("Browser close failed: %v", err)
		}
	}()

	browserContext, err := d.newContext(browser)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := browserContext.ClearCookies(); err != nil {
			browserLog.Warnf("Cookie scrub failed: %v", err)
		}
		if err := browserContext.Close(); err != nil {
			browserLog.Warnf("Context close failed: %v", err)
		}
	}()

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if _, err := page.Goto(loginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(navigationTimeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("navigation to login failed: %w", err)
	}

	browserLog.Infof("Waiting up to %s for an interactive login", timeout)
	return awaitLoginCookies(ctx, browserContext, page, timeout)
}

// awaitLoginCookies polls until the auth cookie lands, or the composer
// appears with any cookies at all (the cookie can trail the redirect).
func awaitLoginCookies(ctx context.Context, browserContext playwright.BrowserContext, page playwright.Page, timeout time.Duration) ([]vault.Cookie, error) {
	deadline := time.Now().Add(timeout)
	for {
		cookies, err := browserContext.Cookies("https://x.com")
		if err == nil {
			if hasAuthCookie(cookies) {
				browserLog.Infof("Login completed, harvested %d cookies", len(cookies))
				return fromPlaywrightCookies(cookies), nil
			}
			if len(cookies) > 0 {
				if el, qerr := page.QuerySelector(composerSelector); qerr == nil && el != nil {
					browserLog.Infof("Composer visible, harvesting %d cookies", len(cookies))
					return fromPlaywrightCookies(cookies), nil
				}
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("login not completed within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(capturePollInterval):
		}
	}
}

func hasAuthCookie(cookies []playwright.Cookie) bool {
	for _, c := range cookies {
		if c.Name == authCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

// fromPlaywrightCookies converts harvested browser cookies to the stored
// shape, keeping the known session cookies plus anything scoped to the
// platform domain.
func fromPlaywrightCookies(cookies []playwright.Cookie) []vault.Cookie {
	out := make([]vault.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !wantedCookieNames[c.Name] && !strings.Contains(c.Domain, "x.com") {
			continue
		}
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		out = append(out, vault.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		})
	}
	return out
}
