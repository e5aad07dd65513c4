// Package correlate confirms a UI-triggered action by observing the
// network responses flowing through a browser page.
//
// Submitting through the web UI gives no direct result, so the only
// reliable evidence of a created post is the platform's own create
// response. The correlator subscribes to page responses, matches URLs
// against a caller-supplied pattern, and extracts the created-post
// identifier from the first parseable matching body.
package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/xpost/pkg/xerrors"
)

// Matcher inspects network responses for a matching create confirmation.
type Matcher struct {
	pattern glob.Glob
}

// NewMatcher compiles a glob pattern identifying the create endpoint,
// e.g. "*\/i/api/graphql/*CreateTweet*".
func NewMatcher(pattern string) (*Matcher, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile response pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: g}, nil
}

// Inspect checks one response. Non-matching URLs and malformed bodies are
// skipped, never fatal: a parse failure for one response must not abort
// the await.
func (m *Matcher) Inspect(url string, body []byte) (string, bool) {
	if !m.pattern.Match(url) {
		return "", false
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return "", false
	}

	return FindIdentifier(v)
}

// AwaitConfirmation subscribes to the page's network responses and
// resolves with the first post identifier found in a response matching
// pattern, or xerrors.ErrConfirmationTimeout after timeout.
//
// trigger, when non-nil, runs after the subscription is attached; the
// click that provokes the confirming response belongs there, because
// click-then-subscribe can miss a fast response. A trigger error is
// returned as-is. The subscription is torn down on every exit path so no
// listener outlives the call.
func AwaitConfirmation(ctx context.Context, page playwright.Page, pattern string, timeout time.Duration, trigger func() error) (string, error) {
	matcher, err := NewMatcher(pattern)
	if err != nil {
		return "", err
	}

	found := make(chan string, 1)
	handler := func(resp playwright.Response) {
		body, err := resp.Body()
		if err != nil {
			return
		}
		if id, ok := matcher.Inspect(resp.URL(), body); ok {
			select {
			case found <- id:
			default:
			}
		}
	}

	page.On("response", handler)
	defer page.RemoveListener("response", handler)

	if trigger != nil {
		if err := trigger(); err != nil {
			return "", err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-found:
		return id, nil
	case <-timer.C:
		return "", xerrors.ErrConfirmationTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
