package poster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/xpost/pkg/browser"
	"github.com/entrhq/xpost/pkg/correlate"
	"github.com/entrhq/xpost/pkg/media"
	"github.com/entrhq/xpost/pkg/vault"
	"github.com/entrhq/xpost/pkg/xerrors"
)

const (
	composeURL       = "https://x.com/compose/post"
	composerSelector = `div[role="textbox"]`
	fileInputSelect  = `input[data-testid="fileInput"], input[type="file"]`
	postBtnSelector  = `div[data-testid="tweetButtonInline"], div[data-testid="tweetButton"], button:has-text("Post")`
	previewSelector  = `div[role="textbox"] img, div[role="textbox"] video, [data-testid="mediaPreview"] img`
	confirmPattern   = `*/i/api/graphql/*CreateTweet*`

	navTimeoutMs = 120_000
)

// Timeouts are the ceilings for every suspension point that depends on
// external network state. A missing timeout here is a defect.
type Timeouts struct {
	Login    time.Duration
	Composer time.Duration
	Media    time.Duration
	Confirm  time.Duration
}

// Attempt is one posting attempt's inputs after media staging.
type Attempt struct {
	Text  string
	Media []media.Item
}

// Flow executes a posting attempt inside a live browser session and
// returns the confirmed post identifier. Implementations own all UI
// interaction; the orchestrator never touches a page.
type Flow interface {
	Run(ctx context.Context, state vault.SessionState, attempt Attempt) (string, error)
}

// BrowserFlow is the production Flow over the session driver.
type BrowserFlow struct {
	driver   *browser.Driver
	timeouts Timeouts
}

// NewBrowserFlow wires the flow to a driver.
func NewBrowserFlow(driver *browser.Driver, timeouts Timeouts) *BrowserFlow {
	return &BrowserFlow{driver: driver, timeouts: timeouts}
}

// Run opens a scoped session, verifies login, composes and submits the
// post, and correlates the confirming network response. The session and
// its temp state are gone by the time this returns, on every path.
func (f *BrowserFlow) Run(ctx context.Context, state vault.SessionState, attempt Attempt) (string, error) {
	var postID string
	err := f.driver.WithSession(ctx, state, func(s *browser.Session) error {
		if err := s.EnsureLoggedIn(f.timeouts.Login); err != nil {
			return err
		}
		s.Checkpoint(ctx, "home_loaded")

		if _, err := s.Page.Goto(composeURL, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(navTimeoutMs),
		}); err != nil {
			return fmt.Errorf("navigation to composer failed: %w", err)
		}
		s.Human.ScrollIdle()
		s.Checkpoint(ctx, "compose_page_loaded")

		if len(attempt.Media) > 0 {
			if err := f.attachMedia(s, attempt.Media); err != nil {
				return err
			}
			s.Checkpoint(ctx, "media_attached")
		}

		if _, err := s.Page.WaitForSelector(composerSelector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(f.timeouts.Composer.Milliseconds())),
		}); err != nil {
			return &xerrors.InteractionError{
				Step:     xerrors.StepLocate,
				Selector: composerSelector,
				Err:      fmt.Errorf("composer not ready: %w", err),
			}
		}

		if err := s.Human.Type(composerSelector, attempt.Text); err != nil {
			return err
		}
		s.Human.ScrollIdle()
		s.Checkpoint(ctx, "text_typed")

		id, err := correlate.AwaitConfirmation(ctx, s.Page, confirmPattern, f.timeouts.Confirm, func() error {
			return f.clickPost(s)
		})
		if err != nil {
			s.Checkpoint(ctx, "confirmation_missing")
			return err
		}
		s.Checkpoint(ctx, "post_confirmed")
		postID = id
		return nil
	})
	return postID, err
}

// clickPost locates the submit button and presses it the human way.
func (f *BrowserFlow) clickPost(s *browser.Session) error {
	btn, err := s.Page.WaitForSelector(postBtnSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(f.timeouts.Composer.Milliseconds())),
	})
	if err != nil || btn == nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepLocate,
			Selector: postBtnSelector,
			Err:      fmt.Errorf("post button not found: %w", err),
		}
	}
	if err := btn.ScrollIntoViewIfNeeded(); err != nil {
		posterLog.Warnf("Post button scroll failed, clicking anyway: %v", err)
	}
	return s.Human.ClickElement(btn)
}

// attachMedia sets staged files on the composer's file input, then waits
// for upload evidence. Absence of a preview within the budget is a
// warning, not an abort: the submit-button state downstream is the
// effective gate and the platform is tolerant of slow previews.
func (f *BrowserFlow) attachMedia(s *browser.Session, items []media.Item) error {
	input, err := s.Page.WaitForSelector(fileInputSelect, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(f.timeouts.Composer.Milliseconds())),
		State:   playwright.WaitForSelectorStateAttached,
	})
	if err != nil || input == nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepLocate,
			Selector: fileInputSelect,
			Err:      fmt.Errorf("file input not found: %w", err),
		}
	}

	files := make([]playwright.InputFile, 0, len(items))
	for _, item := range items {
		buf, err := os.ReadFile(item.Path)
		if err != nil {
			return fmt.Errorf("failed to read staged media %s: %w", item.Path, err)
		}
		files = append(files, playwright.InputFile{
			Name:     filepath.Base(item.Path),
			MimeType: item.ContentType,
			Buffer:   buf,
		})
	}
	if err := input.SetInputFiles(files); err != nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepAct,
			Selector: fileInputSelect,
			Err:      fmt.Errorf("setInputFiles failed: %w", err),
		}
	}

	if _, err := s.Page.WaitForSelector(previewSelector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(f.timeouts.Media.Milliseconds())),
	}); err != nil {
		posterLog.Warnf("Media preview not observed within %s, proceeding", f.timeouts.Media)
	}

	f.waitPostButtonEnabled(s)
	return nil
}

// waitPostButtonEnabled polls the submit button until it reports enabled
// or the media budget runs out. Best effort only.
func (f *BrowserFlow) waitPostButtonEnabled(s *browser.Session) {
	deadline := time.Now().Add(f.timeouts.Media)
	for time.Now().Before(deadline) {
		btn, err := s.Page.QuerySelector(postBtnSelector)
		if err == nil && btn != nil {
			if enabled, err := btn.IsEnabled(); err == nil && enabled {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}
	posterLog.Warnf("Post button never reported enabled within %s", f.timeouts.Media)
}
