// Package emulate drives playwright input primitives with human-shaped
// timing and motion.
//
// Pointer moves follow a curved multi-step path instead of an
// instantaneous jump, typing emits one input event per character with
// randomized delay, and scroll passes simulate reading between major
// steps. The primitives never retry internally; a failure surfaces as a
// typed InteractionError naming the step that failed so the call site
// decides what to do.
package emulate

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/xpost/pkg/xerrors"
)

const (
	defaultSteps     = 18
	defaultViewportW = 1280
	defaultViewportH = 720

	// Per-character typing delay range, matching observed human cadence.
	typeDelayMin = 60 * time.Millisecond
	typeDelayMax = 140 * time.Millisecond
)

// Humanizer wraps a page with human-shaped input primitives. It is safe
// for use by a single attempt; attempts never share pages, so there is
// no cross-attempt locking.
type Humanizer struct {
	page playwright.Page

	viewportW float64
	viewportH float64
	idleCap   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
	pos Point // last known pointer position
}

// Option configures a Humanizer.
type Option func(*Humanizer)

// WithViewport sets the bounds pointer paths are clamped to.
func WithViewport(w, h float64) Option {
	return func(h_ *Humanizer) {
		h_.viewportW = w
		h_.viewportH = h
	}
}

// WithIdleCeiling bounds the total time ScrollIdle may spend.
func WithIdleCeiling(d time.Duration) Option {
	return func(h *Humanizer) { h.idleCap = d }
}

// WithSeed fixes the random source, for tests.
func WithSeed(seed int64) Option {
	return func(h *Humanizer) { h.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a Humanizer for the page.
func New(page playwright.Page, opts ...Option) *Humanizer {
	h := &Humanizer{
		page:      page,
		viewportW: defaultViewportW,
		viewportH: defaultViewportH,
		idleCap:   5 * time.Second,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		pos:       Point{X: 640, Y: 360},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MoveTo traces a curved pointer path from the current position to the
// target, with jittered intermediate steps and variable inter-step delay.
func (h *Humanizer) MoveTo(target Point) error {
	h.mu.Lock()
	start := h.pos
	points := tracePath(start, target, defaultSteps, h.viewportW, h.viewportH, h.rng)
	delays := make([]time.Duration, len(points))
	for i := range delays {
		delays[i] = time.Duration(8+h.rng.Intn(18)) * time.Millisecond
	}
	h.mu.Unlock()

	for i, pt := range points {
		if err := h.page.Mouse().Move(pt.X, pt.Y); err != nil {
			return &xerrors.InteractionError{Step: xerrors.StepAct, Err: fmt.Errorf("mouse move: %w", err)}
		}
		time.Sleep(delays[i])
	}

	h.mu.Lock()
	h.pos = target
	h.mu.Unlock()
	return nil
}

// Click locates the selector freshly, moves the pointer onto it along a
// curved path, and presses with a human-length down/up gap.
func (h *Humanizer) Click(selector string) error {
	el, err := h.page.QuerySelector(selector)
	if err != nil || el == nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepLocate,
			Selector: selector,
			Err:      fmt.Errorf("element not found: %w", err),
		}
	}
	if err := h.ClickElement(el); err != nil {
		if ie, ok := err.(*xerrors.InteractionError); ok && ie.Selector == "" {
			ie.Selector = selector
		}
		return err
	}
	return nil
}

// ClickElement presses an already-located element. When the element has
// no bounding box (detached or hidden) it falls back to a forced
// element click.
func (h *Humanizer) ClickElement(el playwright.ElementHandle) error {
	box, err := el.BoundingBox()
	if err != nil || box == nil {
		if clickErr := el.Click(playwright.ElementHandleClickOptions{Force: playwright.Bool(true)}); clickErr != nil {
			return &xerrors.InteractionError{Step: xerrors.StepAct, Err: fmt.Errorf("forced click: %w", clickErr)}
		}
		return nil
	}

	h.mu.Lock()
	target := Point{
		X: box.X + box.Width/2 + (h.rng.Float64()-0.5)*6,
		Y: box.Y + box.Height/2 + (h.rng.Float64()-0.5)*6,
	}
	pressGap := time.Duration(40+h.rng.Intn(120)) * time.Millisecond
	settle := time.Duration(400+h.rng.Intn(800)) * time.Millisecond
	h.mu.Unlock()

	if err := h.MoveTo(target); err != nil {
		return err
	}
	if err := h.page.Mouse().Down(); err != nil {
		return &xerrors.InteractionError{Step: xerrors.StepAct, Err: fmt.Errorf("mouse down: %w", err)}
	}
	time.Sleep(pressGap)
	if err := h.page.Mouse().Up(); err != nil {
		return &xerrors.InteractionError{Step: xerrors.StepAct, Err: fmt.Errorf("mouse up: %w", err)}
	}
	time.Sleep(settle)
	return nil
}

// Type clicks into the selector and emits one input event per character
// with randomized inter-character delay. The element is located freshly
// here; callers must not pass a cached handle's selector after page
// mutations.
func (h *Humanizer) Type(selector, text string) error {
	el, err := h.page.QuerySelector(selector)
	if err != nil || el == nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepLocate,
			Selector: selector,
			Err:      fmt.Errorf("element not found: %w", err),
		}
	}

	if err := h.ClickElement(el); err != nil {
		return err
	}

	for _, ch := range text {
		if err := h.page.Keyboard().Type(string(ch)); err != nil {
			return &xerrors.InteractionError{
				Step:     xerrors.StepAct,
				Selector: selector,
				Err:      fmt.Errorf("keyboard input: %w", err),
			}
		}
		h.mu.Lock()
		delay := typeDelayMin + time.Duration(h.rng.Int63n(int64(typeDelayMax-typeDelayMin)))
		h.mu.Unlock()
		time.Sleep(delay)
	}

	// The composer re-renders while typing; confirm the target survived.
	if el, err = h.page.QuerySelector(selector); err != nil || el == nil {
		return &xerrors.InteractionError{
			Step:     xerrors.StepVerify,
			Selector: selector,
			Err:      fmt.Errorf("element gone after typing: %w", err),
		}
	}
	return nil
}

// ScrollIdle performs one or two randomized scroll passes and a pointer
// rest. Purely cosmetic; total time is capped by the configured ceiling
// and errors are swallowed because nothing downstream depends on it.
func (h *Humanizer) ScrollIdle() {
	deadline := time.Now().Add(h.idleCap)

	h.mu.Lock()
	passes := 1 + h.rng.Intn(2)
	h.mu.Unlock()

	for i := 0; i < passes && time.Now().Before(deadline); i++ {
		h.mu.Lock()
		delta := float64(h.rng.Intn(600))
		pause := time.Duration(300+h.rng.Intn(800)) * time.Millisecond
		h.mu.Unlock()

		if err := h.page.Mouse().Wheel(0, delta); err != nil {
			return
		}
		sleepUntil(pause, deadline)
	}

	h.mu.Lock()
	rest := Point{
		X: clamp(640+(h.rng.Float64()-0.5)*200, 0, h.viewportW),
		Y: clamp(300+(h.rng.Float64()-0.5)*200, 0, h.viewportH),
	}
	pause := time.Duration(300+h.rng.Intn(700)) * time.Millisecond
	h.mu.Unlock()

	if err := h.page.Mouse().Move(rest.X, rest.Y); err != nil {
		return
	}
	h.mu.Lock()
	h.pos = rest
	h.mu.Unlock()
	sleepUntil(pause, deadline)
}

func sleepUntil(d time.Duration, deadline time.Time) {
	if remaining := time.Until(deadline); d > remaining {
		d = remaining
	}
	if d > 0 {
		time.Sleep(d)
	}
}
