// Package scheduler enforces per-user posting cooldowns using an
// optimistic reservation: the next-allowed timestamp is committed before
// the attempt runs and rolled back if the attempt fails. The store-level
// compare-and-set is the sole serialization point for a given user.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/xerrors"
)

// Reservation records the state needed to roll a reservation back.
type Reservation struct {
	UserID string

	// Previous is the pre-reservation lastPostedAt; rollback restores it.
	Previous time.Time

	// ScheduledAt is the optimistically committed timestamp.
	ScheduledAt time.Time
}

// Scheduler hands out posting reservations.
type Scheduler struct {
	records         store.Records
	defaultCooldown time.Duration
	minDelay        time.Duration
	maxDelay        time.Duration

	// global optionally throttles posting across all users.
	global *rate.Limiter

	// userLocks keeps reserve/rollback for one user from racing within
	// this process; cross-process safety comes from the store CAS.
	userLocks sync.Map // userID -> *sync.Mutex

	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGlobalLimit throttles reservations across all users to n per window.
func WithGlobalLimit(n int, window time.Duration) Option {
	return func(s *Scheduler) {
		s.global = rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
	}
}

// WithNowFunc overrides the time source. Test helper.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. defaultCooldown applies to users without a
// per-user override; minDelay/maxDelay bound the reservation jitter.
func New(records store.Records, defaultCooldown, minDelay, maxDelay time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		records:         records,
		defaultCooldown: defaultCooldown,
		minDelay:        minDelay,
		maxDelay:        maxDelay,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve checks the user's cooldown and, if clear, optimistically commits
// a jittered future timestamp before the attempt runs. Concurrent calls
// for the same user within the window never both succeed; the loser gets a
// TooSoonError carrying the earliest retry time.
func (s *Scheduler) Reserve(ctx context.Context, userID string) (*Reservation, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	var globalRes *rate.Reservation
	if s.global != nil {
		globalRes = s.global.ReserveN(now, 1)
		if !globalRes.OK() {
			return nil, &xerrors.TooSoonError{WaitUntil: now.Add(s.defaultCooldown)}
		}
		if delay := globalRes.DelayFrom(now); delay > 0 {
			globalRes.CancelAt(now)
			return nil, &xerrors.TooSoonError{WaitUntil: now.Add(delay)}
		}
	}
	// Give the global token back on any per-user failure below.
	cancelGlobal := func() {
		if globalRes != nil {
			globalRes.CancelAt(now)
		}
	}

	profile, err := s.records.GetProfile(ctx, userID)
	if err != nil {
		cancelGlobal()
		return nil, fmt.Errorf("load profile: %w", err)
	}

	cooldown := s.defaultCooldown
	if profile.CooldownSecs > 0 {
		cooldown = time.Duration(profile.CooldownSecs) * time.Second
	}

	last := profile.LastPostedAt
	if !last.IsZero() && now.Sub(last) < cooldown {
		cancelGlobal()
		return nil, &xerrors.TooSoonError{WaitUntil: last.Add(cooldown)}
	}

	scheduled := now.Add(s.jitter())
	ok, err := s.records.CompareAndSetLastPosted(ctx, userID, last, scheduled)
	if err != nil {
		cancelGlobal()
		return nil, fmt.Errorf("commit reservation: %w", err)
	}
	if !ok {
		// A concurrent attempt won the reservation between our read and
		// the compare-and-set.
		cancelGlobal()
		current, err := s.records.GetProfile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load profile after lost reservation: %w", err)
		}
		waitUntil := current.LastPostedAt.Add(cooldown)
		if waitUntil.Before(now) {
			waitUntil = now
		}
		return nil, &xerrors.TooSoonError{WaitUntil: waitUntil}
	}

	return &Reservation{UserID: userID, Previous: last, ScheduledAt: scheduled}, nil
}

// Rollback restores the pre-reservation timestamp so a failed attempt does
// not penalize the user. It restores, not clears, the prior state.
func (s *Scheduler) Rollback(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}

	lock := s.lockFor(res.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.records.SetLastPosted(ctx, res.UserID, res.Previous); err != nil {
		return fmt.Errorf("rollback reservation: %w", err)
	}
	return nil
}

func (s *Scheduler) jitter() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + time.Duration(rand.Int63n(int64(s.maxDelay-s.minDelay)))
}

func (s *Scheduler) lockFor(userID string) *sync.Mutex {
	actual, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
