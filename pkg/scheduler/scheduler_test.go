package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/xpost/pkg/store"
	"github.com/entrhq/xpost/pkg/xerrors"
)

const cooldown = 120 * time.Second

func newTestScheduler(records store.Records) *Scheduler {
	return New(records, cooldown, time.Second, 2*time.Second)
}

func TestReserve_FirstPostSucceeds(t *testing.T) {
	records := store.NewMemoryStore()
	s := newTestScheduler(records)

	res, err := s.Reserve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Previous.IsZero() {
		t.Errorf("first reservation should record zero previous, got %s", res.Previous)
	}
	if !res.ScheduledAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("ScheduledAt should be in the future, got %s", res.ScheduledAt)
	}
}

func TestReserve_TooSoonCarriesWaitUntil(t *testing.T) {
	records := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	lastPosted := now.Add(-10 * time.Second)
	if err := records.SetLastPosted(ctx, "u1", lastPosted); err != nil {
		t.Fatal(err)
	}

	s := New(records, cooldown, time.Second, 2*time.Second, WithNowFunc(func() time.Time { return now }))

	_, err := s.Reserve(ctx, "u1")
	var tooSoon *xerrors.TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("expected TooSoonError, got %v", err)
	}

	want := lastPosted.Add(cooldown) // now + 110s
	if !tooSoon.WaitUntil.Equal(want) {
		t.Errorf("WaitUntil = %s, want %s", tooSoon.WaitUntil, want)
	}
}

func TestReserve_PerUserCooldownOverride(t *testing.T) {
	records := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	if err := records.SetProfile(ctx, store.Profile{
		UserID:       "u1",
		CooldownSecs: 10,
		LastPostedAt: now.Add(-30 * time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	s := New(records, cooldown, time.Second, 2*time.Second, WithNowFunc(func() time.Time { return now }))

	// 30s since last post: blocked by the 120s default but allowed by the
	// 10s per-user override.
	if _, err := s.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("per-user cooldown should permit reservation: %v", err)
	}
}

func TestReserve_ConcurrentExclusivity(t *testing.T) {
	records := store.NewMemoryStore()
	s := newTestScheduler(records)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	successes := make(chan *Reservation, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Reserve(ctx, "u1")
			if err == nil {
				successes <- res
				return
			}
			var tooSoon *xerrors.TooSoonError
			if !errors.As(err, &tooSoon) {
				t.Errorf("loser should get TooSoonError, got %v", err)
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent reservation should succeed, got %d", count)
	}
}

func TestRollback_RestoresPriorTimestamp(t *testing.T) {
	records := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	prior := now.Add(-200 * time.Second) // cooldown elapsed
	if err := records.SetLastPosted(ctx, "u1", prior); err != nil {
		t.Fatal(err)
	}

	s := New(records, cooldown, time.Second, 2*time.Second, WithNowFunc(func() time.Time { return now }))

	res, err := s.Reserve(ctx, "u1")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Previous.Equal(prior) {
		t.Fatalf("Previous = %s, want %s", res.Previous, prior)
	}

	if err := s.Rollback(ctx, res); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	p, err := records.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.LastPostedAt.Equal(prior) {
		t.Errorf("rollback should restore prior timestamp, got %s want %s", p.LastPostedAt, prior)
	}

	// After rollback the cooldown is measured from the restored prior
	// value, so a fresh reservation is allowed again.
	if _, err := s.Reserve(ctx, "u1"); err != nil {
		t.Errorf("reservation after rollback should succeed: %v", err)
	}
}

func TestRollback_AfterFailureKeepsCooldownFromPrior(t *testing.T) {
	records := store.NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	prior := now.Add(-30 * time.Second) // inside the 120s window
	if err := records.SetProfile(ctx, store.Profile{
		UserID:       "u1",
		CooldownSecs: 0,
		LastPostedAt: prior,
	}); err != nil {
		t.Fatal(err)
	}

	s := New(records, cooldown, time.Second, 2*time.Second, WithNowFunc(func() time.Time { return now }))

	// Inside the window the reserve fails outright.
	_, err := s.Reserve(ctx, "u1")
	var tooSoon *xerrors.TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("expected TooSoonError, got %v", err)
	}
	if !tooSoon.WaitUntil.Equal(prior.Add(cooldown)) {
		t.Errorf("WaitUntil relative to prior timestamp: got %s want %s", tooSoon.WaitUntil, prior.Add(cooldown))
	}
}

func TestReserve_GlobalLimit(t *testing.T) {
	records := store.NewMemoryStore()
	s := New(records, time.Millisecond, 0, 0,
		WithGlobalLimit(1, time.Hour))
	ctx := context.Background()

	if _, err := s.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("first reservation should pass the global limiter: %v", err)
	}

	_, err := s.Reserve(ctx, "u2")
	var tooSoon *xerrors.TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("second reservation should hit the global limit, got %v", err)
	}
	if tooSoon.WaitUntil.Before(time.Now()) {
		t.Error("WaitUntil should not be in the past")
	}
}
