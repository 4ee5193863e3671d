package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNextFireSameDay(t *testing.T) {
	s := New(Options{DailyAt: 9 * time.Hour, Location: time.UTC}, nil, noopLogger())

	now := time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC)
	next := s.nextFire(now)
	want := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next fire = %s, want %s", next, want)
	}
}

func TestNextFireRollsToTomorrow(t *testing.T) {
	s := New(Options{DailyAt: 9 * time.Hour, Location: time.UTC}, nil, noopLogger())

	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	next := s.nextFire(now)
	want := time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("slot at or before now must roll over, got %s", next)
	}
}

func TestNextFireHonoursLocation(t *testing.T) {
	tirana, err := time.LoadLocation("Europe/Tirane")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	s := New(Options{DailyAt: 9 * time.Hour, Location: tirana}, nil, noopLogger())

	// 07:00 UTC in winter is 08:00 in Tirana; the slot is still ahead.
	now := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	next := s.nextFire(now)
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, tirana)
	if !next.Equal(want) {
		t.Fatalf("next fire = %s, want %s", next, want)
	}
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	fired := make(chan struct{}, 1)
	job := JobFunc(func(ctx context.Context) error {
		fired <- struct{}{}
		return nil
	})

	s := New(Options{DailyAt: 9 * time.Hour, Location: time.UTC, RunOnStart: true}, job, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("RunOnStart should fire the job immediately")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{DailyAt: 9 * time.Hour, Location: time.UTC}, JobFunc(func(ctx context.Context) error {
		return nil
	}), noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run should return promptly on cancel")
	}
}

func TestJobErrorDoesNotStopScheduler(t *testing.T) {
	calls := 0
	job := JobFunc(func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	s := New(Options{DailyAt: 9 * time.Hour, Location: time.UTC, RunOnStart: true}, job, noopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("scheduler should keep running after a job error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one startup fire, got %d", calls)
	}
}
