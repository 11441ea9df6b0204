package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSchedulerRunsOnePassPerTick(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewScheduler(NewChanTicks(ticks))

	var seen []time.Time
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(_ context.Context, now time.Time) error {
			seen = append(seen, now)
			return nil
		})
	}()

	base := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)
	ticks <- base
	ticks <- base.Add(time.Minute)
	close(ticks)

	if err := <-done; err != nil {
		t.Fatalf("Run returned %v on channel close, want nil", err)
	}
	if len(seen) != 2 {
		t.Fatalf("ran %d passes, want 2", len(seen))
	}
	if !seen[0].Equal(base) || !seen[1].Equal(base.Add(time.Minute)) {
		t.Fatalf("pass instants = %v", seen)
	}
}

func TestSchedulerContinuesAfterPassError(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewScheduler(NewChanTicks(ticks))

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(_ context.Context, _ time.Time) error {
			calls++
			if calls == 1 {
				return errors.New("pass blew up")
			}
			return nil
		})
	}()

	now := time.Date(2025, 12, 1, 9, 15, 0, 0, time.UTC)
	ticks <- now
	ticks <- now.Add(time.Minute)
	close(ticks)

	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if calls != 2 {
		t.Fatalf("cadence stopped after a pass error: %d calls", calls)
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewScheduler(NewChanTicks(ticks))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, _ time.Time) error { return nil })
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}
