package engine

import (
	"context"
	"time"

	"github.com/contactkeval/option-analytics/internal/logger"
)

// TickSource produces the instants at which passes run. Abstracting the
// tick source keeps the cadence testable without wall-clock sleeps.
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

// intervalTicks is the production tick source over time.Ticker.
type intervalTicks struct {
	t *time.Ticker
}

// NewIntervalTicks returns a TickSource firing every d.
func NewIntervalTicks(d time.Duration) TickSource {
	return &intervalTicks{t: time.NewTicker(d)}
}

func (s *intervalTicks) Ticks() <-chan time.Time { return s.t.C }
func (s *intervalTicks) Stop()                   { s.t.Stop() }

// chanTicks adapts a plain channel into a TickSource, for tests.
type chanTicks struct {
	c <-chan time.Time
}

// NewChanTicks returns a TickSource driven by an external channel.
func NewChanTicks(c <-chan time.Time) TickSource {
	return &chanTicks{c: c}
}

func (s *chanTicks) Ticks() <-chan time.Time { return s.c }
func (s *chanTicks) Stop()                   {}

// Scheduler runs passes sequentially, one per tick. Passes never overlap:
// each runs to completion on the scheduler's goroutine, so a pass longer
// than the interval simply delays the next one. A pass error is logged
// and the cadence continues; cancellation stops issuing new passes but
// lets an in-flight pass finish.
type Scheduler struct {
	ticks TickSource
}

// NewScheduler returns a scheduler over the given tick source.
func NewScheduler(ticks TickSource) *Scheduler {
	return &Scheduler{ticks: ticks}
}

// Run blocks, invoking pass once per tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, pass func(context.Context, time.Time) error) error {
	defer s.ticks.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now, ok := <-s.ticks.Ticks():
			if !ok {
				return nil
			}
			if err := pass(ctx, now); err != nil {
				logger.Errorf("event=pass_failed ts=%s err=%v", now.Format(time.RFC3339), err)
			}
		}
	}
}
