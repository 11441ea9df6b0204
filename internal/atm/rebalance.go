package atm

import (
	"math"
	"sync"
	"time"

	"github.com/contactkeval/option-analytics/internal/logger"
)

// Controller tracks the active ATM window and decides when a new
// underlying price requires re-resolving it.
//
// Transition rule: with no active window, the first observation resolves
// one. With an active window, a re-resolve fires only when the candidate
// center has moved at least one full strike step away from the active
// center. The full-step threshold is the hysteresis band that stops the
// window churning on price noise at a boundary.
//
// The controller holds at most one window; replacement swaps the whole
// window pointer under the lock, so readers never see a partial token set.
type Controller struct {
	mu sync.Mutex

	resolver    *Resolver
	symbol      string
	step        float64
	windowSteps int
	limit       int

	active *Window
}

// NewController returns a controller in the no-window state.
func NewController(resolver *Resolver, symbol string, step float64, windowSteps, limit int) *Controller {
	return &Controller{
		resolver:    resolver,
		symbol:      symbol,
		step:        step,
		windowSteps: windowSteps,
		limit:       limit,
	}
}

// Observe feeds one underlying price observation to the controller and
// returns the active window afterwards. The boolean reports whether this
// observation caused a (re-)resolution.
func (c *Controller) Observe(price float64, asOf time.Time) (*Window, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := RoundToStrike(price, c.step)

	if c.active != nil && math.Abs(candidate-c.active.CenterStrike) < c.step {
		return c.active, false, nil
	}

	win, err := c.resolver.Resolve(c.symbol, price, asOf, c.step, c.windowSteps, c.limit)
	if err != nil {
		// Keep the previous window on resolution failure; the next
		// observation retries.
		return c.active, false, err
	}

	if c.active == nil {
		logger.Infof("event=atm_window_created center=%.2f pairs=%d", win.CenterStrike, len(win.Legs))
	} else {
		logger.Infof(
			"event=atm_window_rebalanced old_center=%.2f new_center=%.2f",
			c.active.CenterStrike, win.CenterStrike,
		)
	}

	c.active = win
	return c.active, true, nil
}

// Active returns the current window, or nil before the first resolution.
func (c *Controller) Active() *Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
