// Package timer provides the single-fire countdown used by round deadlines.
package timer

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyArmed is returned by Start when a countdown is armed.
var ErrAlreadyArmed = errors.New("timer: countdown already armed")

// Countdown is a cancellable single-fire countdown.
//
// Remaining time is computed by subtraction from an absolute deadline on a
// monotonic clock, sampled at a fixed interval, rather than by decrementing
// a counter. Exactly one outcome happens per arm cycle: either the expiry
// callback fires once, or Cancel disarms the countdown and no callback runs.
//
// Thread Safety: all methods are safe for concurrent use.
type Countdown struct {
	// tick is the sampling interval; must be <= 1s for whole-second accuracy
	tick time.Duration

	// mu protects the fields below
	mu       sync.Mutex
	deadline time.Time
	armed    bool
	fired    bool
	stopCh   chan struct{}
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithTick sets the sampling interval. Intervals above one second are
// clamped to one second. Mainly useful to speed up tests.
func WithTick(tick time.Duration) Option {
	return func(c *Countdown) {
		if tick > 0 {
			c.tick = tick
		}
	}
}

// New creates a disarmed countdown.
func New(opts ...Option) *Countdown {
	c := &Countdown{
		tick: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tick > time.Second {
		c.tick = time.Second
	}
	return c
}

// Start arms the countdown for the given duration. onExpire is invoked at
// most once, from a background goroutine, when the deadline passes without
// a prior Cancel. A non-positive duration fires immediately.
func (c *Countdown) Start(d time.Duration, onExpire func()) error {
	c.mu.Lock()
	if c.armed {
		c.mu.Unlock()
		return ErrAlreadyArmed
	}
	c.armed = true
	c.fired = false
	c.deadline = time.Now().Add(d)
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.watch(stopCh, onExpire)
	return nil
}

// watch samples the clock until the deadline passes or the countdown is
// cancelled.
func (c *Countdown) watch(stopCh chan struct{}, onExpire func()) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			if !c.armed || c.stopCh != stopCh {
				c.mu.Unlock()
				return
			}
			if time.Now().Before(c.deadline) {
				c.mu.Unlock()
				continue
			}
			c.armed = false
			c.fired = true
			c.mu.Unlock()

			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

// Cancel disarms the countdown. It reports whether the countdown was armed
// and had not yet fired; after a true return the expiry callback is
// guaranteed not to run for this arm cycle.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return false
	}
	c.armed = false
	close(c.stopCh)
	c.stopCh = nil
	return true
}

// Remaining returns the time left before expiry, clamped to >= 0.
// A disarmed countdown reports zero.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		return 0
	}
	left := time.Until(c.deadline)
	if left < 0 {
		return 0
	}
	return left
}

// Armed reports whether the countdown is currently armed.
func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Fired reports whether the expiry callback ran in the current or most
// recent arm cycle.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}
