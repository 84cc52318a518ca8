package store

import (
	"time"

	"pdm-service/pdm"
)

// SaveDelay is the deferred-commit window for piecemeal configuration changes
const SaveDelay = 5 * time.Second

// Coalescer defers region saves so a burst of changes costs one commit.
// The deadline is fixed by the first change and not pushed back by later ones,
// bounding the delay under a continuous stream of updates.
type Coalescer struct {
	store  *Store
	state  *pdm.State
	logger pdm.Logger
	delay  time.Duration

	dirty    uint8
	deadline time.Time
	commits  int

	// now is the latest clock value passed to Mark or Poll
	now time.Time
}

func NewCoalescer(store *Store, state *pdm.State, delay time.Duration, logger pdm.Logger) *Coalescer {
	if delay <= 0 {
		delay = SaveDelay
	}
	return &Coalescer{
		store:  store,
		state:  state,
		logger: logger,
		delay:  delay,
	}
}

// Mark flags a region as changed and schedules a commit if none is pending
func (c *Coalescer) Mark(r Region, now time.Time) {
	if r >= RegionCount {
		return
	}
	c.now = now
	c.dirty |= 1 << r
	if c.deadline.IsZero() {
		c.deadline = now.Add(c.delay)
		c.logger.Debug("Configuration save scheduled in %s", c.delay)
	}
}

// Pending reports whether a commit is scheduled
func (c *Coalescer) Pending() bool {
	return c.dirty != 0
}

// Deadline returns the scheduled commit time, zero when nothing is pending
func (c *Coalescer) Deadline() time.Time {
	return c.deadline
}

// Poll commits the dirty regions once the deadline has passed
func (c *Coalescer) Poll(now time.Time) (bool, error) {
	c.now = now
	if !c.Pending() || now.Before(c.deadline) {
		return false, nil
	}
	return true, c.Flush()
}

// Flush commits every dirty region immediately. On failure the remaining
// regions are rescheduled one delay after the last Mark or Poll time.
func (c *Coalescer) Flush() error {
	if !c.Pending() {
		return nil
	}

	dirty := c.dirty
	c.dirty = 0
	c.deadline = time.Time{}

	for r := Region(0); r < RegionCount; r++ {
		if dirty&(1<<r) == 0 {
			continue
		}
		if err := c.store.Save(r, c.state); err != nil {
			// Keep the failed region for the next attempt
			c.dirty |= dirty &^ (1<<r - 1)
			c.deadline = c.now.Add(c.delay)
			return err
		}
	}

	c.commits++
	c.logger.Info("Configuration saved")
	return nil
}

// Commits returns how many coalesced commits have been performed
func (c *Coalescer) Commits() int {
	return c.commits
}
