package world

import (
	"fmt"
	"sync/atomic"

	"tileworld.dev/internal/sim/tuning"
)

// Clock is the world time of day, counted in ticks and wrapping at
// TicksPerDay.
type Clock struct {
	perDay  uint64
	perHour uint64
	ticks   atomic.Uint64
}

func NewClock(cfg tuning.Clock) *Clock {
	c := &Clock{perDay: uint64(cfg.TicksPerDay), perHour: uint64(cfg.TicksPerHour)}
	if c.perDay == 0 {
		c.perDay = 1
	}
	if c.perHour == 0 {
		c.perHour = 1
	}
	c.ticks.Store(uint64(cfg.StartHour*float64(c.perHour)) % c.perDay)
	return c
}

// Advance moves the clock one tick forward.
func (c *Clock) Advance() {
	c.ticks.Store((c.ticks.Load() + 1) % c.perDay)
}

func (c *Clock) Ticks() uint64 { return c.ticks.Load() }

// SetTicks restores a saved time of day.
func (c *Clock) SetTicks(t uint64) { c.ticks.Store(t % c.perDay) }

// Hour returns the fractional hour in [0, 24).
func (c *Clock) Hour() float64 {
	return float64(c.ticks.Load()) / float64(c.perHour)
}

func (c *Clock) String() string {
	t := c.ticks.Load()
	h := t / c.perHour
	m := (t % c.perHour) * 60 / c.perHour
	return fmt.Sprintf("%02d:%02d", h, m)
}
