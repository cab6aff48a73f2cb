package world

import (
	"testing"

	"tileworld.dev/internal/sim/tuning"
)

func TestClock(t *testing.T) {
	cfg := tuning.Defaults().Clock
	c := NewClock(cfg)
	if got := c.Ticks(); got != 7800 {
		t.Fatalf("start ticks=%d want 7800", got)
	}
	if c.Hour() != 6.5 || c.String() != "06:30" {
		t.Fatalf("start=%v %s", c.Hour(), c)
	}

	for i := 0; i < cfg.TicksPerDay-7800-1; i++ {
		c.Advance()
	}
	if c.String() != "23:59" {
		t.Fatalf("before midnight=%s", c)
	}
	c.Advance()
	if c.Ticks() != 0 || c.String() != "00:00" {
		t.Fatalf("clock did not wrap: %d", c.Ticks())
	}

	c.SetTicks(uint64(cfg.TicksPerDay) + 600)
	if c.Ticks() != 600 || c.Hour() != 0.5 {
		t.Fatalf("SetTicks wrap=%d", c.Ticks())
	}
}
