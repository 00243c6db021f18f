// Package clock supplies the logical tick that stands in for wall-clock time
// in deadline checks.
package clock

import (
	"sync/atomic"
	"time"
)

// Source returns a monotonically non-decreasing tick.
type Source interface {
	Tick() uint64
}

// SlotClock counts fixed-length slots since Genesis. A wall clock stepping
// backwards never makes Tick go backwards.
type SlotClock struct {
	Genesis  time.Time
	SlotSize time.Duration
	Now      func() time.Time

	last atomic.Uint64
}

func NewSlotClock(genesis time.Time, slot time.Duration) *SlotClock {
	return &SlotClock{Genesis: genesis, SlotSize: slot, Now: time.Now}
}

func (c *SlotClock) Tick() uint64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	var tick uint64
	if elapsed := now().Sub(c.Genesis); elapsed > 0 && c.SlotSize > 0 {
		tick = uint64(elapsed / c.SlotSize)
	}
	for {
		last := c.last.Load()
		if tick <= last {
			return last
		}
		if c.last.CompareAndSwap(last, tick) {
			return tick
		}
	}
}

// Manual is a Source driven by the caller, for tests and replays.
type Manual struct {
	tick atomic.Uint64
}

func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.tick.Store(start)
	return m
}

func (m *Manual) Tick() uint64 { return m.tick.Load() }

// Set moves the clock to t; it refuses to move backwards.
func (m *Manual) Set(t uint64) {
	for {
		cur := m.tick.Load()
		if t <= cur || m.tick.CompareAndSwap(cur, t) {
			return
		}
	}
}

func (m *Manual) Advance(d uint64) uint64 {
	return m.tick.Add(d)
}
