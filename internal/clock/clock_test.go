package clock

import (
	"testing"
	"time"
)

func TestSlotClockCountsSlots(t *testing.T) {
	genesis := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := genesis.Add(30 * time.Second)
	c := NewSlotClock(genesis, 400*time.Millisecond)
	c.Now = func() time.Time { return now }
	if got := c.Tick(); got != 75 {
		t.Fatalf("tick = %d, want 75", got)
	}
}

func TestSlotClockNeverGoesBackwards(t *testing.T) {
	genesis := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := genesis.Add(10 * time.Second)
	c := NewSlotClock(genesis, time.Second)
	c.Now = func() time.Time { return now }
	if got := c.Tick(); got != 10 {
		t.Fatalf("tick = %d, want 10", got)
	}
	now = genesis.Add(3 * time.Second)
	if got := c.Tick(); got != 10 {
		t.Fatalf("tick after wall clock step back = %d, want 10", got)
	}
	now = genesis.Add(-time.Hour)
	if got := c.Tick(); got != 10 {
		t.Fatalf("tick before genesis = %d, want 10", got)
	}
}

func TestManual(t *testing.T) {
	m := NewManual(5)
	m.Advance(3)
	if m.Tick() != 8 {
		t.Fatalf("tick = %d, want 8", m.Tick())
	}
	m.Set(2)
	if m.Tick() != 8 {
		t.Fatalf("Set must not move backwards, got %d", m.Tick())
	}
	m.Set(20)
	if m.Tick() != 20 {
		t.Fatalf("tick = %d, want 20", m.Tick())
	}
}
