package gate

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTransitions(t *testing.T) {
	clock := newFakeClock()
	g := New(DefaultCooldown, clock.Now)

	if g.State() != Open {
		t.Fatalf("expected initial state open, got %s", g.State())
	}
	if !g.TryAcquire() {
		t.Fatal("expected acquire on open gate")
	}
	if g.State() != InFlight {
		t.Fatalf("expected inflight, got %s", g.State())
	}
	if g.TryAcquire() {
		t.Fatal("second acquire while inflight must fail")
	}
	if !g.Settle() {
		t.Fatal("expected settle to succeed")
	}
	if g.State() != Cooldown {
		t.Fatalf("expected cooldown, got %s", g.State())
	}
	if g.TryAcquire() {
		t.Fatal("acquire during cooldown must fail")
	}
}

func TestCooldownIsRespected(t *testing.T) {
	clock := newFakeClock()
	g := New(DefaultCooldown, clock.Now)
	g.TryAcquire()
	g.Settle()

	clock.Advance(DefaultCooldown - time.Millisecond)
	if g.State() != Cooldown {
		t.Fatalf("gate reopened before cooldown elapsed")
	}
	clock.Advance(time.Millisecond)
	if g.State() != Open {
		t.Fatalf("expected open after exactly the cooldown, got %s", g.State())
	}
	if !g.CooldownUntil().IsZero() {
		t.Fatal("expected zero expiry once open")
	}
}

func TestSettleWithoutAcquire(t *testing.T) {
	g := New(DefaultCooldown, nil)
	if g.Settle() {
		t.Fatal("settle on open gate must be a no-op")
	}
	if g.State() != Open {
		t.Fatalf("expected open, got %s", g.State())
	}
}

func TestZeroCooldownReopensImmediately(t *testing.T) {
	clock := newFakeClock()
	g := New(0, clock.Now)
	g.TryAcquire()
	g.Settle()
	if g.State() != Open {
		t.Fatalf("expected open with zero cooldown, got %s", g.State())
	}
}
