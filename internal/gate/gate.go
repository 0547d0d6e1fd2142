package gate

import "time"

// State is the dispatch readiness of a pipeline.
type State string

const (
	Open     State = "open"
	InFlight State = "inflight"
	Cooldown State = "cooldown"
)

// DefaultCooldown is the minimum idle period after a dispatch settles.
const DefaultCooldown = 1000 * time.Millisecond

// Gate is a single-flight dispatch controller with a post-settle cooldown.
// Cooldown expiry is evaluated against the clock whenever the gate is consulted,
// so no timer goroutine is involved. Gate is not safe for concurrent use.
type Gate struct {
	cooldown time.Duration
	clock    func() time.Time
	state    State
	until    time.Time
}

func New(cooldown time.Duration, clock func() time.Time) *Gate {
	if cooldown < 0 {
		cooldown = 0
	}
	if clock == nil {
		clock = time.Now
	}
	return &Gate{cooldown: cooldown, clock: clock, state: Open}
}

// State returns the current state, reopening the gate if the cooldown has elapsed.
func (g *Gate) State() State {
	g.refresh()
	return g.state
}

// TryAcquire moves an open gate to InFlight and reports whether it did.
func (g *Gate) TryAcquire() bool {
	g.refresh()
	if g.state != Open {
		return false
	}
	g.state = InFlight
	return true
}

// Settle ends the in-flight dispatch, successful or not, and starts the cooldown.
// It returns false when no dispatch was in flight.
func (g *Gate) Settle() bool {
	if g.state != InFlight {
		return false
	}
	g.state = Cooldown
	g.until = g.clock().Add(g.cooldown)
	return true
}

// CooldownUntil is the instant the gate reopens; zero unless cooling down.
func (g *Gate) CooldownUntil() time.Time {
	g.refresh()
	if g.state != Cooldown {
		return time.Time{}
	}
	return g.until
}

func (g *Gate) refresh() {
	if g.state == Cooldown && !g.clock().Before(g.until) {
		g.state = Open
		g.until = time.Time{}
	}
}
