package service

import (
	"time"
)

// Guard delays the Quasar needs between current changes. Sending a
// command inside the window confuses the station firmware, so commands
// are held back until the window expires.
const (
	GuardDelayFromZero     = 21900 * time.Millisecond
	GuardDelaySmallChange  = 5900 * time.Millisecond
	GuardDelayMediumChange = 7900 * time.Millisecond
	GuardDelayLargeChange  = 10900 * time.Millisecond
)

// GuardTimer tracks the mandatory quiet period after each current
// change. Now and TimeScale are injectable so tests never sleep.
type GuardTimer struct {
	Now       func() time.Time
	TimeScale float64

	until time.Time
}

func NewGuardTimer() *GuardTimer {
	return &GuardTimer{
		Now:       time.Now,
		TimeScale: 1.0,
	}
}

// Delay returns the guard duration a change from prev to next amps
// requires. Starting from zero needs the longest settle time.
func (g *GuardTimer) Delay(prev, next int) time.Duration {
	var d time.Duration
	diff := next - prev
	if diff < 0 {
		diff = -diff
	}
	switch {
	case prev == 0 && next != 0:
		d = GuardDelayFromZero
	case diff <= 1:
		d = GuardDelaySmallChange
	case diff <= 2:
		d = GuardDelayMediumChange
	default:
		d = GuardDelayLargeChange
	}
	return g.scale(d)
}

// Arm starts the guard window for a change from prev to next amps.
func (g *GuardTimer) Arm(prev, next int) {
	g.until = g.Now().Add(g.Delay(prev, next))
}

// Remaining returns how long the current guard window still holds,
// zero when commands may be sent.
func (g *GuardTimer) Remaining() time.Duration {
	r := g.until.Sub(g.Now())
	if r < 0 {
		return 0
	}
	return r
}

func (g *GuardTimer) Active() bool {
	return g.Remaining() > 0
}

func (g *GuardTimer) scale(d time.Duration) time.Duration {
	if g.TimeScale > 0 && g.TimeScale != 1.0 {
		return time.Duration(float64(d) * g.TimeScale)
	}
	return d
}
