package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestGuard() (*GuardTimer, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewGuardTimer()
	g.Now = clock.Now
	return g, clock
}

func TestGuardDelayTable(t *testing.T) {
	assert := assert.New(t)
	g, _ := newTestGuard()

	assert.Equal(GuardDelayFromZero, g.Delay(0, 16))
	assert.Equal(GuardDelayFromZero, g.Delay(0, -16))
	assert.Equal(GuardDelaySmallChange, g.Delay(16, 17))
	assert.Equal(GuardDelaySmallChange, g.Delay(16, 16))
	assert.Equal(GuardDelayMediumChange, g.Delay(16, 14))
	assert.Equal(GuardDelayLargeChange, g.Delay(16, 3))
	assert.Equal(GuardDelayLargeChange, g.Delay(16, -16))
	// stopping is a change too, but not a start from zero
	assert.Equal(GuardDelayLargeChange, g.Delay(16, 0))
}

func TestGuardDelayMonotonicInMagnitude(t *testing.T) {
	require := require.New(t)
	g, _ := newTestGuard()

	// delay must never shrink as the change magnitude grows
	prev := time.Duration(0)
	for diff := 0; diff <= 40; diff++ {
		d := g.Delay(10, 10+diff)
		require.GreaterOrEqual(d, prev, "delay shrank at diff %d", diff)
		prev = d
	}
}

func TestGuardWindowExpiry(t *testing.T) {
	assert := assert.New(t)
	g, clock := newTestGuard()

	assert.False(g.Active())

	g.Arm(0, 16)
	assert.True(g.Active())
	assert.Equal(GuardDelayFromZero, g.Remaining())

	clock.Advance(10 * time.Second)
	assert.True(g.Active())
	assert.Equal(GuardDelayFromZero-10*time.Second, g.Remaining())

	clock.Advance(12 * time.Second)
	assert.False(g.Active())
	assert.Equal(time.Duration(0), g.Remaining())
}

func TestGuardTimeScale(t *testing.T) {
	assert := assert.New(t)
	g, clock := newTestGuard()
	g.TimeScale = 0.01

	g.Arm(16, 17)
	assert.Equal(59*time.Millisecond, g.Remaining())

	clock.Advance(60 * time.Millisecond)
	assert.False(g.Active())
}
