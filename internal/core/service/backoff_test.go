package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffBoundsWithRandomJitter(t *testing.T) {
	require := require.New(t)
	b := NewRetryBackoff()

	for attempt := 1; attempt <= 10; attempt++ {
		d := b.Delay(attempt)
		require.GreaterOrEqual(d, time.Duration(float64(b.Base)*0.8), "attempt %d below floor", attempt)
		require.LessOrEqual(d, time.Duration(float64(b.Cap)*1.2), "attempt %d above ceiling", attempt)
	}
}

func TestBackoffExponentialGrowth(t *testing.T) {
	assert := assert.New(t)
	b := NewRetryBackoff()
	b.Jitter = func() float64 { return 1.0 }

	assert.Equal(5*time.Second, b.Delay(1))
	assert.Equal(10*time.Second, b.Delay(2))
	assert.Equal(20*time.Second, b.Delay(3))
	assert.Equal(40*time.Second, b.Delay(4))
	assert.Equal(60*time.Second, b.Delay(5))
	// capped from here on
	assert.Equal(60*time.Second, b.Delay(6))
	assert.Equal(60*time.Second, b.Delay(10))
}

func TestBackoffMaxDelay(t *testing.T) {
	assert := assert.New(t)
	b := NewRetryBackoff()
	b.Jitter = func() float64 { return 1.2 }
	b.MaxDelay = 30 * time.Second

	assert.Equal(6*time.Second, b.Delay(1))
	assert.Equal(30*time.Second, b.Delay(4))
}

func TestBackoffExhaustion(t *testing.T) {
	assert := assert.New(t)
	b := NewRetryBackoff()

	assert.False(b.Exhausted(9))
	assert.True(b.Exhausted(10))
	assert.True(b.Exhausted(11))
}

func TestIsRateLimited(t *testing.T) {
	assert := assert.New(t)

	assert.True(IsRateLimited(errors.New("HTTP 429 Too Many Requests")))
	assert.True(IsRateLimited(errors.New("rate exceeded")))
	assert.True(IsRateLimited(errors.New("request limit reached")))
	assert.False(IsRateLimited(errors.New("connection refused")))
	assert.False(IsRateLimited(nil))
}

func TestRetryQueueOrdering(t *testing.T) {
	require := require.New(t)
	q := NewRetryQueue()
	now := time.Unix(1_700_000_000, 0)

	q.Schedule(&RetryJob{Command: "late"}, now.Add(30*time.Second))
	q.Schedule(&RetryJob{Command: "early"}, now.Add(5*time.Second))
	q.Schedule(&RetryJob{Command: "middle"}, now.Add(10*time.Second))

	require.Equal(3, q.Len())

	// nothing due yet
	require.Nil(q.PopDue(now))

	due, ok := q.NextDue()
	require.True(ok)
	require.Equal(now.Add(5*time.Second), due)

	job := q.PopDue(now.Add(6 * time.Second))
	require.NotNil(job)
	require.Equal("early", job.Command)

	job = q.PopDue(now.Add(1 * time.Minute))
	require.Equal("middle", job.Command)
	job = q.PopDue(now.Add(1 * time.Minute))
	require.Equal("late", job.Command)

	require.Nil(q.PopDue(now.Add(1*time.Minute)))
	_, ok = q.NextDue()
	require.False(ok)
}
