package service

import (
	"math/rand"
	"strings"
	"time"
)

const (
	DefaultRetryBase        = 5 * time.Second
	DefaultRetryCap         = 60 * time.Second
	DefaultRetryMaxAttempts = 10
)

// RetryBackoff computes the delay before the nth retry of a cloud API
// job: exponential growth from Base capped at Cap, multiplied by a
// jitter factor in [0.8, 1.2]. Jitter is injectable for tests.
type RetryBackoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      func() float64
}

func NewRetryBackoff() RetryBackoff {
	return RetryBackoff{
		Base:        DefaultRetryBase,
		Cap:         DefaultRetryCap,
		MaxAttempts: DefaultRetryMaxAttempts,
		Jitter: func() float64 {
			return 0.8 + 0.4*rand.Float64()
		},
	}
}

// Delay returns the wait before retry attempt n (1-based).
func (b RetryBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Cap; i++ {
		d *= 2
	}
	if d > b.Cap {
		d = b.Cap
	}
	if b.Jitter != nil {
		d = time.Duration(float64(d) * b.Jitter())
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Exhausted reports whether a job has used up its retry budget.
func (b RetryBackoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}

// IsRateLimited classifies an error as a cloud-side rate limit. The
// vendor API does not return typed errors, so this matches on the
// message text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate") ||
		strings.Contains(msg, "limit")
}
