package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the exponential schedule for a policy. MaxElapsedTime of zero means
// the schedule is bounded only by MaxAttempts.
func newBackOff(policy Policy) *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxElapsedTime = policy.MaxElapsedTime
	exp.Reset()
	return exp
}

// CalculateBackoffDuration is the un-jittered delay after the given attempt.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
