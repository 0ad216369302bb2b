package retry

import (
	"math"
	"time"
)

// Backoff computes the delay before the next retry attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows delays by Multiplier per attempt, capped at Max.
type ExponentialBackoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Next returns the delay after the given attempt (1-based):
// Base * Multiplier^(attempt-1), never above Max.
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// DefaultBackoff returns the default exponential retry schedule.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		Base:       100 * time.Millisecond,
		Multiplier: 2,
		Max:        5 * time.Second,
	}
}
