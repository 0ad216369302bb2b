package retry

import (
	"slices"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/config"
)

// Policy bounds the retry behaviour of a single logical request. It is a
// plain value and safe to share.
type Policy struct {
	MaxAttempts       int
	RetryableStatus   []int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
	AttemptTimeout    time.Duration
}

// DefaultPolicy mirrors config.Defaults().Retry.
func DefaultPolicy() Policy {
	return FromConfig(config.Defaults().Retry)
}

// FromConfig converts a retry config block into a Policy.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:       cfg.MaxAttempts,
		RetryableStatus:   slices.Clone(cfg.RetryableStatus),
		BackoffBase:       cfg.BackoffBase,
		BackoffMultiplier: cfg.BackoffMultiplier,
		BackoffMax:        cfg.BackoffMax,
		AttemptTimeout:    cfg.AttemptTimeout,
	}
}

// Retryable reports whether status is in the retryable set.
func (p Policy) Retryable(status int) bool {
	return slices.Contains(p.RetryableStatus, status)
}

// Backoff returns the delay schedule for the policy.
func (p Policy) Backoff() Backoff {
	return ExponentialBackoff{
		Base:       p.BackoffBase,
		Multiplier: p.BackoffMultiplier,
		Max:        p.BackoffMax,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.RetryableStatus == nil {
		p.RetryableStatus = DefaultPolicy().RetryableStatus
	}
	return p
}
