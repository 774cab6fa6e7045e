// Package retry decides whether a failed publish attempt is tried again and
// after how long. It holds no state: every decision is derived from the
// attempt count and the failure kind.
package retry

import "time"

// Failure kinds reported by publish adapters.
const (
	KindTransientNetwork = "transient-network"
	KindUIMismatch       = "ui-mismatch"
	KindRateLimited      = "rate-limited"
	KindSessionExpired   = "session-expired"
	KindValidation       = "validation"
)

const (
	DefaultBase                   = time.Minute
	DefaultMaxDelay               = 30 * time.Minute
	DefaultMaxAttempts            = 3
	DefaultRateLimitedDelay       = 30 * time.Minute
	DefaultRateLimitedMaxAttempts = 6
)

// Policy holds the backoff constants. Zero fields fall back to the defaults.
type Policy struct {
	Base                   time.Duration
	MaxDelay               time.Duration
	MaxAttempts            int
	RateLimitedDelay       time.Duration
	RateLimitedMaxAttempts int
}

// Decision is the outcome of Decide. When Retry is false the post gives up.
type Decision struct {
	Retry bool
	After time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Default returns the policy with every field set to its default.
func Default() Policy { return Policy{}.normalize() }

func (p Policy) normalize() Policy {
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.RateLimitedDelay <= 0 {
		p.RateLimitedDelay = DefaultRateLimitedDelay
	}
	if p.RateLimitedMaxAttempts <= 0 {
		p.RateLimitedMaxAttempts = DefaultRateLimitedMaxAttempts
	}
	return p
}

// Decide maps the number of attempts already made in the current budget and
// the kind of the latest failure to a decision. Unknown kinds are treated as
// transient network failures.
func (p Policy) Decide(attempts int, kind string) Decision {
	p = p.normalize()
	if attempts < 1 {
		attempts = 1
	}
	switch kind {
	case KindSessionExpired, KindValidation:
		return GiveUp
	case KindRateLimited:
		if attempts >= p.RateLimitedMaxAttempts {
			return GiveUp
		}
		return Decision{Retry: true, After: p.RateLimitedDelay}
	default:
		if attempts >= p.MaxAttempts {
			return GiveUp
		}
		return Decision{Retry: true, After: p.backoff(attempts)}
	}
}

// backoff is base * 2^(attempts-1), capped at MaxDelay.
func (p Policy) backoff(attempts int) time.Duration {
	d := p.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether kind can ever be retried automatically.
func Retryable(kind string) bool {
	return kind != KindSessionExpired && kind != KindValidation
}
