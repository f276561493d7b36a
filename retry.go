package flowline

import (
	"context"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// RetryPolicy controls delivery retries for RetryingSender.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the
	// first. <= 0 is treated as 1 (no retries).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt (default 2.0 if
	// <= 0 when InitialBackoff is set).
	BackoffMultiplier float64

	// MaxBackoff caps the delay; <= 0 means no cap.
	MaxBackoff time.Duration
}

// Retry creates a RetryPolicy with the given maxAttempts and no
// backoff. Chain With* methods to configure delays:
//
//	flowline.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func Retry(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts}
}

// WithExponentialBackoff configures exponential backoff.
func (p RetryPolicy) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryPolicy {
	p.InitialBackoff = initial
	p.MaxBackoff = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.BackoffMultiplier = multiplier
	return p
}

// WithConstantBackoff configures a constant delay between retries.
func (p RetryPolicy) WithConstantBackoff(delay time.Duration) RetryPolicy {
	p.InitialBackoff = delay
	p.MaxBackoff = 0
	p.BackoffMultiplier = 1.0
	return p
}

// RetryingSender wraps a MessageSender with a RetryPolicy. A delivery
// is retried until it succeeds, attempts run out, or ctx expires; the
// engine sees only the final result, so a mid-retry failure never
// shows up in the message log.
type RetryingSender struct {
	inner  MessageSender
	policy RetryPolicy
}

var _ api.MessageSender = (*RetryingSender)(nil)

// NewRetryingSender wraps inner with the given policy.
func NewRetryingSender(inner MessageSender, policy RetryPolicy) *RetryingSender {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &RetryingSender{inner: inner, policy: policy}
}

func (s *RetryingSender) Send(ctx context.Context, creds SenderCredentials, contactAddress, text string) SendResult {
	backoff := s.policy.InitialBackoff

	var res SendResult
	for attempt := 1; ; attempt++ {
		res = s.inner.Send(ctx, creds, contactAddress, text)
		if res.Success || attempt >= s.policy.MaxAttempts {
			return res
		}

		if backoff > 0 {
			select {
			case <-ctx.Done():
				return res
			case <-time.After(backoff):
			}
			next := time.Duration(float64(backoff) * s.policy.BackoffMultiplier)
			if s.policy.MaxBackoff > 0 && next > s.policy.MaxBackoff {
				next = s.policy.MaxBackoff
			}
			backoff = next
		} else if ctx.Err() != nil {
			return res
		}
	}
}
