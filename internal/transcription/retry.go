package transcription

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// RetryPolicy doubles the delay from BaseDelay up to MaxDelay between attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// OnAttempt is told the outcome of every attempt; err is nil on success.
	OnAttempt func(provider string, err error, took time.Duration)
}

// DefaultRetryPolicy waits 1s, 2s, 4s, 8s, 8s... between attempts.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Second, MaxDelay: 8 * time.Second}
}

// Delay returns the wait before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}

type retrying struct {
	Provider
	policy RetryPolicy
}

// WithRetry wraps p so network and API failures are retried; every other kind,
// authentication included, fails immediately.
func WithRetry(p Provider, policy RetryPolicy) Provider {
	return &retrying{Provider: p, policy: policy}
}

func (r *retrying) Transcribe(ctx context.Context, req Request) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.BaseDelay
	b.MaxInterval = r.policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (string, error) {
		attempt++
		start := time.Now()
		text, err := r.Provider.Transcribe(ctx, req)
		if r.policy.OnAttempt != nil {
			r.policy.OnAttempt(r.Name(), err, time.Since(start))
		}
		if err == nil {
			return text, nil
		}
		if te, ok := AsError(err); ok && te.Retryable() {
			log.Warn().Err(err).Str("provider", r.Name()).Int("attempt", attempt).Msg("transcription attempt failed")
			return "", err
		}
		return "", backoff.Permanent(err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
	)
}
