package resolver

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/snapbooks-app/geticon/internal/icon"
)

// RetryPolicy decides whether a failed candidate fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy allowing maxAttempts tries per candidate.
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

// ShouldRetry retries timeouts, network failures, 5xx and 429 until attempts run out.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return icon.IsRetryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
