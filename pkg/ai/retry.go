package ai

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = 300 * time.Millisecond
	defaultMaxDelay     = 4 * time.Second
)

// RetryPolicy bounds retries of transient provider failures with jittered
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is the embedding-side policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget is
// spent. The final error after exhaustion is a *RetriesExhaustedError.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return &RetriesExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// delay computes min(maxDelay, initial*2^(attempt-1)) plus up to 50% jitter.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
