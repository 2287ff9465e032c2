package resilience

import (
	"context"
	"time"
)

// Policy is the call discipline for one upstream: each attempt gets its own
// timeout and passes through the breaker, and transient failures are retried.
type Policy struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewPolicy builds a Policy with its own breaker.
func NewPolicy(name string, timeout time.Duration, retry RetryConfig, breaker CircuitBreakerConfig) *Policy {
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(name, "call")
	}
	return &Policy{
		Name:    name,
		Timeout: timeout,
		Retry:   retry,
		Breaker: NewCircuitBreaker(breaker),
	}
}

// Call runs fn under p. An open circuit is returned as ErrCircuitOpen without
// retrying.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoVal(ctx, p.Retry, func(ctx context.Context) (T, error) {
		return ExecuteVal(ctx, p.Breaker, func(ctx context.Context) (T, error) {
			if p.Timeout <= 0 {
				return fn(ctx)
			}
			ctx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()
			return fn(ctx)
		})
	})
}
