package faults

import "context"

// Once runs fn and, when it fails with a retryable fault, runs it exactly
// once more with identical inputs. A second failure of any kind is
// escalated to a non-retryable abort. TTL expirations are never retried.
//
// This is the kernel's entire retry policy: no backoff, no jitter, no
// attempt counts beyond two.
func Once(ctx context.Context, component string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if !IsRetryable(err) {
		return err
	}
	if retryErr := fn(ctx); retryErr != nil {
		return Escalate(component, retryErr)
	}
	return nil
}

// OnceValue is [Once] for functions that return a value alongside the error.
func OnceValue[T any](ctx context.Context, component string, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if !IsRetryable(err) {
		return v, err
	}
	v, retryErr := fn(ctx)
	if retryErr != nil {
		return v, Escalate(component, retryErr)
	}
	return v, nil
}
