// Package fallback orchestrates element identification: accessibility
// first under a hard timeout, then the vision-model fallback, with
// per-app backoff and caching throughout.
package fallback

import (
	"context"
	"time"

	"github.com/docugen/platform/internal/errors"
)

// DefaultPoolSize bounds concurrent accessibility workers. Native
// accessibility calls cannot be interrupted mid-flight, so a timed-out
// worker keeps running until its call returns; the cap keeps sustained
// timeouts from accumulating goroutines stuck in native code.
const DefaultPoolSize = 4

// Runner races functions against a deadline on a capped worker pool.
type Runner struct {
	sem chan struct{}
}

// NewRunner returns a pool with the given number of workers.
func NewRunner(size int) *Runner {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Runner{sem: make(chan struct{}, size)}
}

type outcome[T any] struct {
	value T
	err   error
}

// RunWithDeadline executes fn on a pool worker and waits at most
// timeout for it. On expiry the worker is abandoned, not cancelled: it
// releases its pool slot whenever the native call finally returns, and
// its result is discarded. A saturated pool fails immediately with
// CodePoolExhausted, which callers treat like a timeout.
func RunWithDeadline[T any](r *Runner, ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	select {
	case r.sem <- struct{}{}:
	default:
		return zero, errors.New(errors.CodePoolExhausted, "all accessibility workers busy")
	}

	resultCh := make(chan outcome[T], 1)
	go func() {
		defer func() { <-r.sem }()
		v, err := fn()
		resultCh <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-timer.C:
		return zero, errors.Newf(errors.CodeTimeout, "accessibility query exceeded %s", timeout)
	case <-ctx.Done():
		return zero, errors.Wrap(ctx.Err(), errors.CodeTimeout, "accessibility query cancelled")
	}
}
