// Package testutil holds helpers shared by the bridge's tests: polling for
// state reached on another goroutine, and host/script fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds waits on the runtime thread in tests.
const DefaultTimeout = 5 * time.Second

// Poll checks condition every interval until it holds, the timeout expires,
// or ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	return err
}

// WaitForState reads getter every interval until predicate accepts its value.
// On timeout or cancellation the zero value is returned with an error.
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if state := getter(); predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-deadline.C:
			var zero T
			return zero, fmt.Errorf("timeout waiting for %T state after %v", zero, timeout)
		case <-ticker.C:
		}
	}
}

// WaitClosed blocks until ch is closed or timeout expires.
func WaitClosed(ch <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("channel not closed after %v", timeout)
		}
	}
}
