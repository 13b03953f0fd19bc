package cycle

import (
	"context"
	"fmt"
	"time"
)

// runStage runs a device-owning stage on its own goroutine. When ctx ends
// first, stop is called and the stage gets grace to return.
func runStage[T any](ctx context.Context, grace time.Duration, stop func(), run func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		value, err := run(ctx)
		resultCh <- outcome{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-ctx.Done():
	}

	if stop != nil {
		stop()
	}
	if grace <= 0 {
		res := <-resultCh
		return res.value, res.err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("%w (%s)", ErrGraceExceeded, grace)
	}
}

// runWithTimeout bounds one blocking collaborator call. call receives a
// context carrying the same bound.
func runWithTimeout(ctx context.Context, timeout time.Duration, call func(context.Context) error) error {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- call(callCtx)
	}()

	select {
	case err := <-resultCh:
		if err != nil && ctx.Err() == nil && callCtx.Err() != nil {
			return fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// sleepCtx waits d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
