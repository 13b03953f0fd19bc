package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunWithTimeoutReturnsCallError(t *testing.T) {
	err := runWithTimeout(context.Background(), time.Second, func(context.Context) error {
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
}

func TestRunWithTimeoutBoundsIgnoredContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := runWithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	require.ErrorContains(t, err, "timed out after 20ms")
	require.Less(t, time.Since(start), time.Second)
}

func TestRunWithTimeoutPrefersParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runWithTimeout(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunStageCallsStopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	time.AfterFunc(10*time.Millisecond, cancel)

	value, err := runStage(ctx, time.Second, func() { close(stopped) }, func(ctx context.Context) (int, error) {
		<-stopped
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, value)
}

func TestRunStageGraceExceeded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runStage(ctx, 20*time.Millisecond, nil, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.ErrorIs(t, err, ErrGraceExceeded)
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestEngineErrorUnwraps(t *testing.T) {
	base := errors.New("quota")
	err := error(&EngineError{Stage: StageReply, Err: base})
	require.ErrorIs(t, err, base)
	require.EqualError(t, err, "reply engine: quota")
}
