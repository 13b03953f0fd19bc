package audio_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/audio/audiotest"
	"github.com/stretchr/testify/require"
)

func TestSourceRejectsSecondOpenWhileHandleLive(t *testing.T) {
	driver := &audiotest.Driver{}
	source := audio.NewSource(driver, time.Second)
	params := audio.Params{Device: "mic", Rate: 16000, FrameSize: 160}

	first, err := source.Open(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, source.OpenHandles())

	_, err = source.Open(context.Background(), params)
	require.ErrorIs(t, err, audio.ErrDeviceBusy)
	require.Equal(t, 1, driver.Opens())

	require.NoError(t, first.Close())
	require.Equal(t, 0, source.OpenHandles())

	second, err := source.Open(context.Background(), params)
	require.NoError(t, err)
	require.NoError(t, second.Close())
	require.Equal(t, 1, source.PeakHandles())
	require.Equal(t, 1, driver.MaxLive())
}

func TestHandleCloseIsIdempotentAndNilSafe(t *testing.T) {
	driver := &audiotest.Driver{}
	source := audio.NewSource(driver, time.Second)

	handle, err := source.Open(context.Background(), audio.Params{Rate: 16000, FrameSize: 160})
	require.NoError(t, err)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
	require.Equal(t, 1, driver.Closes())

	var never *audio.Handle
	require.NoError(t, never.Close())
	_, err = never.Read(context.Background())
	require.ErrorIs(t, err, audio.ErrHandleClosed)

	_, err = handle.Read(context.Background())
	require.ErrorIs(t, err, audio.ErrHandleClosed)
}

func TestSourceCloseLiveReleasesOwner(t *testing.T) {
	driver := &audiotest.Driver{}
	source := audio.NewSource(driver, time.Second)
	require.NoError(t, source.CloseLive())

	held, err := source.Open(context.Background(), audio.Params{Device: "mic", Rate: 16000, FrameSize: 160})
	require.NoError(t, err)

	require.NoError(t, source.CloseLive())
	require.Equal(t, 0, source.OpenHandles())
	require.Equal(t, 1, driver.Closes())
	_, err = held.Read(context.Background())
	require.ErrorIs(t, err, audio.ErrHandleClosed)
	require.NoError(t, held.Close())
	require.Equal(t, 1, driver.Closes())

	next, err := source.Open(context.Background(), audio.Params{Device: "mic", Rate: 16000, FrameSize: 160})
	require.NoError(t, err)
	require.NoError(t, next.Close())
}

func TestHandleReadReturnsFrameShape(t *testing.T) {
	driver := &audiotest.Driver{Next: func(seq int) []int16 {
		return audiotest.Constant(4, int16(seq+1))
	}}
	source := audio.NewSource(driver, time.Second)

	handle, err := source.Open(context.Background(), audio.Params{Device: "mic", Rate: 44100, FrameSize: 4})
	require.NoError(t, err)
	defer handle.Close()

	frame, err := handle.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int16{1, 1, 1, 1}, frame.Samples)
	require.Equal(t, 44100, frame.Rate)
	require.Equal(t, 1, frame.Channels)
	require.False(t, frame.CapturedAt.IsZero())
}

func TestHandleReadTimeoutIsDeviceError(t *testing.T) {
	driver := &audiotest.Driver{Hang: true}
	source := audio.NewSource(driver, 20*time.Millisecond)

	handle, err := source.Open(context.Background(), audio.Params{Device: "mic", Rate: 16000, FrameSize: 160})
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.Read(context.Background())
	var deviceErr *audio.DeviceError
	require.ErrorAs(t, err, &deviceErr)
	require.Equal(t, "read", deviceErr.Op)
	require.ErrorIs(t, err, audio.ErrReadTimeout)
}

func TestHandleReadReturnsContextErrorOnCancel(t *testing.T) {
	driver := &audiotest.Driver{Hang: true}
	source := audio.NewSource(driver, time.Second)

	handle, err := source.Open(context.Background(), audio.Params{Rate: 16000, FrameSize: 160})
	require.NoError(t, err)
	defer handle.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = handle.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourceOpenFailureIsDeviceError(t *testing.T) {
	boom := errors.New("no such device")
	driver := &audiotest.Driver{OpenErrs: []error{boom}}
	source := audio.NewSource(driver, time.Second)

	_, err := source.Open(context.Background(), audio.Params{Device: "usb", Rate: 16000, FrameSize: 160})
	require.ErrorIs(t, err, boom)
	require.True(t, audio.IsOpenFailure(err))
	require.Contains(t, err.Error(), "audio open usb")
	require.Equal(t, 0, source.OpenHandles())

	_, err = source.Open(context.Background(), audio.Params{Rate: 0, FrameSize: 160})
	require.True(t, audio.IsOpenFailure(err))
}

func TestSourceExclusiveUnderConcurrentOpens(t *testing.T) {
	driver := &audiotest.Driver{}
	source := audio.NewSource(driver, time.Second)
	params := audio.Params{Rate: 16000, FrameSize: 160}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := source.Open(context.Background(), params)
			if err != nil {
				require.ErrorIs(t, err, audio.ErrDeviceBusy)
				return
			}
			time.Sleep(time.Millisecond)
			_ = handle.Close()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, source.PeakHandles())
	require.Equal(t, 1, driver.MaxLive())
	require.Equal(t, 0, driver.Live())
}
