package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const defaultReadTimeout = 2 * time.Second

var (
	// ErrDeviceBusy reports an Open while another handle from the same Source is live.
	ErrDeviceBusy = errors.New("audio device already owned by another handle")
	// ErrHandleClosed reports a Read on a closed or nil handle.
	ErrHandleClosed = errors.New("audio handle is closed")
	// ErrReadTimeout reports a driver read that exceeded the configured bound.
	ErrReadTimeout = errors.New("audio read timed out")
)

// DeviceError wraps a driver failure with the operation and device involved.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	device := e.Device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("audio %s %s: %v", e.Op, device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsOpenFailure reports whether err is a DeviceError raised while opening a device.
func IsOpenFailure(err error) bool {
	var deviceErr *DeviceError
	return errors.As(err, &deviceErr) && deviceErr.Op == "open"
}

// Stream is one open driver-level input stream.
//
// Read returns exactly one block of Params.FrameSize samples per channel and
// must return promptly once ctx is done.
type Stream interface {
	Read(ctx context.Context) ([]int16, error)
	Close() error
}

// Driver opens input streams on a concrete backend.
type Driver interface {
	Open(ctx context.Context, params Params) (Stream, error)
}

// Source hands out at most one live Handle at a time over a Driver.
type Source struct {
	driver      Driver
	readTimeout time.Duration

	mu   sync.Mutex
	live *Handle

	open atomic.Int32
	peak atomic.Int32
}

// NewSource builds a Source; readTimeout <= 0 uses a 2s bound.
func NewSource(driver Driver, readTimeout time.Duration) *Source {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Source{driver: driver, readTimeout: readTimeout}
}

// Open acquires exclusive ownership of the input device.
func (s *Source) Open(ctx context.Context, params Params) (*Handle, error) {
	if params.Channels <= 0 {
		params.Channels = 1
	}
	if params.Rate <= 0 || params.FrameSize <= 0 {
		return nil, &DeviceError{Op: "open", Device: params.Device, Err: fmt.Errorf("invalid stream shape rate=%d frame_size=%d", params.Rate, params.FrameSize)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil {
		return nil, fmt.Errorf("%w (device %q)", ErrDeviceBusy, s.live.params.Device)
	}

	stream, err := s.driver.Open(ctx, params)
	if err != nil {
		return nil, &DeviceError{Op: "open", Device: params.Device, Err: err}
	}

	h := &Handle{source: s, stream: stream, params: params}
	s.live = h
	n := s.open.Add(1)
	for {
		prev := s.peak.Load()
		if n <= prev || s.peak.CompareAndSwap(prev, n) {
			break
		}
	}
	return h, nil
}

// OpenHandles reports the number of currently open handles (0 or 1).
func (s *Source) OpenHandles() int {
	return int(s.open.Load())
}

// PeakHandles reports the highest number of simultaneously open handles observed.
func (s *Source) PeakHandles() int {
	return int(s.peak.Load())
}

// CloseLive closes the handle that currently owns the device, if any. A stage
// still holding that handle gets ErrHandleClosed on its next Read.
func (s *Source) CloseLive() error {
	s.mu.Lock()
	h := s.live
	s.mu.Unlock()
	return h.Close()
}

func (s *Source) release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == h {
		s.live = nil
		s.open.Add(-1)
	}
}

// Handle is the exclusive ownership token for one open input stream.
type Handle struct {
	source *Source
	stream Stream
	params Params

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// Params returns the stream shape this handle was opened with.
func (h *Handle) Params() Params {
	if h == nil {
		return Params{}
	}
	return h.params
}

// Read blocks for the next frame, bounded by the source read timeout.
func (h *Handle) Read(ctx context.Context) (Frame, error) {
	if h == nil || h.closed.Load() {
		return Frame{}, ErrHandleClosed
	}

	readCtx, cancel := context.WithTimeout(ctx, h.source.readTimeout)
	defer cancel()

	samples, err := h.stream.Read(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		if h.closed.Load() {
			return Frame{}, ErrHandleClosed
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrReadTimeout
		}
		return Frame{}, &DeviceError{Op: "read", Device: h.params.Device, Err: err}
	}

	return Frame{
		Samples:    samples,
		Rate:       h.params.Rate,
		Channels:   h.params.Channels,
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the device. It is safe on nil handles and idempotent.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.stream != nil {
			if err := h.stream.Close(); err != nil {
				h.closeErr = &DeviceError{Op: "close", Device: h.params.Device, Err: err}
			}
		}
		h.source.release(h)
	})
	return h.closeErr
}
