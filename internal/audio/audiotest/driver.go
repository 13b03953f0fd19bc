// Package audiotest provides a scripted audio.Driver for exercising device
// ownership, frame loops, and shutdown without hardware.
package audiotest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/aeris/internal/audio"
)

// ErrInjected is the default read failure returned once FailAfter reads elapse.
var ErrInjected = errors.New("injected read failure")

// Driver produces synthetic frames. The zero value yields silence forever.
type Driver struct {
	// Next returns the samples for read number seq (0-based, per stream).
	// Returned slices shorter or longer than the frame size are fitted.
	Next func(seq int) []int16
	// ReadDelay is how long each Read takes.
	ReadDelay time.Duration
	// OpenErrs are returned by successive Open calls before any succeed.
	OpenErrs []error
	// FailAfter > 0 makes read number FailAfter return ReadErr.
	FailAfter int
	ReadErr   error
	// Hang makes every Read ignore ReadDelay and block until ctx is done.
	Hang bool

	mu        sync.Mutex
	openCalls int

	opens   atomic.Int32
	closes  atomic.Int32
	live    atomic.Int32
	maxLive atomic.Int32
	reads   atomic.Int64
}

func (d *Driver) Open(ctx context.Context, params audio.Params) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	call := d.openCalls
	d.openCalls++
	d.mu.Unlock()
	if call < len(d.OpenErrs) && d.OpenErrs[call] != nil {
		return nil, d.OpenErrs[call]
	}

	d.opens.Add(1)
	n := d.live.Add(1)
	for {
		prev := d.maxLive.Load()
		if n <= prev || d.maxLive.CompareAndSwap(prev, n) {
			break
		}
	}

	return &stream{driver: d, size: params.FrameSize * max(params.Channels, 1), done: make(chan struct{})}, nil
}

// Opens counts successful Open calls.
func (d *Driver) Opens() int { return int(d.opens.Load()) }

// Closes counts stream Close calls.
func (d *Driver) Closes() int { return int(d.closes.Load()) }

// Live counts streams that are open right now.
func (d *Driver) Live() int { return int(d.live.Load()) }

// MaxLive reports the most streams ever open at once.
func (d *Driver) MaxLive() int { return int(d.maxLive.Load()) }

// Reads counts frames delivered across all streams.
func (d *Driver) Reads() int { return int(d.reads.Load()) }

type stream struct {
	driver *Driver
	size   int
	seq    int

	closeOnce sync.Once
	done      chan struct{}
}

func (s *stream) Read(ctx context.Context) ([]int16, error) {
	d := s.driver
	if d.Hang {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, errors.New("stream closed")
		}
	}
	if d.ReadDelay > 0 {
		timer := time.NewTimer(d.ReadDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, errors.New("stream closed")
		case <-timer.C:
		}
	}

	seq := s.seq
	s.seq++
	if d.FailAfter > 0 && seq+1 >= d.FailAfter {
		if d.ReadErr != nil {
			return nil, d.ReadErr
		}
		return nil, ErrInjected
	}

	var samples []int16
	if d.Next != nil {
		samples = d.Next(seq)
	}
	d.reads.Add(1)
	return Fit(samples, s.size), nil
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.driver.closes.Add(1)
		s.driver.live.Add(-1)
	})
	return nil
}

// Fit copies samples into a slice of exactly n samples, zero padding or truncating.
func Fit(samples []int16, n int) []int16 {
	out := make([]int16, n)
	copy(out, samples)
	return out
}

// Constant returns n samples all equal to v.
func Constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}
