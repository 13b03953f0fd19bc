// Package wake implements the always-on listening stage that waits for a
// trigger phrase on the shared input device.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/resample"
)

// State is the lifecycle of one Gate.
type State string

const (
	StateNotStarted State = "not_started"
	StateActive     State = "active"
	StateTriggered  State = "triggered"
	StateTimedOut   State = "timed_out"
	StateStopped    State = "stopped"
)

// Outcome is how a listening run ended without error.
type Outcome string

const (
	OutcomeTriggered Outcome = "triggered"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeStopped   Outcome = "stopped"
)

// ErrAlreadyStarted reports a second Start on the same Gate.
var ErrAlreadyStarted = errors.New("wake gate already started")

// Event is the result of one listening run.
type Event struct {
	Outcome Outcome
	Keyword int
	Frames  int
	Elapsed time.Duration
}

// Config controls one Gate.
type Config struct {
	Device     string
	DeviceRate int
	// Timeout ends listening without a trigger. Zero listens until stopped.
	Timeout time.Duration
}

// Gate owns the input device while listening for the trigger phrase. A Gate
// runs at most once.
type Gate struct {
	source *audio.Source
	engine Engine
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State

	stopOnce sync.Once
	stopCh   chan struct{}
}

type loopResult struct {
	event Event
	err   error
}

// NewGate builds a Gate reading from source and scoring with engine.
func NewGate(source *audio.Source, engine Engine, cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		source: source,
		engine: engine,
		cfg:    cfg,
		logger: logger,
		state:  StateNotStarted,
		stopCh: make(chan struct{}),
	}
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Stop asks a running Start to return. It does not wait; Start returns within
// one frame read and closes the device before doing so.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
}

// Start listens until the trigger fires, the timeout elapses, Stop is called,
// ctx is cancelled, or the device or detector fails. The device handle is
// always closed before Start returns.
func (g *Gate) Start(ctx context.Context) (Event, error) {
	g.mu.Lock()
	if g.state != StateNotStarted {
		g.mu.Unlock()
		return Event{}, ErrAlreadyStarted
	}
	g.state = StateActive
	g.mu.Unlock()

	if g.stopRequested() {
		g.setState(StateStopped)
		return Event{Outcome: OutcomeStopped}, nil
	}

	frameLength := g.engine.FrameLength()
	engineRate := g.engine.SampleRate()
	deviceRate := g.cfg.DeviceRate
	if deviceRate <= 0 {
		deviceRate = engineRate
	}
	if frameLength <= 0 || engineRate <= 0 {
		g.setState(StateStopped)
		return Event{}, fmt.Errorf("invalid wake engine shape frame_length=%d sample_rate=%d", frameLength, engineRate)
	}

	detector, err := g.engine.Open(ctx)
	if err != nil {
		g.setState(StateStopped)
		return Event{}, fmt.Errorf("open wake detector: %w", err)
	}
	defer func() {
		if err := detector.Close(); err != nil {
			g.logDebug("wake detector close failed", "error", err.Error())
		}
	}()

	handle, err := g.source.Open(ctx, audio.Params{
		Device:    g.cfg.Device,
		Rate:      deviceRate,
		FrameSize: resample.InputLength(frameLength, deviceRate, engineRate),
		Channels:  1,
	})
	if err != nil {
		g.setState(StateStopped)
		return Event{}, err
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	deadlineCtx := loopCtx
	if g.cfg.Timeout > 0 {
		var cancelDeadline context.CancelFunc
		deadlineCtx, cancelDeadline = context.WithTimeout(loopCtx, g.cfg.Timeout)
		defer cancelDeadline()
	}

	go func() {
		select {
		case <-g.stopCh:
			cancelLoop()
		case <-loopCtx.Done():
		}
	}()

	started := time.Now()
	results := make(chan loopResult, 1)
	go func() {
		event, err := g.listen(deadlineCtx, handle, detector, frameLength, engineRate)
		if closeErr := handle.Close(); closeErr != nil {
			g.logDebug("wake device close failed", "error", closeErr.Error())
		}
		results <- loopResult{event: event, err: err}
	}()

	res := <-results
	res.event.Elapsed = time.Since(started)

	switch {
	case res.err == nil:
		g.setState(StateTriggered)
		res.event.Outcome = OutcomeTriggered
		return res.event, nil
	case g.stopRequested():
		g.setState(StateStopped)
		res.event.Outcome = OutcomeStopped
		return res.event, nil
	case ctx.Err() != nil:
		g.setState(StateStopped)
		res.event.Outcome = OutcomeStopped
		return res.event, ctx.Err()
	case errors.Is(deadlineCtx.Err(), context.DeadlineExceeded):
		g.setState(StateTimedOut)
		res.event.Outcome = OutcomeTimedOut
		return res.event, nil
	default:
		g.setState(StateStopped)
		return res.event, res.err
	}
}

// listen runs on its own goroutine and returns on trigger or error only.
func (g *Gate) listen(ctx context.Context, handle *audio.Handle, detector Detector, frameLength, engineRate int) (Event, error) {
	event := Event{Keyword: -1}
	for {
		frame, err := handle.Read(ctx)
		if err != nil {
			return event, err
		}

		converted, err := resample.Resample(frame.Samples, frame.Rate, engineRate)
		if err != nil {
			return event, err
		}
		index, err := detector.Process(ctx, fit(converted, frameLength))
		if err != nil {
			return event, fmt.Errorf("wake detector: %w", err)
		}
		event.Frames++
		if index >= 0 {
			event.Keyword = index
			return event, nil
		}
	}
}

func (g *Gate) stopRequested() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

func (g *Gate) setState(state State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

func (g *Gate) logDebug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func fit(samples []int16, n int) []int16 {
	if len(samples) == n {
		return samples
	}
	out := make([]int16, n)
	copy(out, samples)
	return out
}
