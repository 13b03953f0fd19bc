package cycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/fsm"
	"github.com/rbright/aeris/internal/ipc"
	"github.com/rbright/aeris/internal/reply"
	"github.com/rbright/aeris/internal/wake"
	"github.com/stretchr/testify/require"
)

func TestRunCycleSpeaksReply(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("ciao", "", "come stai")} },
	}
	gen := &fakeGenerator{reply: " Sto bene! "}
	speaker := &fakeSpeaker{}
	ind := &fakeIndicator{}

	o := New(nil, stages, gen, speaker, ind, testConfig())
	result := o.RunCycle(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, OutcomeSpoken, result.Outcome)
	require.Equal(t, fsm.StateIdle, result.State)
	require.Equal(t, fsm.StateIdle, o.State())
	require.NotEqual(t, uuid.Nil, result.ID)
	require.Equal(t, "ciao come stai", result.Prompt)
	require.Equal(t, "Sto bene!", result.Reply)
	require.Equal(t, 2, result.Fragments)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, []string{"ciao come stai"}, gen.prompts)
	require.Equal(t, []string{"Sto bene!"}, speaker.texts)
	require.Equal(t, int32(1), ind.wake.Load())
	require.Equal(t, int32(1), ind.thinking.Load())
	require.Equal(t, int32(1), ind.complete.Load())
	require.Zero(t, ind.errors.Load())
	require.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestListeningTimeoutSkipsCapture(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{event: wake.Event{Outcome: wake.OutcomeTimedOut}} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	gen := &fakeGenerator{reply: "unused"}

	o := New(nil, stages, gen, &fakeSpeaker{}, nil, testConfig())
	result := o.RunCycle(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, OutcomeTimedOut, result.Outcome)
	require.Equal(t, fsm.StateIdle, o.State())
	require.Zero(t, stages.captures.Load())
	require.Zero(t, gen.calls())
}

func TestSilentUtteranceNeverReachesGenerator(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("", "  ")} },
	}
	gen := &fakeGenerator{reply: "unused"}
	speaker := &fakeSpeaker{}

	o := New(nil, stages, gen, speaker, nil, testConfig())
	result := o.RunCycle(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, OutcomeNoInput, result.Outcome)
	require.Equal(t, fsm.StateIdle, o.State())
	require.Zero(t, gen.calls())
	require.Zero(t, speaker.calls())
}

func TestEmptyReplyIsNotAnEngineFailure(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"sentinel": {err: reply.ErrEmptyReply},
		"blank":    {reply: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			stages := &fakeStages{
				gate:    func(int) *fakeGate { return triggered() },
				capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
			}
			speaker := &fakeSpeaker{}
			ind := &fakeIndicator{}

			o := New(nil, stages, gen, speaker, ind, testConfig())
			result := o.RunCycle(context.Background())

			require.NoError(t, result.Err)
			require.Equal(t, OutcomeNoReply, result.Outcome)
			require.Equal(t, fsm.StateIdle, o.State())
			require.Zero(t, speaker.calls())
			require.Zero(t, ind.errors.Load())
		})
	}
}

func TestReplyFailureDegradesToIdle(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
	}
	ind := &fakeIndicator{}

	o := New(nil, stages, &fakeGenerator{err: errors.New("429")}, &fakeSpeaker{}, ind, testConfig())
	result := o.RunCycle(context.Background())

	require.Equal(t, OutcomeDegraded, result.Outcome)
	var engineErr *EngineError
	require.ErrorAs(t, result.Err, &engineErr)
	require.Equal(t, StageReply, engineErr.Stage)
	require.Equal(t, fsm.StateIdle, o.State())
	require.Equal(t, int32(1), ind.errors.Load())
}

func TestHungGeneratorIsBoundedByEngineTimeout(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
	}
	cfg := testConfig()
	cfg.EngineTimeout = 40 * time.Millisecond

	o := New(nil, stages, &fakeGenerator{block: true}, &fakeSpeaker{}, nil, cfg)
	start := time.Now()
	result := o.RunCycle(context.Background())

	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, OutcomeDegraded, result.Outcome)
	var engineErr *EngineError
	require.ErrorAs(t, result.Err, &engineErr)
	require.ErrorContains(t, result.Err, "timed out")
	require.Equal(t, fsm.StateIdle, o.State())
}

func TestSpeechFailureStillReturnsToIdle(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
	}

	o := New(nil, stages, &fakeGenerator{reply: "hi"}, &fakeSpeaker{err: errors.New("no sink")}, nil, testConfig())
	result := o.RunCycle(context.Background())

	require.Equal(t, OutcomeDegraded, result.Outcome)
	var engineErr *EngineError
	require.ErrorAs(t, result.Err, &engineErr)
	require.Equal(t, StageSpeech, engineErr.Stage)
	require.Equal(t, fsm.StateIdle, o.State())
}

func TestPlaybackOutlastsEngineTimeout(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("tell me a story")} },
	}
	cfg := testConfig()
	cfg.EngineTimeout = 40 * time.Millisecond
	speaker := &fakeSpeaker{playFor: 200 * time.Millisecond}

	o := New(nil, stages, &fakeGenerator{reply: "Once upon a time"}, speaker, nil, cfg)
	result := o.RunCycle(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, OutcomeSpoken, result.Outcome)
	require.Equal(t, int32(1), speaker.played.Load())
	require.Equal(t, fsm.StateIdle, o.State())
}

func TestCaptureEngineFailureIsWrapped(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{err: errors.New("no transcriber")} },
	}

	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())
	result := o.RunCycle(context.Background())

	var engineErr *EngineError
	require.ErrorAs(t, result.Err, &engineErr)
	require.Equal(t, StageTranscription, engineErr.Stage)
	require.Equal(t, fsm.StateIdle, o.State())
}

func TestDeviceOpenFailureIsRetried(t *testing.T) {
	openErr := &audio.DeviceError{Op: "open", Err: errors.New("resource busy")}
	stages := &fakeStages{
		gate: func(n int) *fakeGate {
			if n < 3 {
				return &fakeGate{err: openErr}
			}
			return triggered()
		},
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
	}

	o := New(nil, stages, &fakeGenerator{reply: "hi"}, &fakeSpeaker{}, nil, testConfig())
	result := o.RunCycle(context.Background())

	require.NoError(t, result.Err)
	require.Equal(t, OutcomeSpoken, result.Outcome)
	require.Equal(t, int32(3), stages.gates.Load())
	require.Equal(t, 4, result.Attempts)
}

func TestDeviceRetriesAreBounded(t *testing.T) {
	openErr := &audio.DeviceError{Op: "open", Err: errors.New("no such source")}
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{err: openErr} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	ind := &fakeIndicator{}

	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, ind, testConfig())
	result := o.RunCycle(context.Background())

	require.Equal(t, OutcomeDegraded, result.Outcome)
	require.True(t, audio.IsOpenFailure(result.Err))
	require.Equal(t, int32(3), stages.gates.Load())
	require.Equal(t, fsm.StateIdle, o.State())
	require.Equal(t, int32(1), ind.errors.Load())
}

func TestDeviceReadErrorIsNotRetried(t *testing.T) {
	readErr := &audio.DeviceError{Op: "read", Err: audio.ErrReadTimeout}
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{err: readErr} },
	}

	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())
	result := o.RunCycle(context.Background())

	require.ErrorIs(t, result.Err, audio.ErrReadTimeout)
	require.Equal(t, int32(1), stages.captures.Load())
	require.Equal(t, fsm.StateIdle, o.State())
}

func TestRetryBackoffIsInterruptible(t *testing.T) {
	openErr := &audio.DeviceError{Op: "open", Err: errors.New("busy")}
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{err: openErr} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour

	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	result := o.RunCycle(ctx)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, OutcomeCancelled, result.Outcome)
	require.Equal(t, fsm.StateShuttingDown, o.State())
}

func TestConcurrentCycleIsRejected(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{block: true} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- o.RunCycle(ctx) }()
	waitForState(t, o, fsm.StateListening)

	rejected := o.RunCycle(context.Background())
	require.ErrorIs(t, rejected.Err, ErrCycleInFlight)
	require.Equal(t, OutcomeRejected, rejected.Outcome)
	require.Equal(t, fsm.StateListening, rejected.State)

	cancel()
	first := <-done
	require.Equal(t, OutcomeCancelled, first.Outcome)
}

func TestCancelMidCaptureJoinsWithinGrace(t *testing.T) {
	capture := &fakeCapture{block: true}
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return capture },
	}
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- o.RunCycle(ctx) }()
	waitForState(t, o, fsm.StateCapturing)
	cancel()

	select {
	case result := <-done:
		require.Equal(t, OutcomeCancelled, result.Outcome)
		require.Equal(t, fsm.StateShuttingDown, result.State)
		require.NoError(t, result.Err)
	case <-time.After(time.Second):
		t.Fatal("cycle did not return within grace")
	}
	require.Equal(t, int32(1), capture.stops.Load())
}

func TestStubbornStageIsAbandonedAfterGrace(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{stubborn: release} },
	}
	cfg := testConfig()
	cfg.GraceTimeout = 50 * time.Millisecond
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- o.RunCycle(ctx) }()
	waitForState(t, o, fsm.StateCapturing)

	start := time.Now()
	cancel()
	result := <-done
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, OutcomeCancelled, result.Outcome)
}

func TestShutdownReleasesAbandonedDevice(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{stubborn: release} },
	}
	cfg := testConfig()
	cfg.GraceTimeout = 30 * time.Millisecond
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	waitForState(t, o, fsm.StateCapturing)
	require.Zero(t, stages.releases.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	require.Equal(t, int32(1), stages.releases.Load())
	require.Equal(t, fsm.StateTerminated, o.State())
}

func TestRefusedTransitionIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	o := New(logger, &fakeStages{}, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())

	o.advance(fsm.EventSpoken)

	require.Equal(t, fsm.StateIdle, o.State())
	require.Contains(t, logs.String(), `"msg":"cycle transition failed"`)
	require.Contains(t, logs.String(), `"event":"spoken"`)
}

func TestDeviceBusyIsFatalInvariant(t *testing.T) {
	busy := fmt.Errorf("%w (device %q)", audio.ErrDeviceBusy, "mic")
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{err: busy} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	ind := &fakeIndicator{}
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, ind, testConfig())

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrInvariant)
	require.ErrorIs(t, err, audio.ErrDeviceBusy)
	require.Equal(t, int32(1), stages.gates.Load())
	require.Equal(t, fsm.StateTerminated, o.State())
	require.Equal(t, int32(1), ind.shutdown.Load())
}

func TestRunStopsAfterMaxCycles(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return triggered() },
		capture: func(int) *fakeCapture { return &fakeCapture{buf: buffer("hello")} },
	}
	var (
		mu      sync.Mutex
		results []Result
	)
	cfg := testConfig()
	cfg.MaxCycles = 3
	cfg.OnResult = func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	ind := &fakeIndicator{}

	o := New(nil, stages, &fakeGenerator{reply: "hi"}, &fakeSpeaker{}, ind, cfg)
	require.NoError(t, o.Run(context.Background()))
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, OutcomeSpoken, r.Outcome)
		require.Equal(t, fsm.StateIdle, r.State)
	}
	require.Equal(t, fsm.StateTerminated, o.State())
	require.Equal(t, int32(1), ind.shutdown.Load())
	require.Equal(t, 3, o.Cycles())
}

func TestRunLoopsThroughTimeoutsUntilCancelled(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{event: wake.Event{Outcome: wake.OutcomeTimedOut}} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.OnResult = func(r Result) {
		if stages.gates.Load() >= 50 {
			cancel()
		}
	}

	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, cfg)
	require.NoError(t, o.Run(ctx))
	require.GreaterOrEqual(t, stages.gates.Load(), int32(50))
	require.Zero(t, stages.captures.Load())
	require.Equal(t, fsm.StateTerminated, o.State())
}

func TestHandleStopEndsRun(t *testing.T) {
	stages := &fakeStages{
		gate:    func(int) *fakeGate { return &fakeGate{block: true} },
		capture: func(int) *fakeCapture { return &fakeCapture{} },
	}
	o := New(nil, stages, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	waitForState(t, o, fsm.StateListening)

	status := o.Handle(context.Background(), ipc.Request{Command: "status"})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateListening), status.State)
	require.Zero(t, status.Cycles)

	stop := o.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.True(t, stop.OK)
	require.Equal(t, "stop requested", stop.Message)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	require.Equal(t, fsm.StateTerminated, o.State())

	again := o.Handle(context.Background(), ipc.Request{Command: "stop"})
	require.Equal(t, "stop already requested", again.Message)
}

func TestHandleUnknownCommand(t *testing.T) {
	o := New(nil, &fakeStages{}, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())
	resp := o.Handle(context.Background(), ipc.Request{Command: "toggle"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
	require.Equal(t, string(fsm.StateIdle), resp.State)
}

func TestRunCycleAfterShutdownIsRejected(t *testing.T) {
	o := New(nil, &fakeStages{}, &fakeGenerator{}, &fakeSpeaker{}, nil, testConfig())
	o.Stop()
	require.NoError(t, o.Run(context.Background()))

	result := o.RunCycle(context.Background())
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Error(t, result.Err)
	require.Equal(t, fsm.StateTerminated, o.State())
}
