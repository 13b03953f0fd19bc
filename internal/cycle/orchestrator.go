// Package cycle drives the assistant loop: listen for the trigger, record the
// utterance, answer it, speak the answer, and shut down cleanly on request.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/fsm"
	"github.com/rbright/aeris/internal/ipc"
	"github.com/rbright/aeris/internal/reply"
	"github.com/rbright/aeris/internal/transcript"
	"github.com/rbright/aeris/internal/wake"
)

// Gate is the listening stage. It owns the input device while Start runs.
type Gate interface {
	Start(ctx context.Context) (wake.Event, error)
	Stop()
}

// Capture is the recording stage. It owns the input device while Run runs.
type Capture interface {
	Run(ctx context.Context) (transcript.Buffer, error)
	Stop()
}

// Stages builds a fresh stage for every attempt. Both stages must share one
// audio.Source so device exclusivity holds across the hand-off.
type Stages interface {
	NewGate() Gate
	NewCapture() Capture
}

// Generator produces the reply text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Speaker turns text into audio and plays it. Prepare is bounded by the engine
// timeout; Play is bounded by the length of the clip it plays.
type Speaker interface {
	Prepare(ctx context.Context, text string) (audio.Frame, error)
	Play(ctx context.Context, clip audio.Frame) error
}

// deviceReleaser is implemented by Stages that can force the shared input
// device closed. Shutdown uses it for a stage abandoned after grace.
type deviceReleaser interface {
	ReleaseDevice() error
}

// playbackSlack is added to the clip duration to bound one Play call.
const playbackSlack = 5 * time.Second

// Indicator is the cycle-facing subset of indicator behavior.
type Indicator interface {
	CueWake(context.Context)
	ShowThinking(context.Context)
	CueComplete(context.Context)
	CueError(context.Context, string)
	CueShutdown(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) CueWake(context.Context)          {}
func (noopIndicator) ShowThinking(context.Context)     {}
func (noopIndicator) CueComplete(context.Context)      {}
func (noopIndicator) CueError(context.Context, string) {}
func (noopIndicator) CueShutdown(context.Context)      {}

// Config bounds the orchestrator's waits and retries.
type Config struct {
	EngineTimeout time.Duration
	GraceTimeout  time.Duration
	// DeviceRetries is the total number of device open attempts per stage.
	DeviceRetries int
	RetryBackoff  time.Duration
	// MaxCycles ends Run after that many cycles; 0 runs until stopped.
	MaxCycles int
	// OnResult, when set, receives every finished cycle from Run.
	OnResult func(Result)
}

// Orchestrator owns the single cycle state and runs at most one pipeline at
// a time.
type Orchestrator struct {
	logger    *slog.Logger
	stages    Stages
	generator Generator
	speaker   Speaker
	indicator Indicator
	cfg       Config

	inflight sync.Mutex
	cycles   atomic.Int64

	mu    sync.RWMutex
	state fsm.State

	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// New builds an Orchestrator in StateIdle.
func New(logger *slog.Logger, stages Stages, generator Generator, speaker Speaker, indicator Indicator, cfg Config) *Orchestrator {
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if cfg.DeviceRetries <= 0 {
		cfg.DeviceRetries = 1
	}
	stopCtx, stopCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:     logger,
		stages:     stages,
		generator:  generator,
		speaker:    speaker,
		indicator:  indicator,
		cfg:        cfg,
		state:      fsm.StateIdle,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
	}
}

// State returns the current state snapshot.
func (o *Orchestrator) State() fsm.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) transition(event fsm.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, err := fsm.Transition(o.state, event)
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// advance applies an event on a path that ends the cycle anyway; a refused
// transition is logged rather than returned.
func (o *Orchestrator) advance(event fsm.Event) {
	if err := o.transition(event); err != nil {
		o.logWarn("cycle transition failed", "event", event, "error", err.Error())
	}
}

// Stop requests shutdown. The active stage is cancelled and Run returns after
// teardown. Stop does not wait.
func (o *Orchestrator) Stop() {
	o.stopCancel()
}

func (o *Orchestrator) stopRequested() bool {
	return o.stopCtx.Err() != nil
}

// Cycles reports how many cycles have run to completion or cancellation.
func (o *Orchestrator) Cycles() int {
	return int(o.cycles.Load())
}

// Handle serves IPC commands for the running loop.
func (o *Orchestrator) Handle(_ context.Context, req ipc.Request) ipc.Response {
	state := string(o.State())
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: state, Cycles: o.Cycles(), Message: "status"}
	case ipc.CommandStop:
		if o.stopRequested() {
			return ipc.Response{OK: true, State: state, Message: "stop already requested"}
		}
		o.Stop()
		return ipc.Response{OK: true, State: state, Message: "stop requested"}
	default:
		return ipc.Response{OK: false, State: state, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// Run loops cycles until ctx is cancelled, Stop is called, MaxCycles is
// reached, or an invariant breaks. It always ends in StateTerminated and
// returns a non-nil error only for an invariant violation.
func (o *Orchestrator) Run(ctx context.Context) error {
	var fatal error
	for n := 0; o.cfg.MaxCycles <= 0 || n < o.cfg.MaxCycles; n++ {
		if ctx.Err() != nil || o.stopRequested() {
			break
		}

		result := o.RunCycle(ctx)
		logCycleResult(o.logger, result)
		if o.cfg.OnResult != nil {
			o.cfg.OnResult(result)
		}

		if errors.Is(result.Err, ErrInvariant) {
			fatal = result.Err
			break
		}
		if result.Outcome == OutcomeCancelled {
			break
		}
		if result.Outcome == OutcomeDegraded {
			stopCtx, cancel := o.cycleContext(ctx)
			_ = sleepCtx(stopCtx, o.cfg.RetryBackoff)
			cancel()
		}
	}

	o.shutdown()
	return fatal
}

func (o *Orchestrator) shutdown() {
	if o.State() != fsm.StateShuttingDown {
		if err := o.transition(fsm.EventCancel); err != nil {
			o.logWarn("shutdown transition failed", "error", err.Error())
		}
	}
	if releaser, ok := o.stages.(deviceReleaser); ok {
		if err := releaser.ReleaseDevice(); err != nil {
			o.logWarn("input device release failed", "error", err.Error())
		}
	}
	o.indicator.CueShutdown(context.Background())
	if err := o.transition(fsm.EventReleased); err != nil {
		o.logWarn("release transition failed", "error", err.Error())
	}
	if o.logger != nil {
		o.logger.Info("assistant loop terminated", "state", o.State())
	}
}

// cycleContext derives a context that also ends when Stop is called.
func (o *Orchestrator) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.stopCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// RunCycle runs one full cycle from IDLE back to IDLE, or to SHUTTING_DOWN
// when cancelled. A concurrent call is rejected with ErrCycleInFlight.
func (o *Orchestrator) RunCycle(parent context.Context) Result {
	if !o.inflight.TryLock() {
		now := time.Now()
		return Result{
			ID:         uuid.New(),
			Outcome:    OutcomeRejected,
			State:      o.State(),
			Keyword:    -1,
			Err:        ErrCycleInFlight,
			StartedAt:  now,
			FinishedAt: now,
		}
	}
	defer o.inflight.Unlock()

	ctx, cancel := o.cycleContext(parent)
	defer cancel()

	result := Result{ID: uuid.New(), Keyword: -1, StartedAt: time.Now()}
	o.runCycle(ctx, &result)
	if result.Outcome != OutcomeRejected {
		o.cycles.Add(1)
	}
	result.State = o.State()
	result.FinishedAt = time.Now()
	return result
}

func (o *Orchestrator) runCycle(ctx context.Context, result *Result) {
	if ctx.Err() != nil {
		result.Outcome = OutcomeRejected
		result.Err = ctx.Err()
		return
	}
	if err := o.transition(fsm.EventStart); err != nil {
		result.Outcome = OutcomeRejected
		result.Err = err
		return
	}

	// LISTENING
	event, err := withDeviceRetry(ctx, o, result, func() Gate { return o.stages.NewGate() },
		func(ctx context.Context, gate Gate) (wake.Event, error) {
			return runStage(ctx, o.cfg.GraceTimeout, gate.Stop, gate.Start)
		})
	switch {
	case o.cancelled(ctx, result):
		return
	case err != nil:
		o.degrade(result, classifyStageError(StageWake, err))
		return
	case event.Outcome == wake.OutcomeTimedOut:
		o.advance(fsm.EventTimeout)
		result.Outcome = OutcomeTimedOut
		return
	case event.Outcome != wake.OutcomeTriggered:
		o.degrade(result, fmt.Errorf("listening ended with outcome %q", event.Outcome))
		return
	}
	result.Keyword = event.Keyword
	if err := o.transition(fsm.EventWake); err != nil {
		o.degrade(result, err)
		return
	}
	o.indicator.CueWake(ctx)

	// CAPTURING
	buf, err := withDeviceRetry(ctx, o, result, func() Capture { return o.stages.NewCapture() },
		func(ctx context.Context, capture Capture) (transcript.Buffer, error) {
			return runStage(ctx, o.cfg.GraceTimeout, capture.Stop, capture.Run)
		})
	switch {
	case o.cancelled(ctx, result):
		return
	case err != nil:
		o.degrade(result, classifyStageError(StageTranscription, err))
		return
	}
	result.Fragments = buf.Len()
	result.Skipped = buf.Skipped()
	if err := o.transition(fsm.EventCaptured); err != nil {
		o.degrade(result, err)
		return
	}

	// TRANSCRIBING
	result.Prompt = transcript.Assemble(buf)
	if result.Prompt == "" {
		o.advance(fsm.EventEmptyPrompt)
		result.Outcome = OutcomeNoInput
		return
	}
	if err := o.transition(fsm.EventPrompt); err != nil {
		o.degrade(result, err)
		return
	}
	o.indicator.ShowThinking(ctx)

	// RESPONDING
	var text string
	err = runWithTimeout(ctx, o.cfg.EngineTimeout, func(ctx context.Context) error {
		var genErr error
		text, genErr = o.generator.Generate(ctx, result.Prompt)
		return genErr
	})
	switch {
	case o.cancelled(ctx, result):
		return
	case errors.Is(err, reply.ErrEmptyReply), err == nil && strings.TrimSpace(text) == "":
		o.advance(fsm.EventReplyFailed)
		result.Outcome = OutcomeNoReply
		return
	case err != nil:
		result.Err = &EngineError{Stage: StageReply, Err: err}
		o.advance(fsm.EventReplyFailed)
		result.Outcome = OutcomeDegraded
		o.indicator.CueError(ctx, "")
		return
	}
	result.Reply = strings.TrimSpace(text)
	if err := o.transition(fsm.EventReply); err != nil {
		o.degrade(result, err)
		return
	}

	// SPEAKING
	var clip audio.Frame
	err = runWithTimeout(ctx, o.cfg.EngineTimeout, func(ctx context.Context) error {
		var synthErr error
		clip, synthErr = o.speaker.Prepare(ctx, result.Reply)
		return synthErr
	})
	if err == nil {
		err = runWithTimeout(ctx, clip.Duration()+playbackSlack, func(ctx context.Context) error {
			return o.speaker.Play(ctx, clip)
		})
	}
	if o.cancelled(ctx, result) {
		return
	}
	o.advance(fsm.EventSpoken)
	if err != nil {
		result.Err = &EngineError{Stage: StageSpeech, Err: err}
		result.Outcome = OutcomeDegraded
		o.indicator.CueError(ctx, "")
		return
	}
	result.Outcome = OutcomeSpoken
	o.indicator.CueComplete(ctx)
}

// withDeviceRetry builds and runs a fresh stage until it succeeds, fails with
// something other than a device open failure, or runs out of attempts.
func withDeviceRetry[S any, T any](ctx context.Context, o *Orchestrator, result *Result, build func() S, run func(context.Context, S) (T, error)) (T, error) {
	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= o.cfg.DeviceRetries; attempt++ {
		result.Attempts++
		value, err = run(ctx, build())
		if err == nil || !audio.IsOpenFailure(err) || ctx.Err() != nil {
			return value, invariantError(err)
		}
		if attempt == o.cfg.DeviceRetries {
			break
		}

		backoff := o.cfg.RetryBackoff << (attempt - 1)
		o.logWarn("audio device open failed; retrying",
			"attempt", attempt,
			"max_attempts", o.cfg.DeviceRetries,
			"backoff_ms", backoff.Milliseconds(),
			"error", err.Error(),
		)
		if waitErr := sleepCtx(ctx, backoff); waitErr != nil {
			return value, waitErr
		}
	}
	return value, err
}

// cancelled moves to SHUTTING_DOWN when ctx has ended.
func (o *Orchestrator) cancelled(ctx context.Context, result *Result) bool {
	if ctx.Err() == nil {
		return false
	}
	if err := o.transition(fsm.EventCancel); err != nil {
		result.Err = err
	}
	result.Outcome = OutcomeCancelled
	return true
}

// degrade records err and returns the cycle to IDLE. Invariant violations are
// marked fatal for Run.
func (o *Orchestrator) degrade(result *Result, err error) {
	result.Err = err
	result.Outcome = OutcomeDegraded
	if errors.Is(err, ErrInvariant) {
		result.Outcome = OutcomeFatal
	}

	event := fsm.EventFail
	var deviceErr *audio.DeviceError
	if errors.As(err, &deviceErr) {
		event = fsm.EventDeviceError
	}
	if transErr := o.transition(event); transErr != nil {
		o.logWarn("degrade transition failed", "error", transErr.Error())
	}
	if result.Outcome != OutcomeFatal {
		o.indicator.CueError(context.Background(), "")
	}
}

// classifyStageError wraps collaborator failures as EngineError; device,
// grace and invariant errors keep their own identity.
func classifyStageError(stage string, err error) error {
	var deviceErr *audio.DeviceError
	switch {
	case errors.As(err, &deviceErr), errors.Is(err, ErrInvariant), errors.Is(err, ErrGraceExceeded):
		return err
	default:
		return &EngineError{Stage: stage, Err: err}
	}
}

func (o *Orchestrator) logWarn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
