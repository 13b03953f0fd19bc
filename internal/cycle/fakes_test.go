package cycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/fsm"
	"github.com/rbright/aeris/internal/transcript"
	"github.com/rbright/aeris/internal/wake"
)

type fakeGate struct {
	event wake.Event
	err   error
	// block waits for ctx or Stop before returning.
	block bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func (g *fakeGate) Start(ctx context.Context) (wake.Event, error) {
	if g.block {
		select {
		case <-ctx.Done():
			return wake.Event{Outcome: wake.OutcomeStopped}, ctx.Err()
		case <-g.stopCh:
			return wake.Event{Outcome: wake.OutcomeStopped}, nil
		}
	}
	return g.event, g.err
}

func (g *fakeGate) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
}

type fakeCapture struct {
	buf transcript.Buffer
	err error
	// block waits for ctx before returning; stubborn also ignores ctx and Stop.
	block    bool
	stubborn chan struct{}
	stops    atomic.Int32
}

func (c *fakeCapture) Run(ctx context.Context) (transcript.Buffer, error) {
	if c.stubborn != nil {
		<-c.stubborn
		return transcript.Buffer{}, ctx.Err()
	}
	if c.block {
		<-ctx.Done()
		return transcript.Buffer{}, ctx.Err()
	}
	return c.buf, c.err
}

func (c *fakeCapture) Stop() { c.stops.Add(1) }

type fakeStages struct {
	gate    func(n int) *fakeGate
	capture func(n int) *fakeCapture

	gates    atomic.Int32
	captures atomic.Int32
	releases atomic.Int32
}

func (s *fakeStages) ReleaseDevice() error {
	s.releases.Add(1)
	return nil
}

func (s *fakeStages) NewGate() Gate {
	n := int(s.gates.Add(1))
	g := s.gate(n)
	g.stopCh = make(chan struct{})
	return g
}

func (s *fakeStages) NewCapture() Capture {
	n := int(s.captures.Add(1))
	return s.capture(n)
}

func triggered() *fakeGate {
	return &fakeGate{event: wake.Event{Outcome: wake.OutcomeTriggered, Keyword: 0, Frames: 3}}
}

func buffer(texts ...string) transcript.Buffer {
	var buf transcript.Buffer
	for i, text := range texts {
		buf.Append(transcript.NewFragment(i, text))
	}
	return buf
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	block   bool
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return g.reply, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
	err   error
	// playFor is how long Play blocks unless ctx ends first.
	playFor time.Duration
	played  atomic.Int32
}

func (s *fakeSpeaker) Prepare(_ context.Context, text string) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.err != nil {
		return audio.Frame{}, s.err
	}
	rate := 16000
	n := rate
	if s.playFor > 0 {
		n = int(s.playFor.Seconds() * float64(rate))
	}
	return audio.Frame{Samples: make([]int16, n), Rate: rate, Channels: 1}, nil
}

func (s *fakeSpeaker) Play(ctx context.Context, _ audio.Frame) error {
	if s.playFor > 0 {
		timer := time.NewTimer(s.playFor)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.played.Add(1)
	return nil
}

func (s *fakeSpeaker) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type fakeIndicator struct {
	wake     atomic.Int32
	thinking atomic.Int32
	complete atomic.Int32
	errors   atomic.Int32
	shutdown atomic.Int32
}

func (f *fakeIndicator) CueWake(context.Context)          { f.wake.Add(1) }
func (f *fakeIndicator) ShowThinking(context.Context)     { f.thinking.Add(1) }
func (f *fakeIndicator) CueComplete(context.Context)      { f.complete.Add(1) }
func (f *fakeIndicator) CueError(context.Context, string) { f.errors.Add(1) }
func (f *fakeIndicator) CueShutdown(context.Context)      { f.shutdown.Add(1) }

func testConfig() Config {
	return Config{
		EngineTimeout: time.Second,
		GraceTimeout:  500 * time.Millisecond,
		DeviceRetries: 3,
		RetryBackoff:  5 * time.Millisecond,
	}
}

func waitForState(t *testing.T, o *Orchestrator, desired fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.State() == desired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", desired, o.State())
}
