// Package capture records one utterance after the trigger: a producer reads
// fixed-duration rounds from the device into a bounded queue while a single
// consumer transcribes them in order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/resample"
	"github.com/rbright/aeris/internal/transcript"
)

// Transcriber converts one mono waveform at rate into text.
type Transcriber interface {
	Transcribe(ctx context.Context, waveform []float32, rate int) (string, error)
}

// ErrAlreadyStarted reports a second Run on the same Session.
var ErrAlreadyStarted = errors.New("capture session already started")

// Config controls one Session.
type Config struct {
	Device        string
	DeviceRate    int
	FramesPerRead int
	ChunkDuration time.Duration
	QueueCapacity int
	// TranscribeRate is the native rate of the transcription engine.
	TranscribeRate int
	// Chunks whose peak stays under SilenceThreshold produce no fragment.
	SilenceThreshold int
	// EndSilenceChunks consecutive silent rounds end the recording; 0 disables.
	EndSilenceChunks int
	// MaxChunks bounds the recording length; 0 disables.
	MaxChunks int
	// EngineTimeout bounds each Transcribe call; 0 disables.
	EngineTimeout time.Duration
	// RetainAudio keeps the raw device samples for RawPCM.
	RetainAudio bool
}

// Stats summarizes one finished run.
type Stats struct {
	Chunks    int
	Silent    int
	Failed    int
	Discarded int
	HighWater int
}

// Session is one recording. A Session runs at most once.
type Session struct {
	source      *audio.Source
	transcriber Transcriber
	cfg         Config
	logger      *slog.Logger
	queue       *Queue

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	chunks    atomic.Int32
	silent    atomic.Int32
	failed    atomic.Int32
	discarded atomic.Int32

	rawMu sync.Mutex
	raw   []int16
}

// NewSession builds a Session that opens source when Run starts.
func NewSession(source *audio.Source, transcriber Transcriber, cfg Config, logger *slog.Logger) *Session {
	if cfg.FramesPerRead <= 0 {
		cfg.FramesPerRead = 1024
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 3 * time.Second
	}
	if cfg.TranscribeRate <= 0 {
		cfg.TranscribeRate = cfg.DeviceRate
	}
	return &Session{
		source:      source,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
		queue:       NewQueue(cfg.QueueCapacity),
		stopCh:      make(chan struct{}),
	}
}

// Stop ends recording at the next read. Buffered chunks are still transcribed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Queue exposes the session queue for instrumentation.
func (s *Session) Queue() *Queue { return s.queue }

// RawPCM returns a copy of every device sample pushed so far. It is empty
// unless RetainAudio is set.
func (s *Session) RawPCM() []int16 {
	s.rawMu.Lock()
	defer s.rawMu.Unlock()
	out := make([]int16, len(s.raw))
	copy(out, s.raw)
	return out
}

// Stats reports the counters of the run.
func (s *Session) Stats() Stats {
	return Stats{
		Chunks:    int(s.chunks.Load()),
		Silent:    int(s.silent.Load()),
		Failed:    int(s.failed.Load()),
		Discarded: int(s.discarded.Load()),
		HighWater: s.queue.HighWater(),
	}
}

// ReadsPerChunk is how many device reads make up one round.
func (s *Session) ReadsPerChunk() int {
	n := int64(s.cfg.DeviceRate) * int64(s.cfg.ChunkDuration) / (int64(time.Second) * int64(s.cfg.FramesPerRead))
	return max(int(n), 1)
}

// Run records until Stop, the end-of-utterance policy, or ctx cancellation,
// and returns the ordered non-empty fragments. Both goroutines are joined and
// the device is closed before Run returns.
func (s *Session) Run(ctx context.Context) (transcript.Buffer, error) {
	if !s.started.CompareAndSwap(false, true) {
		return transcript.Buffer{}, ErrAlreadyStarted
	}
	if s.transcriber == nil {
		return transcript.Buffer{}, errors.New("capture session has no transcriber")
	}

	handle, err := s.source.Open(ctx, audio.Params{
		Device:    s.cfg.Device,
		Rate:      s.cfg.DeviceRate,
		FrameSize: s.cfg.FramesPerRead,
		Channels:  1,
	})
	if err != nil {
		return transcript.Buffer{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg          sync.WaitGroup
		producerErr error
		consumerErr error
		buf         transcript.Buffer
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer s.queue.Close()
		defer func() {
			if err := handle.Close(); err != nil {
				s.logWarn("capture device close failed", "error", err.Error())
			}
		}()
		producerErr = s.produce(runCtx, handle)
		if producerErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		consumerErr = s.consume(runCtx, &buf)
	}()
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		s.discard()
		return transcript.Buffer{}, ctx.Err()
	case producerErr != nil:
		s.discard()
		return transcript.Buffer{}, fmt.Errorf("capture producer: %w", producerErr)
	case consumerErr != nil:
		s.discard()
		return transcript.Buffer{}, fmt.Errorf("capture consumer: %w", consumerErr)
	}
	return buf, nil
}

func (s *Session) produce(ctx context.Context, handle *audio.Handle) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-s.stopCh:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	reads := s.ReadsPerChunk()
	seq := 0
	silentRun := 0
	for {
		round := make([]int16, 0, reads*s.cfg.FramesPerRead)
		var capturedAt time.Time
		stopped := false
		for range reads {
			frame, err := handle.Read(readCtx)
			if err != nil {
				if s.stopRequested() && ctx.Err() == nil {
					stopped = true
					break
				}
				return err
			}
			if capturedAt.IsZero() {
				capturedAt = frame.CapturedAt
			}
			round = append(round, frame.Samples...)
		}

		if len(round) > 0 {
			chunk := Chunk{Seq: seq, Samples: round, Rate: s.cfg.DeviceRate, CapturedAt: capturedAt}
			if err := s.queue.Push(ctx, chunk); err != nil {
				return err
			}
			s.chunks.Add(1)
			s.retain(round)
			seq++
			if chunk.Peak() < s.cfg.SilenceThreshold {
				silentRun++
			} else {
				silentRun = 0
			}
		}

		switch {
		case stopped, s.stopRequested():
			return nil
		case s.cfg.MaxChunks > 0 && seq >= s.cfg.MaxChunks:
			return nil
		case s.cfg.EndSilenceChunks > 0 && silentRun >= s.cfg.EndSilenceChunks:
			s.logDebug("capture ended on trailing silence", "chunks", seq)
			return nil
		}
	}
}

func (s *Session) consume(ctx context.Context, buf *transcript.Buffer) error {
	for {
		chunk, ok, err := s.queue.Pop(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		buf.Append(s.transcribe(ctx, chunk))
	}
}

func (s *Session) transcribe(ctx context.Context, chunk Chunk) transcript.Fragment {
	samples, err := resample.Resample(chunk.Samples, chunk.Rate, s.cfg.TranscribeRate)
	if err != nil {
		s.failed.Add(1)
		s.logWarn("capture chunk resample failed", "seq", chunk.Seq, "error", err.Error())
		return transcript.EmptyFragment(chunk.Seq)
	}
	if audio.Peak(samples) < s.cfg.SilenceThreshold {
		s.silent.Add(1)
		s.logDebug("capture chunk silent", "seq", chunk.Seq)
		return transcript.EmptyFragment(chunk.Seq)
	}

	callCtx := ctx
	if s.cfg.EngineTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.EngineTimeout)
		defer cancel()
	}

	started := time.Now()
	text, err := s.transcriber.Transcribe(callCtx, audio.ToFloat32(samples), s.cfg.TranscribeRate)
	if err != nil {
		s.failed.Add(1)
		if ctx.Err() == nil {
			s.logWarn("capture chunk transcription failed",
				"seq", chunk.Seq,
				"elapsed_ms", time.Since(started).Milliseconds(),
				"error", err.Error(),
			)
		}
		return transcript.EmptyFragment(chunk.Seq)
	}
	return transcript.NewFragment(chunk.Seq, text)
}

func (s *Session) discard() {
	if n := s.queue.Discard(); n > 0 {
		s.discarded.Add(int32(n))
		s.logDebug("capture queue discarded", "chunks", n)
	}
}

func (s *Session) retain(samples []int16) {
	if !s.cfg.RetainAudio {
		return
	}
	s.rawMu.Lock()
	s.raw = append(s.raw, samples...)
	s.rawMu.Unlock()
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Session) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
