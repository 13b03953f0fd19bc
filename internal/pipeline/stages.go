// Package pipeline assembles the concrete assistant: device backend, speech
// sidecar, reply and voice engines, and the stage factory the cycle runs.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/capture"
	"github.com/rbright/aeris/internal/cycle"
	"github.com/rbright/aeris/internal/transcript"
	"github.com/rbright/aeris/internal/wake"
)

// Stages builds a fresh wake gate or capture session per attempt. Both draw
// from the same Source, so only one of them can hold the device.
type Stages struct {
	Source      *audio.Source
	Engine      wake.Engine
	Transcriber capture.Transcriber
	Wake        wake.Config
	Capture     capture.Config
	Logger      *slog.Logger
	// Dump, when set, receives the raw device audio of every finished recording.
	Dump func(samples []int16, rate int)
}

var _ cycle.Stages = (*Stages)(nil)

// ReleaseDevice closes whatever handle still owns the shared input device.
func (s *Stages) ReleaseDevice() error {
	return s.Source.CloseLive()
}

func (s *Stages) NewGate() cycle.Gate {
	return wake.NewGate(s.Source, s.Engine, s.Wake, s.Logger)
}

func (s *Stages) NewCapture() cycle.Capture {
	cfg := s.Capture
	cfg.RetainAudio = s.Dump != nil
	return &recording{
		session: capture.NewSession(s.Source, s.Transcriber, cfg, s.Logger),
		rate:    cfg.DeviceRate,
		dump:    s.Dump,
	}
}

// recording hands a finished session's audio to the dump hook.
type recording struct {
	session *capture.Session
	rate    int
	dump    func([]int16, int)
}

func (r *recording) Run(ctx context.Context) (transcript.Buffer, error) {
	buf, err := r.session.Run(ctx)
	if r.dump != nil {
		if raw := r.session.RawPCM(); len(raw) > 0 {
			r.dump(raw, r.rate)
		}
	}
	return buf, err
}

func (r *recording) Stop() { r.session.Stop() }
