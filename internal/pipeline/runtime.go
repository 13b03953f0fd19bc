package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/capture"
	"github.com/rbright/aeris/internal/config"
	"github.com/rbright/aeris/internal/cycle"
	"github.com/rbright/aeris/internal/indicator"
	"github.com/rbright/aeris/internal/reply"
	"github.com/rbright/aeris/internal/speechrpc"
	"github.com/rbright/aeris/internal/stt"
	"github.com/rbright/aeris/internal/tts"
	"github.com/rbright/aeris/internal/wake"
	"google.golang.org/grpc"
)

// Options adjusts the loop built by Build.
type Options struct {
	// MaxCycles ends the loop after that many cycles; 0 runs until stopped.
	MaxCycles int
	OnResult  func(cycle.Result)
}

// Runtime is a fully wired assistant. Close releases the sidecar connection.
type Runtime struct {
	Orchestrator *cycle.Orchestrator
	Source       *audio.Source
	Device       string

	conn *grpc.ClientConn
}

// Close releases resources held outside the loop.
func (r *Runtime) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Build resolves the input device, connects to the speech sidecar, and wires
// every collaborator into one orchestrator.
func Build(ctx context.Context, cfg config.Config, secrets config.Secrets, logger *slog.Logger, opts Options) (*Runtime, error) {
	generator, err := reply.New(reply.Config{
		APIKey:       secrets.OpenAIKey,
		Model:        cfg.Reply.Model,
		Instructions: cfg.Reply.Instructions,
		MaxTokens:    cfg.Reply.MaxTokens,
		BaseURL:      cfg.Reply.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("build reply generator: %w", err)
	}

	synth, err := tts.NewElevenLabs(tts.ElevenLabsConfig{
		APIKey:     secrets.ElevenLabsKey,
		VoiceID:    cfg.Voice.VoiceID,
		ModelID:    cfg.Voice.ModelID,
		SampleRate: cfg.Voice.SampleRate,
		BaseURL:    cfg.Voice.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("build synthesizer: %w", err)
	}
	voice, err := tts.NewVoice(synth, audio.PulsePlayer{MediaName: "aeris voice"}, cfg.Voice.PlaybackRate)
	if err != nil {
		return nil, fmt.Errorf("build voice: %w", err)
	}

	driver, device, err := inputDriver(ctx, cfg.Audio, logger)
	if err != nil {
		return nil, err
	}
	source := audio.NewSource(driver, millis(cfg.Audio.ReadTimeoutMS))

	conn, err := speechrpc.Dial(ctx, cfg.Speech.GRPC, millis(cfg.Speech.DialTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("connect speech sidecar: %w", err)
	}

	engine, err := wakeEngine(cfg.Wake, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	stages := &Stages{
		Source:      source,
		Engine:      engine,
		Transcriber: stt.New(conn, cfg.Speech.Language),
		Wake: wake.Config{
			Device:     device,
			DeviceRate: cfg.Audio.Rate,
			Timeout:    millis(cfg.Wake.TimeoutMS),
		},
		Capture: captureConfig(cfg, device),
		Logger:  logger,
	}
	if cfg.Debug.EnableAudioDump {
		stages.Dump = audioDumper(logger)
	}

	cues := indicator.New(cfg.Indicator, audio.PulsePlayer{MediaName: "aeris cue"}, logger)

	orchestrator := cycle.New(logger, stages, generator, voice, cues, cycle.Config{
		EngineTimeout: millis(cfg.Cycle.EngineTimeoutMS),
		GraceTimeout:  millis(cfg.Cycle.GraceTimeoutMS),
		DeviceRetries: cfg.Cycle.DeviceRetries,
		RetryBackoff:  millis(cfg.Cycle.RetryBackoffMS),
		MaxCycles:     opts.MaxCycles,
		OnResult:      opts.OnResult,
	})

	if logger != nil {
		logger.Info("assistant assembled",
			"audio_backend", cfg.Audio.Backend,
			"audio_device", device,
			"audio_rate", cfg.Audio.Rate,
			"wake_engine", cfg.Wake.Engine,
			"speech_grpc", cfg.Speech.GRPC,
			"reply_model", cfg.Reply.Model,
			"audio_dump", cfg.Debug.EnableAudioDump,
		)
	}

	return &Runtime{Orchestrator: orchestrator, Source: source, Device: device, conn: conn}, nil
}

// inputDriver picks the capture backend and resolves the device it opens.
func inputDriver(ctx context.Context, cfg config.AudioConfig, logger *slog.Logger) (audio.Driver, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "portaudio":
		if !audio.PortAudioAvailable {
			return nil, "", errors.New("audio.backend=portaudio requires a build with -tags portaudio")
		}
		device := ""
		if cfg.DeviceIndex >= 0 {
			device = strconv.Itoa(cfg.DeviceIndex)
		}
		return audio.PortAudioDriver{}, device, nil
	case "", "pulse":
		selection, err := audio.SelectDevice(ctx, cfg.Input, cfg.Fallback)
		if err != nil {
			return nil, "", fmt.Errorf("select audio input: %w", err)
		}
		if selection.Warning != "" && logger != nil {
			logger.Warn(selection.Warning)
		}
		return audio.PulseDriver{}, selection.Device.ID, nil
	default:
		return nil, "", fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}

func wakeEngine(cfg config.WakeConfig, conn grpc.ClientConnInterface) (wake.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", "grpc":
		return wake.NewRemoteEngine(conn, wake.RemoteConfig{
			FrameLength: cfg.FrameLength,
			SampleRate:  cfg.SampleRate,
			Sensitivity: cfg.Sensitivity,
		}), nil
	case "energy":
		return wake.NewEnergyEngine(wake.EnergyConfig{
			FrameLength: cfg.FrameLength,
			SampleRate:  cfg.SampleRate,
			Threshold:   cfg.EnergyThreshold,
			Frames:      cfg.EnergyFrames,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported wake engine %q", cfg.Engine)
	}
}

func captureConfig(cfg config.Config, device string) capture.Config {
	return capture.Config{
		Device:           device,
		DeviceRate:       cfg.Audio.Rate,
		FramesPerRead:    cfg.Capture.FramesPerRead,
		ChunkDuration:    millis(cfg.Capture.ChunkMS),
		QueueCapacity:    cfg.Capture.QueueCapacity,
		TranscribeRate:   cfg.Speech.SampleRate,
		SilenceThreshold: cfg.Capture.SilenceThreshold,
		EndSilenceChunks: cfg.Capture.EndSilenceChunks,
		MaxChunks:        cfg.Capture.MaxChunks,
		EngineTimeout:    millis(cfg.Cycle.EngineTimeoutMS),
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
