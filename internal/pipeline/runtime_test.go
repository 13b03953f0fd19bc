package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/config"
	"github.com/rbright/aeris/internal/reply"
	"github.com/rbright/aeris/internal/tts"
	"github.com/rbright/aeris/internal/wake"
	"github.com/stretchr/testify/require"
)

func TestBuildRequiresAPIKeysBeforeTouchingDevices(t *testing.T) {
	cfg := config.Default()

	_, err := Build(context.Background(), cfg, config.Secrets{ElevenLabsKey: "el"}, nil, Options{})
	require.ErrorIs(t, err, reply.ErrMissingAPIKey)

	_, err = Build(context.Background(), cfg, config.Secrets{OpenAIKey: "sk"}, nil, Options{})
	require.ErrorIs(t, err, tts.ErrMissingAPIKey)
}

func TestInputDriverPortAudio(t *testing.T) {
	cfg := config.Default().Audio
	cfg.Backend = "portaudio"
	cfg.DeviceIndex = 3

	driver, device, err := inputDriver(context.Background(), cfg, nil)
	if !audio.PortAudioAvailable {
		require.Error(t, err)
		require.Contains(t, err.Error(), "-tags portaudio")
		return
	}
	require.NoError(t, err)
	require.IsType(t, audio.PortAudioDriver{}, driver)
	require.Equal(t, "3", device)
}

func TestInputDriverRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default().Audio
	cfg.Backend = "jack"
	_, _, err := inputDriver(context.Background(), cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported audio backend")
}

func TestWakeEngineSelection(t *testing.T) {
	cfg := config.Default().Wake

	engine, err := wakeEngine(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &wake.RemoteEngine{}, engine)
	require.Equal(t, 512, engine.FrameLength())
	require.Equal(t, 16000, engine.SampleRate())

	cfg.Engine = "energy"
	engine, err = wakeEngine(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &wake.EnergyEngine{}, engine)

	cfg.Engine = "clap"
	_, err = wakeEngine(cfg, nil)
	require.Error(t, err)
}

func TestCaptureConfigFollowsRatePolicy(t *testing.T) {
	cfg := config.Default()
	got := captureConfig(cfg, "mic")

	require.Equal(t, "mic", got.Device)
	require.Equal(t, 44100, got.DeviceRate)
	require.Equal(t, 16000, got.TranscribeRate)
	require.Equal(t, 1024, got.FramesPerRead)
	require.Equal(t, 3*time.Second, got.ChunkDuration)
	require.Equal(t, 5, got.QueueCapacity)
	require.Equal(t, 30*time.Second, got.EngineTimeout)
}
