package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch strings.ToLower(strings.TrimSpace(cfg.Audio.Backend)) {
	case "pulse", "portaudio":
	default:
		return nil, fmt.Errorf("audio.backend must be one of: pulse, portaudio")
	}
	if cfg.Audio.Rate <= 0 {
		return nil, fmt.Errorf("audio.rate must be > 0")
	}
	if cfg.Audio.ReadTimeoutMS <= 0 {
		return nil, fmt.Errorf("audio.read_timeout_ms must be > 0")
	}
	if cfg.Audio.DeviceIndex < -1 {
		return nil, fmt.Errorf("audio.device_index must be >= -1")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Wake.Engine)) {
	case "grpc":
		if cfg.Wake.Sensitivity < 0 || cfg.Wake.Sensitivity > 1 {
			return nil, fmt.Errorf("wake.sensitivity must be within [0, 1]")
		}
	case "energy":
		if cfg.Wake.EnergyThreshold <= 0 {
			return nil, fmt.Errorf("wake.energy_threshold must be > 0")
		}
		if cfg.Wake.EnergyFrames <= 0 {
			return nil, fmt.Errorf("wake.energy_frames must be > 0")
		}
	default:
		return nil, fmt.Errorf("wake.engine must be one of: grpc, energy")
	}
	if cfg.Wake.TimeoutMS <= 0 {
		return nil, fmt.Errorf("wake.timeout_ms must be > 0")
	}
	if cfg.Wake.FrameLength <= 0 {
		return nil, fmt.Errorf("wake.frame_length must be > 0")
	}
	if cfg.Wake.SampleRate <= 0 {
		return nil, fmt.Errorf("wake.sample_rate must be > 0")
	}

	if cfg.Capture.ChunkMS <= 0 {
		return nil, fmt.Errorf("capture.chunk_ms must be > 0")
	}
	if cfg.Capture.FramesPerRead <= 0 {
		return nil, fmt.Errorf("capture.frames_per_read must be > 0")
	}
	if cfg.Capture.QueueCapacity <= 0 {
		return nil, fmt.Errorf("capture.queue_capacity must be > 0")
	}
	if cfg.Capture.SilenceThreshold < 0 || cfg.Capture.SilenceThreshold > 32767 {
		return nil, fmt.Errorf("capture.silence_threshold must be within [0, 32767]")
	}
	if cfg.Capture.EndSilenceChunks < 0 {
		return nil, fmt.Errorf("capture.end_silence_chunks must be >= 0")
	}
	if cfg.Capture.MaxChunks < 0 {
		return nil, fmt.Errorf("capture.max_chunks must be >= 0")
	}
	if cfg.Capture.EndSilenceChunks == 0 && cfg.Capture.MaxChunks == 0 {
		warnings = append(warnings, Warning{Message: "capture.end_silence_chunks and capture.max_chunks are both 0; recording ends only on stop"})
	}

	if strings.TrimSpace(cfg.Speech.GRPC) == "" {
		return nil, fmt.Errorf("speech.grpc must not be empty")
	}
	if strings.TrimSpace(cfg.Speech.Language) == "" {
		return nil, fmt.Errorf("speech.language must not be empty")
	}
	if cfg.Speech.SampleRate <= 0 {
		return nil, fmt.Errorf("speech.sample_rate must be > 0")
	}
	if cfg.Speech.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("speech.dial_timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Reply.Model) == "" {
		return nil, fmt.Errorf("reply.model must not be empty")
	}
	if cfg.Reply.MaxTokens <= 0 {
		return nil, fmt.Errorf("reply.max_tokens must be > 0")
	}
	if strings.TrimSpace(cfg.Reply.Instructions) == "" {
		warnings = append(warnings, Warning{Message: "reply.instructions is empty; the model receives no persona"})
	}

	if strings.TrimSpace(cfg.Voice.VoiceID) == "" {
		return nil, fmt.Errorf("voice.voice_id must not be empty")
	}
	if strings.TrimSpace(cfg.Voice.ModelID) == "" {
		return nil, fmt.Errorf("voice.model_id must not be empty")
	}
	if cfg.Voice.SampleRate <= 0 {
		return nil, fmt.Errorf("voice.sample_rate must be > 0")
	}
	if cfg.Voice.PlaybackRate <= 0 {
		return nil, fmt.Errorf("voice.playback_rate must be > 0")
	}

	if cfg.Cycle.EngineTimeoutMS <= 0 {
		return nil, fmt.Errorf("cycle.engine_timeout_ms must be > 0")
	}
	if cfg.Cycle.GraceTimeoutMS <= 0 {
		return nil, fmt.Errorf("cycle.grace_timeout_ms must be > 0")
	}
	if cfg.Cycle.DeviceRetries <= 0 {
		return nil, fmt.Errorf("cycle.device_retries must be > 0")
	}
	if cfg.Cycle.RetryBackoffMS < 0 {
		return nil, fmt.Errorf("cycle.retry_backoff_ms must be >= 0")
	}

	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Indicator.NotifyEnable && strings.TrimSpace(cfg.Indicator.NotifyAppName) == "" {
		return nil, fmt.Errorf("indicator.notify_app_name must not be empty when indicator.notify_enable=true")
	}
	if strings.TrimSpace(cfg.Indicator.PlayerCmd) != "" {
		if _, err := ParseArgv(cfg.Indicator.PlayerCmd); err != nil {
			return nil, fmt.Errorf("invalid indicator.player_cmd: %w", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
