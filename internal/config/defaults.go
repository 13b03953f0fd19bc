package config

import "github.com/rbright/aeris/internal/reply"

// DefaultVoiceID is the ElevenLabs stock voice used when none is configured.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Backend:       "pulse",
			Input:         "default",
			Fallback:      "default",
			DeviceIndex:   -1,
			Rate:          44100,
			ReadTimeoutMS: 2000,
		},
		Wake: WakeConfig{
			Engine:          "grpc",
			Sensitivity:     0.25,
			TimeoutMS:       10000,
			FrameLength:     512,
			SampleRate:      16000,
			EnergyThreshold: 2500,
			EnergyFrames:    3,
		},
		Capture: CaptureConfig{
			ChunkMS:          3000,
			FramesPerRead:    1024,
			QueueCapacity:    5,
			SilenceThreshold: 500,
			EndSilenceChunks: 2,
			MaxChunks:        10,
		},
		Speech: SpeechConfig{
			GRPC:          "127.0.0.1:50061",
			Language:      "en",
			SampleRate:    16000,
			DialTimeoutMS: 3000,
		},
		Reply: ReplyConfig{
			Model:        reply.DefaultModel,
			Instructions: reply.DefaultInstructions,
			MaxTokens:    reply.DefaultMaxTokens,
		},
		Voice: VoiceConfig{
			VoiceID:      DefaultVoiceID,
			ModelID:      "eleven_multilingual_v2",
			SampleRate:   22050,
			PlaybackRate: 22050,
		},
		Cycle: CycleConfig{
			EngineTimeoutMS: 30000,
			GraceTimeoutMS:  5000,
			DeviceRetries:   3,
			RetryBackoffMS:  250,
		},
		Indicator: IndicatorConfig{
			SoundEnable:    true,
			PlayerCmd:      "pw-play --media-role Notification",
			NotifyEnable:   false,
			NotifyAppName:  "aeris",
			ErrorTimeoutMS: 1200,
		},
		Debug:    DebugConfig{},
		LogLevel: "info",
	}
}
