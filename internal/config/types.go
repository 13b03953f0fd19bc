// Package config resolves, parses, validates, and defaults aeris configuration.
package config

// Config is the fully materialized runtime configuration used by aeris.
type Config struct {
	Audio     AudioConfig
	Wake      WakeConfig
	Capture   CaptureConfig
	Speech    SpeechConfig
	Reply     ReplyConfig
	Voice     VoiceConfig
	Cycle     CycleConfig
	Indicator IndicatorConfig
	Debug     DebugConfig
	LogLevel  string
}

// AudioConfig selects the capture backend and device. Rate is the device
// capture rate shared by listening and recording.
type AudioConfig struct {
	Backend       string
	Input         string
	Fallback      string
	DeviceIndex   int
	Rate          int
	ReadTimeoutMS int
}

// WakeConfig controls trigger detection.
type WakeConfig struct {
	Engine          string
	Sensitivity     float64
	TimeoutMS       int
	FrameLength     int
	SampleRate      int
	EnergyThreshold float64
	EnergyFrames    int
}

// CaptureConfig controls utterance recording and chunking.
type CaptureConfig struct {
	ChunkMS          int
	FramesPerRead    int
	QueueCapacity    int
	SilenceThreshold int
	EndSilenceChunks int
	MaxChunks        int
}

// SpeechConfig points at the speech sidecar serving transcription and wake detection.
type SpeechConfig struct {
	GRPC          string
	Language      string
	SampleRate    int
	DialTimeoutMS int
}

// ReplyConfig controls the chat completion request.
type ReplyConfig struct {
	Model        string
	Instructions string
	MaxTokens    int
	BaseURL      string
}

// VoiceConfig controls speech synthesis and playback.
type VoiceConfig struct {
	VoiceID      string
	ModelID      string
	SampleRate   int
	PlaybackRate int
	BaseURL      string
}

// CycleConfig bounds stage waits and device retries.
type CycleConfig struct {
	EngineTimeoutMS int
	GraceTimeoutMS  int
	DeviceRetries   int
	RetryBackoffMS  int
}

// IndicatorConfig controls audio cues and optional desktop notifications.
type IndicatorConfig struct {
	SoundEnable    bool
	PlayerCmd      string
	WakeFile       string
	CompleteFile   string
	ErrorFile      string
	ShutdownFile   string
	NotifyEnable   bool
	NotifyAppName  string
	ErrorTimeoutMS int
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
