package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio     *jsoncAudio     `json:"audio"`
	Wake      *jsoncWake      `json:"wake"`
	Capture   *jsoncCapture   `json:"capture"`
	Speech    *jsoncSpeech    `json:"speech"`
	Reply     *jsoncReply     `json:"reply"`
	Voice     *jsoncVoice     `json:"voice"`
	Cycle     *jsoncCycle     `json:"cycle"`
	Indicator *jsoncIndicator `json:"indicator"`
	Debug     *jsoncDebug     `json:"debug"`
	LogLevel  *string         `json:"log_level"`
}

type jsoncAudio struct {
	Backend       *string `json:"backend"`
	Input         *string `json:"input"`
	Fallback      *string `json:"fallback"`
	DeviceIndex   *int    `json:"device_index"`
	Rate          *int    `json:"rate"`
	ReadTimeoutMS *int    `json:"read_timeout_ms"`
}

type jsoncWake struct {
	Engine          *string  `json:"engine"`
	Sensitivity     *float64 `json:"sensitivity"`
	TimeoutMS       *int     `json:"timeout_ms"`
	FrameLength     *int     `json:"frame_length"`
	SampleRate      *int     `json:"sample_rate"`
	EnergyThreshold *float64 `json:"energy_threshold"`
	EnergyFrames    *int     `json:"energy_frames"`
}

type jsoncCapture struct {
	ChunkMS          *int `json:"chunk_ms"`
	FramesPerRead    *int `json:"frames_per_read"`
	QueueCapacity    *int `json:"queue_capacity"`
	SilenceThreshold *int `json:"silence_threshold"`
	EndSilenceChunks *int `json:"end_silence_chunks"`
	MaxChunks        *int `json:"max_chunks"`
}

type jsoncSpeech struct {
	GRPC          *string `json:"grpc"`
	Language      *string `json:"language"`
	SampleRate    *int    `json:"sample_rate"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncReply struct {
	Model        *string `json:"model"`
	Instructions *string `json:"instructions"`
	MaxTokens    *int    `json:"max_tokens"`
	BaseURL      *string `json:"base_url"`
}

type jsoncVoice struct {
	VoiceID      *string `json:"voice_id"`
	ModelID      *string `json:"model_id"`
	SampleRate   *int    `json:"sample_rate"`
	PlaybackRate *int    `json:"playback_rate"`
	BaseURL      *string `json:"base_url"`
}

type jsoncCycle struct {
	EngineTimeoutMS *int `json:"engine_timeout_ms"`
	GraceTimeoutMS  *int `json:"grace_timeout_ms"`
	DeviceRetries   *int `json:"device_retries"`
	RetryBackoffMS  *int `json:"retry_backoff_ms"`
}

type jsoncIndicator struct {
	SoundEnable    *bool   `json:"sound_enable"`
	PlayerCmd      *string `json:"player_cmd"`
	WakeFile       *string `json:"wake_file"`
	CompleteFile   *string `json:"complete_file"`
	ErrorFile      *string `json:"error_file"`
	ShutdownFile   *string `json:"shutdown_file"`
	NotifyEnable   *bool   `json:"notify_enable"`
	NotifyAppName  *string `json:"notify_app_name"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

// set copies *src into dst when the key was present.
func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// setTrimmed is set for strings, trimming surrounding whitespace.
func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if a := payload.Audio; a != nil {
		if a.Backend != nil {
			cfg.Audio.Backend = strings.ToLower(strings.TrimSpace(*a.Backend))
		}
		setTrimmed(&cfg.Audio.Input, a.Input)
		setTrimmed(&cfg.Audio.Fallback, a.Fallback)
		set(&cfg.Audio.DeviceIndex, a.DeviceIndex)
		set(&cfg.Audio.Rate, a.Rate)
		set(&cfg.Audio.ReadTimeoutMS, a.ReadTimeoutMS)
		if a.DeviceIndex != nil && cfg.Audio.Backend != "portaudio" {
			warnings = append(warnings, Warning{Message: "audio.device_index is only used by the portaudio backend"})
		}
	}

	if w := payload.Wake; w != nil {
		if w.Engine != nil {
			cfg.Wake.Engine = strings.ToLower(strings.TrimSpace(*w.Engine))
		}
		set(&cfg.Wake.Sensitivity, w.Sensitivity)
		set(&cfg.Wake.TimeoutMS, w.TimeoutMS)
		set(&cfg.Wake.FrameLength, w.FrameLength)
		set(&cfg.Wake.SampleRate, w.SampleRate)
		set(&cfg.Wake.EnergyThreshold, w.EnergyThreshold)
		set(&cfg.Wake.EnergyFrames, w.EnergyFrames)
	}

	if c := payload.Capture; c != nil {
		set(&cfg.Capture.ChunkMS, c.ChunkMS)
		set(&cfg.Capture.FramesPerRead, c.FramesPerRead)
		set(&cfg.Capture.QueueCapacity, c.QueueCapacity)
		set(&cfg.Capture.SilenceThreshold, c.SilenceThreshold)
		set(&cfg.Capture.EndSilenceChunks, c.EndSilenceChunks)
		set(&cfg.Capture.MaxChunks, c.MaxChunks)
	}

	if s := payload.Speech; s != nil {
		setTrimmed(&cfg.Speech.GRPC, s.GRPC)
		setTrimmed(&cfg.Speech.Language, s.Language)
		set(&cfg.Speech.SampleRate, s.SampleRate)
		set(&cfg.Speech.DialTimeoutMS, s.DialTimeoutMS)
	}

	if r := payload.Reply; r != nil {
		setTrimmed(&cfg.Reply.Model, r.Model)
		setTrimmed(&cfg.Reply.Instructions, r.Instructions)
		set(&cfg.Reply.MaxTokens, r.MaxTokens)
		setTrimmed(&cfg.Reply.BaseURL, r.BaseURL)
	}

	if v := payload.Voice; v != nil {
		setTrimmed(&cfg.Voice.VoiceID, v.VoiceID)
		setTrimmed(&cfg.Voice.ModelID, v.ModelID)
		set(&cfg.Voice.SampleRate, v.SampleRate)
		set(&cfg.Voice.PlaybackRate, v.PlaybackRate)
		setTrimmed(&cfg.Voice.BaseURL, v.BaseURL)
	}

	if c := payload.Cycle; c != nil {
		set(&cfg.Cycle.EngineTimeoutMS, c.EngineTimeoutMS)
		set(&cfg.Cycle.GraceTimeoutMS, c.GraceTimeoutMS)
		set(&cfg.Cycle.DeviceRetries, c.DeviceRetries)
		set(&cfg.Cycle.RetryBackoffMS, c.RetryBackoffMS)
	}

	if i := payload.Indicator; i != nil {
		set(&cfg.Indicator.SoundEnable, i.SoundEnable)
		set(&cfg.Indicator.PlayerCmd, i.PlayerCmd)
		setTrimmed(&cfg.Indicator.WakeFile, i.WakeFile)
		setTrimmed(&cfg.Indicator.CompleteFile, i.CompleteFile)
		setTrimmed(&cfg.Indicator.ErrorFile, i.ErrorFile)
		setTrimmed(&cfg.Indicator.ShutdownFile, i.ShutdownFile)
		set(&cfg.Indicator.NotifyEnable, i.NotifyEnable)
		setTrimmed(&cfg.Indicator.NotifyAppName, i.NotifyAppName)
		set(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if payload.Debug != nil {
		set(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	if payload.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*payload.LogLevel))
	}

	return warnings
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
