package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.NotContains(t, normalized, ",]")
	require.NotContains(t, normalized, ",}")
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestParseJSONCOverlaysOntoDefaults(t *testing.T) {
	cfg, warnings, err := parseJSONC(`{
  // capture tuned for a noisy room
  "audio": {"backend": " PortAudio ", "device_index": 2, "rate": 48000},
  "wake": {"engine": "energy", "energy_threshold": 4000, "energy_frames": 5,},
  "capture": {"silence_threshold": 900, "max_chunks": 4},
  "speech": {"language": " it "},
  "voice": {"voice_id": "abc123", "playback_rate": 48000},
  "cycle": {"device_retries": 5},
  "log_level": "DEBUG",
}`, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, "portaudio", cfg.Audio.Backend)
	require.Equal(t, 2, cfg.Audio.DeviceIndex)
	require.Equal(t, 48000, cfg.Audio.Rate)
	require.Equal(t, "energy", cfg.Wake.Engine)
	require.Equal(t, 4000.0, cfg.Wake.EnergyThreshold)
	require.Equal(t, 5, cfg.Wake.EnergyFrames)
	require.Equal(t, 900, cfg.Capture.SilenceThreshold)
	require.Equal(t, 4, cfg.Capture.MaxChunks)
	require.Equal(t, "it", cfg.Speech.Language)
	require.Equal(t, "abc123", cfg.Voice.VoiceID)
	require.Equal(t, 48000, cfg.Voice.PlaybackRate)
	require.Equal(t, 5, cfg.Cycle.DeviceRetries)
	require.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	require.Equal(t, Default().Capture.ChunkMS, cfg.Capture.ChunkMS)
	require.Equal(t, Default().Reply, cfg.Reply)
	require.Equal(t, Default().Indicator, cfg.Indicator)
}

func TestParseJSONCRejectsUnknownField(t *testing.T) {
	_, _, err := parseJSONC(`{"wake": {"keyword": "aeris"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCWarnsOnUnusedDeviceIndex(t *testing.T) {
	_, warnings, err := parseJSONC(`{"audio": {"device_index": 1}}`, Default())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "portaudio")
}

func TestParseJSONCRejectsInvalidPlayerCmd(t *testing.T) {
	_, _, err := parseJSONC(`{"indicator":{"player_cmd":"unterminated ' quote"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid indicator.player_cmd")
}

func TestParseJSONCTrimsIndicatorFields(t *testing.T) {
	cfg, _, err := parseJSONC(`{
  "indicator": {
    "notify_enable": true,
    "notify_app_name": "  aeris-dev  ",
    "wake_file": "  ~/sounds/wake.wav "
  }
}`, Default())
	require.NoError(t, err)
	require.True(t, cfg.Indicator.NotifyEnable)
	require.Equal(t, "aeris-dev", cfg.Indicator.NotifyAppName)
	require.Equal(t, "~/sounds/wake.wav", cfg.Indicator.WakeFile)
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := parseJSONC(`{"debug":{"audio_dump":false}}{"debug":{"audio_dump":true}}`, Default())
	require.Error(t, err)
	require.True(
		t,
		strings.Contains(err.Error(), "multiple JSON values") || strings.Contains(err.Error(), "unknown field"),
		"unexpected error: %v",
		err,
	)
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := parseJSONC(`{
  "speech": {"grpc": 123}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line")
	require.Contains(t, err.Error(), "column")
}

func TestParseBlankContentReturnsBase(t *testing.T) {
	cfg, warnings, err := Parse("  \n", Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}
