// Package tts synthesizes reply text to speech and plays it on the default
// output.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/aeris/internal/audio"
)

const (
	DefaultBaseURL    = "https://api.elevenlabs.io"
	DefaultModelID    = "eleven_multilingual_v2"
	DefaultSampleRate = 22050
)

// ErrMissingAPIKey reports a synthesizer built without credentials.
var ErrMissingAPIKey = errors.New("ELEVENLABS_API_KEY is not set")

// Synthesizer converts text into mono s16 PCM at SampleRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]int16, error)
	SampleRate() int
}

// ElevenLabsConfig controls the ElevenLabs synthesizer.
type ElevenLabsConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	SampleRate int
	BaseURL    string
	HTTPClient *http.Client
}

// ElevenLabs calls the text-to-speech endpoint and asks for raw PCM.
type ElevenLabs struct {
	apiKey     string
	voiceID    string
	modelID    string
	sampleRate int
	baseURL    string
	http       *http.Client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// NewElevenLabs builds an ElevenLabs synthesizer.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		return nil, errors.New("voice.voice_id must be set")
	}

	e := &ElevenLabs{
		apiKey:     apiKey,
		voiceID:    voiceID,
		modelID:    strings.TrimSpace(cfg.ModelID),
		sampleRate: cfg.SampleRate,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:       cfg.HTTPClient,
	}
	if e.modelID == "" {
		e.modelID = DefaultModelID
	}
	if e.sampleRate <= 0 {
		e.sampleRate = DefaultSampleRate
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.http == nil {
		e.http = &http.Client{Timeout: 60 * time.Second}
	}
	return e, nil
}

func (e *ElevenLabs) SampleRate() int { return e.sampleRate }

// Synthesize returns the whole utterance once the response has been read.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]int16, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	endpoint, err := url.Parse(e.baseURL + "/v1/text-to-speech/" + url.PathEscape(e.voiceID))
	if err != nil {
		return nil, fmt.Errorf("build synthesis url: %w", err)
	}
	q := endpoint.Query()
	q.Set("output_format", "pcm_"+strconv.Itoa(e.sampleRate))
	endpoint.RawQuery = q.Encode()

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: e.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis audio: %w", err)
	}
	return audio.DecodePCM16LE(pcm), nil
}
