package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/resample"
)

// Voice speaks text: synthesis and rate conversion in Prepare, then blocking
// playback in Play.
type Voice struct {
	synth        Synthesizer
	player       audio.Player
	playbackRate int
}

// NewVoice builds a Voice. playbackRate <= 0 plays at the synthesis rate.
func NewVoice(synth Synthesizer, player audio.Player, playbackRate int) (*Voice, error) {
	if synth == nil {
		return nil, errors.New("voice has no synthesizer")
	}
	if player == nil {
		return nil, errors.New("voice has no player")
	}
	if playbackRate <= 0 {
		playbackRate = synth.SampleRate()
	}
	return &Voice{synth: synth, player: player, playbackRate: playbackRate}, nil
}

// Speak prepares text and plays it, returning once playback has finished or
// failed.
func (v *Voice) Speak(ctx context.Context, text string) error {
	clip, err := v.Prepare(ctx, text)
	if err != nil {
		return err
	}
	return v.Play(ctx, clip)
}

// Prepare synthesizes text and converts it to the playback rate. Blank text
// and empty synthesis give an empty clip.
func (v *Voice) Prepare(ctx context.Context, text string) (audio.Frame, error) {
	clip := audio.Frame{Rate: v.playbackRate, Channels: 1}
	if strings.TrimSpace(text) == "" {
		return clip, nil
	}

	samples, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return clip, fmt.Errorf("synthesize: %w", err)
	}
	if len(samples) == 0 {
		return clip, nil
	}

	clip.Samples, err = ConvertRate(samples, v.synth.SampleRate(), v.playbackRate)
	if err != nil {
		return audio.Frame{}, err
	}
	return clip, nil
}

// Play blocks until clip has been played. An empty clip is a no-op.
func (v *Voice) Play(ctx context.Context, clip audio.Frame) error {
	if len(clip.Samples) == 0 {
		return nil
	}
	if err := v.player.Play(ctx, clip.Samples, clip.Rate); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// ConvertRate converts a whole utterance to the playback rate. The output has
// exactly round(len * to / from) samples.
func ConvertRate(samples []int16, from, to int) ([]int16, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid conversion %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	return resample.Resample(samples, from, to)
}
