package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
)

// Player renders mono s16 PCM and blocks until playback has drained.
type Player interface {
	Play(ctx context.Context, samples []int16, rate int) error
}

// PulsePlayer plays PCM through a short-lived pulse playback stream.
type PulsePlayer struct {
	MediaName string
}

// Play blocks until the stream drains. Cancelling ctx ends the stream at the
// next buffer boundary.
func (p PulsePlayer) Play(ctx context.Context, samples []int16, rate int) error {
	if len(samples) == 0 {
		return nil
	}
	if rate <= 0 {
		return fmt.Errorf("invalid playback rate %d", rate)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := newPulseClient()
	if err != nil {
		return err
	}
	defer client.Close()

	mediaName := p.MediaName
	if mediaName == "" {
		mediaName = "aeris"
	}

	var mu sync.Mutex
	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		mu.Lock()
		defer mu.Unlock()

		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName(mediaName),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play pulse stream: %w", err)
	}
	return ctx.Err()
}
