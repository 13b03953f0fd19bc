package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/aeris/internal/config"
)

type cueKind int

const (
	cueWake cueKind = iota + 1
	cueComplete
	cueError
	cueShutdown
)

const cueSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	wakeCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	})
	completeCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 740, duration: 65 * time.Millisecond, volume: 0.18},
		{frequencyHz: 988, duration: 90 * time.Millisecond, volume: 0.18},
	})
	errorCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: 0.18},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.18},
	})
	shutdownCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 620, duration: 90 * time.Millisecond, volume: 0.16},
		{frequencyHz: 440, duration: 90 * time.Millisecond, volume: 0.16},
		{frequencyHz: 330, duration: 120 * time.Millisecond, volume: 0.16},
	})
)

func (k cueKind) String() string {
	switch k {
	case cueWake:
		return "wake"
	case cueComplete:
		return "complete"
	case cueError:
		return "error"
	case cueShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("cue(%d)", int(k))
	}
}

// emitCue prefers a configured cue file and falls back to the built-in tone.
func (c *Cues) emitCue(ctx context.Context, kind cueKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if path := cuePath(kind, c.cfg); path != "" {
		err := playCueFile(ctx, c.cfg.PlayerCmd, path)
		if err == nil {
			return nil
		}
		c.log("indicator cue file failed", err)
	}

	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}
	if c.player == nil {
		return errors.New("no cue player configured")
	}
	return c.player.Play(ctx, samples, cueSampleRate)
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	var raw string
	switch kind {
	case cueWake:
		raw = cfg.WakeFile
	case cueComplete:
		raw = cfg.CompleteFile
	case cueError:
		raw = cfg.ErrorFile
	case cueShutdown:
		raw = cfg.ShutdownFile
	default:
		return ""
	}
	return expandUserPath(raw)
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return raw
		}
		return home
	}
	if !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw, "~/"))
}

func playCueFile(ctx context.Context, playerCmd string, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	argv, err := config.ParseArgv(playerCmd)
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return errors.New("indicator.player_cmd is empty")
	}

	args := append(append([]string{}, argv[1:]...), path)
	if err := exec.CommandContext(ctx, argv[0], args...).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func cueSamples(kind cueKind) []int16 {
	switch kind {
	case cueWake:
		return wakeCuePCM
	case cueComplete:
		return completeCuePCM
	case cueError:
		return errorCuePCM
	case cueShutdown:
		return shutdownCuePCM
	default:
		return nil
	}
}

func synthesizeCue(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gapSamples := samplesForDuration(22 * time.Millisecond)

	var pcm []int16
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gapSamples > 0 {
			pcm = append(pcm, make([]int16, gapSamples)...)
		}
	}
	return pcm
}

func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	// 5ms ramps at most, so short tones still click-free.
	ramp := min(max(n/10, 1), cueSampleRate/200)

	pcm := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = math.Min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*t) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
