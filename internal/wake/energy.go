package wake

import (
	"context"
	"math"
)

// EnergyConfig shapes an EnergyEngine.
type EnergyConfig struct {
	FrameLength int
	SampleRate  int
	// Threshold is the RMS level a frame must reach to count as loud.
	Threshold float64
	// Frames is how many consecutive loud frames fire the trigger.
	Frames int
}

// EnergyEngine triggers on sustained loudness instead of a keyword. It needs
// no sidecar.
type EnergyEngine struct {
	cfg EnergyConfig
}

func NewEnergyEngine(cfg EnergyConfig) *EnergyEngine {
	if cfg.Frames <= 0 {
		cfg.Frames = 1
	}
	return &EnergyEngine{cfg: cfg}
}

func (e *EnergyEngine) FrameLength() int { return e.cfg.FrameLength }

func (e *EnergyEngine) SampleRate() int { return e.cfg.SampleRate }

func (e *EnergyEngine) Open(context.Context) (Detector, error) {
	return &energyDetector{threshold: e.cfg.Threshold, need: e.cfg.Frames}, nil
}

type energyDetector struct {
	threshold float64
	need      int
	run       int
}

func (d *energyDetector) Process(ctx context.Context, frame []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if RMS(frame) >= d.threshold {
		d.run++
	} else {
		d.run = 0
	}
	if d.run >= d.need {
		d.run = 0
		return 0, nil
	}
	return -1, nil
}

func (d *energyDetector) Close() error { return nil }

// RMS is the root mean square of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
