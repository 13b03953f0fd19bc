// Package resample converts 16-bit PCM between sample rates.
//
// Every call runs a fresh band-limited resampler over its own input, so no
// filter state is carried across calls. The input is extended at both ends by
// repeating its edge samples and the filter delay is removed, so output sample
// i lines up with input time i*source/target.
package resample

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

const scale = 32768

type ratePair struct {
	source int
	target int
}

// delays caches the measured filter offset, in output samples, per rate pair.
var delays sync.Map

// Resample converts mono samples from sourceRate to targetRate. The output has
// exactly OutputLength(len(samples), sourceRate, targetRate) samples, clipped
// to int16.
func Resample(samples []int16, sourceRate, targetRate int) ([]int16, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("invalid conversion %d -> %d", sourceRate, targetRate)
	}
	if sourceRate == targetRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	want := OutputLength(len(samples), sourceRate, targetRate)
	if want == 0 {
		return []int16{}, nil
	}

	offset, err := delay(sourceRate, targetRate)
	if err != nil {
		return nil, err
	}

	pad := padding(sourceRate)
	input := make([]float64, pad+len(samples)+pad)
	first := float64(samples[0]) / scale
	last := float64(samples[len(samples)-1]) / scale
	for i := 0; i < pad; i++ {
		input[i] = first
		input[pad+len(samples)+i] = last
	}
	for i, s := range samples {
		input[pad+i] = float64(s) / scale
	}

	output, err := run(input, sourceRate, targetRate)
	if err != nil {
		return nil, err
	}

	start := outputIndex(pad, sourceRate, targetRate) + offset
	out := make([]int16, want)
	for i := range out {
		j := start + i
		if j < 0 || j >= len(output) {
			continue
		}
		out[i] = Clip(output[j] * scale)
	}
	return out, nil
}

// OutputLength is round(n * targetRate / sourceRate).
func OutputLength(n, sourceRate, targetRate int) int {
	if n <= 0 || sourceRate <= 0 || targetRate <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(targetRate) / float64(sourceRate)))
}

// InputLength is the number of source samples that resample to n target samples.
func InputLength(n, sourceRate, targetRate int) int {
	if n <= 0 || sourceRate <= 0 || targetRate <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * float64(sourceRate) / float64(targetRate)))
}

// Clip rounds v and saturates it to the int16 domain.
func Clip(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func run(input []float64, sourceRate, targetRate int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(sourceRate),
		OutputRate: float64(targetRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler %d -> %d: %w", sourceRate, targetRate, err)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", sourceRate, targetRate, err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler %d -> %d: %w", sourceRate, targetRate, err)
	}
	return append(output, tail...), nil
}

// delay measures how far the resampler shifts a signal, by running a unit
// impulse through the same padded layout Resample uses.
func delay(sourceRate, targetRate int) (int, error) {
	key := ratePair{source: sourceRate, target: targetRate}
	if v, ok := delays.Load(key); ok {
		return v.(int), nil
	}

	pad := padding(sourceRate)
	at := pad + pad/2
	input := make([]float64, 3*pad)
	input[at] = 1

	output, err := run(input, sourceRate, targetRate)
	if err != nil {
		return 0, err
	}

	peak := 0
	for i := range output {
		if math.Abs(output[i]) > math.Abs(output[peak]) {
			peak = i
		}
	}
	offset := peak - outputIndex(at, sourceRate, targetRate)

	v, _ := delays.LoadOrStore(key, offset)
	return v.(int), nil
}

// padding is 50ms of source audio, enough to cover the filter tails.
func padding(sourceRate int) int {
	return max(sourceRate/20, 64)
}

func outputIndex(i, sourceRate, targetRate int) int {
	return int(math.Round(float64(i) * float64(targetRate) / float64(sourceRate)))
}
