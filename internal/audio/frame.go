package audio

import (
	"encoding/binary"
	"time"
)

// Frame is one fixed-size block of signed 16-bit samples read from a device.
type Frame struct {
	Samples    []int16
	Rate       int
	Channels   int
	CapturedAt time.Time
}

// Duration reports the wall-clock span covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.Rate <= 0 {
		return 0
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	perChannel := len(f.Samples) / channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.Rate)
}

// Params selects the device and stream shape for one Open call.
type Params struct {
	Device    string
	Rate      int
	FrameSize int
	Channels  int
}

// Peak returns the largest absolute sample value.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// ToFloat32 normalizes samples into [-1, 1).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// EncodePCM16LE serializes samples as little-endian s16 bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian s16 bytes; a trailing odd byte is ignored.
func DecodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
