package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeak(t *testing.T) {
	require.Equal(t, 0, Peak(nil))
	require.Equal(t, 300, Peak([]int16{10, -300, 200}))
	require.Equal(t, 32768, Peak([]int16{-32768, 5}))
}

func TestToFloat32Range(t *testing.T) {
	got := ToFloat32([]int16{0, 16384, -32768, 32767})
	require.InDelta(t, 0, got[0], 1e-6)
	require.InDelta(t, 0.5, got[1], 1e-6)
	require.InDelta(t, -1, got[2], 1e-6)
	require.Less(t, got[3], float32(1))
}

func TestPCM16LECodec(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	encoded := EncodePCM16LE(samples)
	require.Len(t, encoded, 10)
	require.Equal(t, []byte{0xff, 0xff}, encoded[4:6])
	require.Equal(t, samples, DecodePCM16LE(encoded))
	require.Equal(t, []int16{1}, DecodePCM16LE([]byte{1, 0, 9}))
}

func TestFrameDuration(t *testing.T) {
	frame := Frame{Samples: make([]int16, 1600), Rate: 16000, Channels: 1}
	require.Equal(t, 100*time.Millisecond, frame.Duration())
	require.Equal(t, time.Duration(0), Frame{}.Duration())
}
