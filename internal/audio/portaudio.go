//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// PortAudioAvailable reports whether this binary was built with the portaudio tag.
const PortAudioAvailable = true

// PortAudioDriver opens blocking-read streams by PortAudio device index.
type PortAudioDriver struct{}

// Open initializes PortAudio for the lifetime of the stream. Device is a
// device index, "" or "-1" for the default input, or a name substring.
func (PortAudioDriver) Open(ctx context.Context, params Params) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := resolvePortAudioDevice(params.Device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	buffer := make([]int16, params.FrameSize*params.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: params.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(params.Rate),
		FramesPerBuffer: params.FrameSize,
	}, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open portaudio stream on %q: %w", device.Name, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start portaudio stream on %q: %w", device.Name, err)
	}

	return &portAudioStream{stream: stream, buffer: buffer}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
}

// Read blocks for one buffer; PortAudio bounds the wait by the device period.
func (s *portAudioStream) Read(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return nil, err
	}
	out := make([]int16, len(s.buffer))
	copy(out, s.buffer)
	return out, nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	_ = portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// ListPortAudioDevices returns PortAudio input devices keyed by index.
func ListPortAudioDevices(context.Context) ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list portaudio devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	out := make([]Device, 0, len(devices))
	for i, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			ID:          strconv.Itoa(i),
			Description: d.Name,
			State:       fmt.Sprintf("%.0fHz", d.DefaultSampleRate),
			Available:   true,
			Default:     d == defaultDevice,
		})
	}
	return out, nil
}

func resolvePortAudioDevice(id string) (*portaudio.DeviceInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "-1" || id == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list portaudio devices: %w", err)
	}
	if index, err := strconv.Atoi(id); err == nil {
		if index < 0 || index >= len(devices) {
			return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(devices))
		}
		return devices[index], nil
	}
	term := strings.ToLower(id)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), term) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", id)
}
