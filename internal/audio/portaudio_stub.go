//go:build !portaudio

package audio

import (
	"context"
	"errors"
)

// PortAudioAvailable reports whether this binary was built with the portaudio tag.
const PortAudioAvailable = false

var errPortAudioUnavailable = errors.New("portaudio backend not compiled in (build with -tags portaudio)")

// PortAudioDriver is unavailable without the portaudio build tag.
type PortAudioDriver struct{}

func (PortAudioDriver) Open(context.Context, Params) (Stream, error) {
	return nil, errPortAudioUnavailable
}

// ListPortAudioDevices is unavailable without the portaudio build tag.
func ListPortAudioDevices(context.Context) ([]Device, error) {
	return nil, errPortAudioUnavailable
}
