// Package stt sends captured chunks to the speech sidecar for recognition.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/aeris/internal/speechrpc"
	"google.golang.org/grpc"
)

// Client transcribes one waveform per call over the sidecar's Transcribe RPC.
type Client struct {
	conn     grpc.ClientConnInterface
	language string
}

// New builds a Client. An empty language lets the sidecar detect it.
func New(conn grpc.ClientConnInterface, language string) *Client {
	return &Client{conn: conn, language: strings.TrimSpace(language)}
}

func (c *Client) Transcribe(ctx context.Context, waveform []float32, rate int) (string, error) {
	if c.conn == nil {
		return "", errors.New("transcription client has no sidecar connection")
	}
	if rate <= 0 {
		return "", fmt.Errorf("invalid transcription rate %d", rate)
	}
	if len(waveform) == 0 {
		return "", nil
	}

	text, err := speechrpc.Transcribe(ctx, c.conn, speechrpc.TranscribeRequest{
		Waveform:   waveform,
		SampleRate: rate,
		Language:   c.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %d samples: %w", len(waveform), err)
	}
	return strings.TrimSpace(text), nil
}
