package wake

import (
	"context"
	"errors"
	"sync"

	"github.com/rbright/aeris/internal/speechrpc"
	"google.golang.org/grpc"
)

// RemoteConfig shapes the detection stream opened on the speech sidecar.
type RemoteConfig struct {
	FrameLength int
	SampleRate  int
	Sensitivity float64
}

// RemoteEngine scores frames on the sidecar's Detect stream.
type RemoteEngine struct {
	conn grpc.ClientConnInterface
	cfg  RemoteConfig
}

// NewRemoteEngine builds an engine over an established sidecar connection.
func NewRemoteEngine(conn grpc.ClientConnInterface, cfg RemoteConfig) *RemoteEngine {
	return &RemoteEngine{conn: conn, cfg: cfg}
}

func (e *RemoteEngine) FrameLength() int { return e.cfg.FrameLength }

func (e *RemoteEngine) SampleRate() int { return e.cfg.SampleRate }

// Open starts one Detect stream. The stream is torn down by Close or when ctx
// is cancelled.
func (e *RemoteEngine) Open(ctx context.Context) (Detector, error) {
	if e.conn == nil {
		return nil, errors.New("wake engine has no sidecar connection")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := speechrpc.OpenDetect(streamCtx, e.conn, speechrpc.DetectConfig{
		SampleRate:  e.cfg.SampleRate,
		FrameLength: e.cfg.FrameLength,
		Sensitivity: e.cfg.Sensitivity,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &remoteDetector{stream: stream, cancel: cancel}, nil
}

type remoteDetector struct {
	stream *speechrpc.DetectStream
	cancel context.CancelFunc

	mu        sync.Mutex
	closeOnce sync.Once
}

func (d *remoteDetector) Process(ctx context.Context, frame []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	index, err := d.stream.Process(frame)
	if err != nil && ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return index, err
}

func (d *remoteDetector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.stream.CloseSend()
		d.cancel()
	})
	return err
}
