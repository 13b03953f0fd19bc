package wake

import "context"

// Engine opens wake-word detectors at a fixed native frame shape.
type Engine interface {
	Open(ctx context.Context) (Detector, error)
	// FrameLength is the number of samples Process expects per call.
	FrameLength() int
	// SampleRate is the native analysis rate of the detector.
	SampleRate() int
}

// Detector scores one frame at a time. Process returns the index of the
// detected keyword, or a negative value when nothing was heard.
type Detector interface {
	Process(ctx context.Context, frame []int16) (int, error)
	Close() error
}
