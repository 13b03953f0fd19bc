package cycle

import (
	"errors"
	"fmt"

	"github.com/rbright/aeris/internal/audio"
)

var (
	// ErrCycleInFlight rejects a RunCycle while another cycle holds the pipeline.
	ErrCycleInFlight = errors.New("assistant cycle already in flight")
	// ErrInvariant marks a broken internal guarantee. It is the only error
	// that ends Run.
	ErrInvariant = errors.New("invariant violation")
	// ErrGraceExceeded reports a stage that did not return within the grace timeout.
	ErrGraceExceeded = errors.New("stage did not stop within grace timeout")
)

// Engine stages named in EngineError.
const (
	StageWake          = "wake"
	StageTranscription = "transcription"
	StageReply         = "reply"
	StageSpeech        = "speech"
)

// EngineError is a failure or timeout of an external collaborator. It
// degrades the cycle and never stops the loop.
type EngineError struct {
	Stage string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s engine: %v", e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// invariantError promotes a device ownership conflict to a fatal invariant
// violation; other errors pass through unchanged.
func invariantError(err error) error {
	if err == nil || errors.Is(err, ErrInvariant) || !errors.Is(err, audio.ErrDeviceBusy) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvariant, err)
}
