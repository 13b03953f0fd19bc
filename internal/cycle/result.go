package cycle

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/aeris/internal/fsm"
)

// Outcome classifies how one cycle ended.
type Outcome string

const (
	OutcomeSpoken    Outcome = "spoken"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeNoInput   Outcome = "no_input"
	OutcomeNoReply   Outcome = "no_reply"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFatal     Outcome = "fatal"
)

// Result is the complete output of one RunCycle.
type Result struct {
	ID      uuid.UUID
	Outcome Outcome
	State   fsm.State

	Keyword   int
	Prompt    string
	Reply     string
	Fragments int
	Skipped   int
	// Attempts counts device opens across both stages, retries included.
	Attempts int

	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock span of the cycle.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func logCycleResult(logger *slog.Logger, result Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"cycle_id", result.ID.String(),
		"outcome", result.Outcome,
		"state", result.State,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.Duration().Milliseconds(),
		"device_attempts", result.Attempts,
		"fragments", result.Fragments,
		"skipped_fragments", result.Skipped,
		"prompt_length", len(result.Prompt),
		"reply_length", len(result.Reply),
	}

	if result.Err != nil {
		var engineErr *EngineError
		if errors.As(result.Err, &engineErr) {
			fields = append(fields, "stage", engineErr.Stage)
		}
		logger.Error("cycle failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("cycle complete", fields...)
}
