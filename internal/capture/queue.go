package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/aeris/internal/audio"
)

const defaultQueueCapacity = 5

// Chunk is one fixed-duration round of raw device samples.
type Chunk struct {
	Seq        int
	Samples    []int16
	Rate       int
	CapturedAt time.Time
}

// Peak is the largest absolute sample in the chunk.
func (c Chunk) Peak() int {
	return audio.Peak(c.Samples)
}

// Queue is the bounded FIFO between one producer and one consumer. Push blocks
// while the queue is full; nothing is ever dropped.
//
// Only the producer may Close, and it must not Push afterwards.
type Queue struct {
	ch        chan Chunk
	closeOnce sync.Once
	highWater atomic.Int32
}

// NewQueue builds a queue; capacity <= 0 uses 5.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{ch: make(chan Chunk, capacity)}
}

// Push enqueues c, waiting for room until ctx is done.
func (q *Queue) Push(ctx context.Context, c Chunk) error {
	select {
	case q.ch <- c:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits for the next chunk. ok is false once the queue is closed and drained.
func (q *Queue) Pop(ctx context.Context) (c Chunk, ok bool, err error) {
	select {
	case c, ok = <-q.ch:
		return c, ok, nil
	case <-ctx.Done():
		return Chunk{}, false, ctx.Err()
	}
}

// Close marks the end of production.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Discard drops whatever is still buffered and reports how many chunks were lost.
// It must only be called after the producer has stopped.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case _, ok := <-q.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

// HighWater is the largest length observed right after a Push.
func (q *Queue) HighWater() int { return int(q.highWater.Load()) }

func (q *Queue) observe() {
	n := int32(len(q.ch))
	for {
		prev := q.highWater.Load()
		if n <= prev || q.highWater.CompareAndSwap(prev, n) {
			return
		}
	}
}
