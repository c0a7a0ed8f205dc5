package speak

import (
	"context"
	"log/slog"
	"sync"

	"github.com/voicelark/voicelark/internal/observe"
)

// PlaybackQueue is a FIFO of ready audio buffers consumed by a single worker.
// Buffers play strictly in enqueue order; a play error drops that buffer and
// the worker advances to the next.
//
// All methods are safe for concurrent use.
type PlaybackQueue struct {
	play    func(ctx context.Context, pcm []byte) error
	metrics *observe.Metrics

	mu      sync.Mutex
	items   [][]byte
	playing bool
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewPlaybackQueue creates a queue whose worker renders buffers through play.
// The worker runs until ctx is cancelled or [PlaybackQueue.Close] is called.
// A nil metrics selects the package-level default.
func NewPlaybackQueue(ctx context.Context, play func(ctx context.Context, pcm []byte) error, metrics *observe.Metrics) *PlaybackQueue {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	q := &PlaybackQueue{
		play:    play,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.worker(ctx)
	return q
}

// Enqueue appends one ready audio buffer to the queue.
func (q *PlaybackQueue) Enqueue(pcm []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, pcm)
	q.mu.Unlock()

	q.metrics.PlaybackQueueDepth.Add(context.Background(), 1)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Playing reports whether the worker is currently rendering a buffer.
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Close stops the worker and discards queued buffers. Safe to call multiple
// times.
func (q *PlaybackQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		discarded := len(q.items)
		q.items = nil
		q.mu.Unlock()
		if discarded > 0 {
			q.metrics.PlaybackQueueDepth.Add(context.Background(), -int64(discarded))
		}
		close(q.done)
	})
}

// worker drains the queue one buffer at a time.
func (q *PlaybackQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			pcm := q.items[0]
			q.items = q.items[1:]
			q.playing = true
			q.mu.Unlock()

			q.metrics.PlaybackQueueDepth.Add(ctx, -1)

			if err := q.play(ctx, pcm); err != nil {
				slog.Warn("speak: playback failed", "bytes", len(pcm), "error", err)
			}

			q.mu.Lock()
			q.playing = false
			q.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			default:
			}
		}
	}
}
