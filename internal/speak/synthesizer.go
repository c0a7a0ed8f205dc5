// Package speak turns accepted reply chunks into ordered audible output.
//
// Chunks synthesize concurrently (no chunk waits on an earlier one) but play
// back strictly in submission order: each chunk gets a monotonically
// increasing generation id, finished audio is staged in a reordering buffer,
// and an ordered drain moves any ready in-order prefix onto the sequential
// [PlaybackQueue], stopping at the first gap. A failed chunk is removed from
// the order without inserting audio, so the drain continues past it instead
// of blocking forever.
package speak

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelark/voicelark/internal/observe"
	"github.com/voicelark/voicelark/pkg/audio"
	"github.com/voicelark/voicelark/pkg/provider/tts"
)

// errAudioDropped marks synthesis output the format converter had to discard.
var errAudioDropped = errors.New("speak: synthesized audio dropped by format conversion")

// taskState tracks one chunk through synthesis.
type taskState int

const (
	taskPending taskState = iota
	taskReady
	taskFailed
)

// task is one chunk's synthesis record in the reordering buffer.
type task struct {
	state taskState
	audio []byte
}

// Synthesizer coordinates parallel synthesis and ordered playback for one
// voice session.
//
// All methods are safe for concurrent use.
type Synthesizer struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	queue    *PlaybackQueue
	conv     *audio.FormatConverter
	metrics  *observe.Metrics

	mu     sync.Mutex
	nextID uint64
	order  []uint64 // generation ids awaiting drain, ascending
	tasks  map[uint64]*task
	closed bool
}

// Config configures a [Synthesizer].
type Config struct {
	// Provider performs speech synthesis. Must be non-nil.
	Provider tts.Provider

	// Voice selects the assistant's voice profile.
	Voice tts.VoiceProfile

	// Queue receives ready audio in generation-id order. Must be non-nil.
	Queue *PlaybackQueue

	// Output is the playback format synthesized audio is converted to.
	// Zero means 48 kHz stereo.
	Output audio.Format

	// Metrics receives synthesis instrumentation. If nil the package-level
	// default is used.
	Metrics *observe.Metrics
}

// New creates a new [Synthesizer] with the given configuration.
func New(cfg Config) *Synthesizer {
	output := cfg.Output
	if output == (audio.Format{}) {
		output = audio.Format{SampleRate: 48000, Channels: 2}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Synthesizer{
		provider: cfg.Provider,
		voice:    cfg.Voice,
		queue:    cfg.Queue,
		conv:     &audio.FormatConverter{Target: output},
		metrics:  metrics,
		tasks:    make(map[uint64]*task),
	}
}

// Speak assigns text the next generation id and starts synthesis immediately.
// The resulting audio plays only after all earlier ids have played or failed.
func (s *Synthesizer) Speak(ctx context.Context, text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.nextID++
	id := s.nextID
	s.order = append(s.order, id)
	s.tasks[id] = &task{state: taskPending}
	s.mu.Unlock()

	go s.synthesize(ctx, id, text)
}

// Pending returns the number of chunks not yet drained to playback.
func (s *Synthesizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Close discards all in-flight synthesis results. Audio already handed to the
// playback queue is unaffected. Safe to call multiple times.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.order = nil
	s.tasks = make(map[uint64]*task)
}

// synthesize renders one chunk, converts it to the playback format, and
// triggers the ordered drain.
func (s *Synthesizer) synthesize(ctx context.Context, id uint64, text string) {
	started := time.Now()
	pcm, err := s.provider.Synthesize(ctx, text, s.voice)
	s.metrics.SynthesisDuration.Record(ctx, time.Since(started).Seconds())

	if err == nil {
		pcm = s.conv.Convert(pcm, s.provider.OutputFormat())
		if len(pcm) == 0 {
			err = errAudioDropped
		}
	}

	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		// Discarded by Close while synthesis was in flight.
		s.mu.Unlock()
		return
	}
	if err != nil {
		t.state = taskFailed
		slog.Warn("speak: synthesis failed, skipping chunk",
			"generation_id", id,
			"error", err,
		)
	} else {
		t.state = taskReady
		t.audio = pcm
	}
	ready := s.drainLocked()
	s.mu.Unlock()

	for _, pcm := range ready {
		s.queue.Enqueue(pcm)
	}
}

// drainLocked pops the longest prefix of finished generation ids off the
// order list, returning ready audio in order and dropping failed entries.
// Stops at the first still-pending id. Must be called with s.mu held.
func (s *Synthesizer) drainLocked() [][]byte {
	var ready [][]byte
	for len(s.order) > 0 {
		id := s.order[0]
		t := s.tasks[id]
		if t == nil || t.state == taskPending {
			break
		}
		s.order = s.order[1:]
		delete(s.tasks, id)
		if t.state == taskReady {
			ready = append(ready, t.audio)
		}
	}
	return ready
}
