package utterance

import (
	"strings"
	"sync"
	"time"
)

// defaultDebounce is how long a speaker must stay quiet before their buffered
// fragments are emitted as one utterance.
const defaultDebounce = 1200 * time.Millisecond

// Aggregator collapses consecutive final STT fragments from one spoken turn
// into a single [Utterance]. Streaming STT providers routinely split a turn
// into several "final" results; emitting each separately would produce
// fragment replies.
//
// Each final fragment cancels the speaker's pending flush timer, appends
// (space-joined) to their buffer, and restarts the debounce timer. When the
// timer fires the buffer is emitted and cleared. Interim results must be
// filtered out by the caller before reaching the Aggregator.
//
// All methods are safe for concurrent use.
type Aggregator struct {
	debounce time.Duration
	emit     func(Utterance)

	mu      sync.Mutex
	buffers map[string]*transcriptBuffer // keyed by speaker ID
	closed  bool
}

// transcriptBuffer accumulates one speaker's in-progress turn.
type transcriptBuffer struct {
	speakerID   string
	displayName string
	parts       []string
	confSum     float64
	started     time.Time
	timer       *time.Timer
}

// AggregatorConfig configures an [Aggregator].
type AggregatorConfig struct {
	// Debounce is the quiet period before a buffer flushes.
	// Defaults to 1.2 seconds if zero.
	Debounce time.Duration

	// Emit receives each completed utterance. Must be non-nil.
	// Called from a timer goroutine; implementations must not block for long.
	Emit func(Utterance)
}

// NewAggregator creates a new [Aggregator] with the given configuration.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Aggregator{
		debounce: debounce,
		emit:     cfg.Emit,
		buffers:  make(map[string]*transcriptBuffer),
	}
}

// Add records one final transcript fragment for the given speaker and
// restarts their debounce timer. Empty fragments are ignored.
func (a *Aggregator) Add(speakerID, displayName, text string, confidence float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	buf, ok := a.buffers[speakerID]
	if !ok {
		buf = &transcriptBuffer{
			speakerID:   speakerID,
			displayName: displayName,
			started:     time.Now(),
		}
		a.buffers[speakerID] = buf
	} else {
		buf.timer.Stop()
	}

	buf.displayName = displayName
	buf.parts = append(buf.parts, text)
	buf.confSum += confidence
	buf.timer = time.AfterFunc(a.debounce, func() { a.flush(speakerID) })
}

// Flush immediately emits any buffered fragments for the given speaker,
// cancelling their pending timer. A no-op if nothing is buffered.
func (a *Aggregator) Flush(speakerID string) {
	a.mu.Lock()
	buf, ok := a.buffers[speakerID]
	if ok {
		buf.timer.Stop()
		delete(a.buffers, speakerID)
	}
	a.mu.Unlock()

	if ok {
		a.emit(buf.utterance())
	}
}

// Close cancels all pending timers and discards all buffered fragments.
// After Close, Add is a no-op. Safe to call multiple times.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, buf := range a.buffers {
		buf.timer.Stop()
		delete(a.buffers, id)
	}
}

// flush is the debounce-timer callback: emit and clear the speaker's buffer.
func (a *Aggregator) flush(speakerID string) {
	a.mu.Lock()
	buf, ok := a.buffers[speakerID]
	if ok {
		delete(a.buffers, speakerID)
	}
	closed := a.closed
	a.mu.Unlock()

	if ok && !closed {
		a.emit(buf.utterance())
	}
}

// utterance materialises the buffer into an [Utterance].
func (b *transcriptBuffer) utterance() Utterance {
	return Utterance{
		SpeakerID:   b.speakerID,
		DisplayName: b.displayName,
		Text:        strings.Join(b.parts, " "),
		Confidence:  b.confSum / float64(len(b.parts)),
		Timestamp:   b.started,
	}
}
