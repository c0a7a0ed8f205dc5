// Package coordinator enforces single-flight reply generation per voice
// session with a coalescing queue.
//
// At most one reply generation is ever in flight: utterances arriving while
// one is in progress, or within a short cooldown after one completes, are
// queued and later flushed as a single space-joined utterance. Coalesced text
// is not re-run through the gatekeeper — it already passed once.
package coordinator

import (
	"strings"
	"sync"
	"time"

	"github.com/voicelark/voicelark/internal/utterance"
)

const (
	// defaultCooldown is the pause after a completed generation during which
	// new utterances queue instead of starting immediately.
	defaultCooldown = 3 * time.Second

	// defaultFlushDelay is how long queued utterances wait before being
	// combined and reprocessed.
	defaultFlushDelay = 2 * time.Second
)

// Coordinator serialises reply generations for one voice session.
//
// The start callback must kick off generation asynchronously and return
// promptly; the caller signals completion (success or error) via
// [Coordinator.Release].
//
// All methods are safe for concurrent use.
type Coordinator struct {
	cooldown   time.Duration
	flushDelay time.Duration
	start      func(utterance.Utterance)

	mu         sync.Mutex
	inProgress bool
	lastDone   time.Time
	queued     []string
	queuedUtt  utterance.Utterance // metadata of the most recent queued turn
	flushTimer *time.Timer
	closed     bool
}

// Config configures a [Coordinator].
type Config struct {
	// Cooldown is the quiet period after a completed generation.
	// Defaults to 3 seconds if zero.
	Cooldown time.Duration

	// FlushDelay is how long queued utterances wait before flushing.
	// Defaults to 2 seconds if zero.
	FlushDelay time.Duration

	// Start kicks off one reply generation. Must be non-nil and must not
	// block: generation runs elsewhere and completion is reported via
	// [Coordinator.Release].
	Start func(utterance.Utterance)
}

// New creates a new [Coordinator] with the given configuration.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		cooldown:   cfg.Cooldown,
		flushDelay: cfg.FlushDelay,
		start:      cfg.Start,
	}
	if c.cooldown <= 0 {
		c.cooldown = defaultCooldown
	}
	if c.flushDelay <= 0 {
		c.flushDelay = defaultFlushDelay
	}
	return c
}

// Submit either starts a generation for utt immediately or, when one is in
// progress or the cooldown is active, queues utt for a coalesced follow-up.
func (c *Coordinator) Submit(utt utterance.Utterance) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.inProgress || time.Since(c.lastDone) < c.cooldown {
		c.queued = append(c.queued, utt.Text)
		c.queuedUtt = utt
		c.restartFlushTimerLocked()
		c.mu.Unlock()
		return
	}

	c.inProgress = true
	c.mu.Unlock()

	c.start(utt)
}

// Release marks the current generation finished (success or error), records
// the completion time, and schedules a flush if anything queued up meanwhile.
func (c *Coordinator) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress = false
	c.lastDone = time.Now()
	if len(c.queued) > 0 && !c.closed {
		c.restartFlushTimerLocked()
	}
}

// Busy reports whether a generation is currently in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Close cancels any pending flush and discards the queue. After Close,
// Submit is a no-op. Safe to call multiple times.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.queued = nil
}

// restartFlushTimerLocked (re)arms the flush timer. Must be called with
// c.mu held.
func (c *Coordinator) restartFlushTimerLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	c.flushTimer = time.AfterFunc(c.flushDelay, c.flush)
}

// flush combines all queued texts into one utterance and reprocesses it
// through Submit. If the coordinator is busy again or still cooling down,
// Submit simply re-queues the combined text.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.closed || len(c.queued) == 0 {
		c.mu.Unlock()
		return
	}
	merged := c.queuedUtt
	merged.Text = strings.Join(c.queued, " ")
	c.queued = nil
	c.mu.Unlock()

	c.Submit(merged)
}
