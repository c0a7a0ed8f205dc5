// Package perception is the session-scoped output gate: it rejects
// malformed, garbled, or duplicate reply chunks before synthesis and
// throttles bursts of reply generations.
//
// A perception session corresponds to one coordinator-triggered generation.
// It is started explicitly, and ends on completion, error, or after an idle
// timeout. Rejected chunks are dropped silently — voice UX favors silence
// over audible glitches.
package perception

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultIdleTimeout   = 10 * time.Second
	defaultSentenceCap   = 15
	defaultHistorySize   = 10
	defaultDuplicateSim  = 0.85
	defaultBurstStarts   = 4
	defaultBurstWindow   = 10 * time.Second
	defaultBurstCooldown = 5 * time.Second

	minChunkLen = 2
	maxChunkLen = 2000
)

// garbagePatterns match model output that should never be spoken: error
// dumps, markup, code fences, and raw structural characters.
var garbagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*error[:\s]`),
	regexp.MustCompile(`(?i)\b(?:internal|api|http) error\b`),
	regexp.MustCompile("```"),
	regexp.MustCompile(`[{}<>|\\]`),
	regexp.MustCompile(`https?://`),
}

// fragmentPatterns match chunks that are leftover stream debris rather than
// speakable text.
var fragmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[.,;:!?'"\-\s]+$`),
	regexp.MustCompile(`^\.{3}`),
	regexp.MustCompile(`(?i)^(?:and|but|or|the|a|an)[.!?]?$`),
}

// Filter gates reply chunks for one voice session.
//
// All methods are safe for concurrent use.
type Filter struct {
	idleTimeout   time.Duration
	sentenceCap   int
	historySize   int
	duplicateSim  float64
	burstStarts   int
	burstWindow   time.Duration
	burstCooldown time.Duration

	mu            sync.Mutex
	active        bool
	sentenceCount int
	idleTimer     *time.Timer
	history       [][]string // word sets of recent accepted chunks, oldest first
	starts        []time.Time
	cooldownUntil time.Time
	closed        bool
}

// Config configures a [Filter]. Zero values select defaults.
type Config struct {
	// IdleTimeout ends a session that stops producing chunks. Default 10s.
	IdleTimeout time.Duration

	// SentenceCap is the maximum accepted chunks per session. Default 15.
	SentenceCap int

	// HistorySize is how many recent accepted chunks the duplicate check
	// compares against. Default 10.
	HistorySize int

	// DuplicateSimilarity is the Jaccard word-set similarity at or above
	// which a chunk counts as a near-duplicate. Default 0.85.
	DuplicateSimilarity float64

	// BurstStarts is how many session starts within BurstWindow trigger the
	// burst cooldown. Default 4.
	BurstStarts int

	// BurstWindow is the sliding window for burst detection. Default 10s.
	BurstWindow time.Duration

	// BurstCooldown is how long chunks are rejected outright after a burst.
	// Default 5s.
	BurstCooldown time.Duration
}

// New creates a new [Filter] with the given configuration.
func New(cfg Config) *Filter {
	f := &Filter{
		idleTimeout:   cfg.IdleTimeout,
		sentenceCap:   cfg.SentenceCap,
		historySize:   cfg.HistorySize,
		duplicateSim:  cfg.DuplicateSimilarity,
		burstStarts:   cfg.BurstStarts,
		burstWindow:   cfg.BurstWindow,
		burstCooldown: cfg.BurstCooldown,
	}
	if f.idleTimeout <= 0 {
		f.idleTimeout = defaultIdleTimeout
	}
	if f.sentenceCap <= 0 {
		f.sentenceCap = defaultSentenceCap
	}
	if f.historySize <= 0 {
		f.historySize = defaultHistorySize
	}
	if f.duplicateSim <= 0 {
		f.duplicateSim = defaultDuplicateSim
	}
	if f.burstStarts <= 0 {
		f.burstStarts = defaultBurstStarts
	}
	if f.burstWindow <= 0 {
		f.burstWindow = defaultBurstWindow
	}
	if f.burstCooldown <= 0 {
		f.burstCooldown = defaultBurstCooldown
	}
	return f
}

// StartSession begins a new perception session for one reply generation and
// records the start in the burst tracker. Starting while a session is active
// ends the previous one first.
func (f *Filter) StartSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	now := time.Now()
	f.starts = append(f.starts, now)
	f.pruneStartsLocked(now)
	if len(f.starts) >= f.burstStarts {
		// Trip only on the transition: clear the tracker so starts during or
		// after the cooldown don't keep re-arming it.
		f.cooldownUntil = now.Add(f.burstCooldown)
		f.starts = f.starts[:0]
	}

	f.active = true
	f.sentenceCount = 0
	f.resetIdleTimerLocked()
}

// EndSession ends the active session. It does not reset the burst clock.
func (f *Filter) EndSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSessionLocked()
}

// Active reports whether a perception session is currently open.
func (f *Filter) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Check evaluates one chunk. The first failing check wins; accepted chunks
// count against the session's sentence cap and join the duplicate history.
// Reason names the failed check for logging and is empty on acceptance.
func (f *Filter) Check(chunk string) (ok bool, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if now.Before(f.cooldownUntil) {
		return false, "burst-cooldown"
	}
	if !f.active {
		return false, "no-session"
	}

	trimmed := strings.TrimSpace(chunk)
	if trimmed == "" {
		return false, "empty"
	}
	if len(trimmed) < minChunkLen || len(trimmed) > maxChunkLen {
		return false, "length"
	}
	words := strings.Fields(trimmed)
	if len(words) < 2 {
		return false, "word-count"
	}
	for _, re := range garbagePatterns {
		if re.MatchString(trimmed) {
			return false, "garbage"
		}
	}
	if longestRun(trimmed) >= 6 {
		return false, "garbage"
	}
	for _, re := range fragmentPatterns {
		if re.MatchString(trimmed) {
			return false, "fragment"
		}
	}
	if f.sentenceCount >= f.sentenceCap {
		return false, "sentence-cap"
	}

	set := wordSet(words)
	for _, prev := range f.history {
		if jaccard(set, prev) >= f.duplicateSim {
			return false, "duplicate"
		}
	}

	f.sentenceCount++
	f.history = append(f.history, set)
	if len(f.history) > f.historySize {
		f.history = f.history[1:]
	}
	f.resetIdleTimerLocked()
	return true, ""
}

// Close ends any active session, cancels timers, and clears history. After
// Close the filter rejects everything. Safe to call multiple times.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.endSessionLocked()
	f.history = nil
	f.starts = nil
	f.cooldownUntil = time.Time{}
}

// endSessionLocked stops the idle timer and marks the session closed.
// Must be called with f.mu held.
func (f *Filter) endSessionLocked() {
	f.active = false
	if f.idleTimer != nil {
		f.idleTimer.Stop()
		f.idleTimer = nil
	}
}

// resetIdleTimerLocked (re)arms the idle timeout. Must be called with
// f.mu held.
func (f *Filter) resetIdleTimerLocked() {
	if f.idleTimer != nil {
		f.idleTimer.Stop()
	}
	f.idleTimer = time.AfterFunc(f.idleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.endSessionLocked()
	})
}

// pruneStartsLocked drops burst-tracker entries older than the window.
// Must be called with f.mu held.
func (f *Filter) pruneStartsLocked(now time.Time) {
	cutoff := now.Add(-f.burstWindow)
	i := 0
	for i < len(f.starts) && f.starts[i].Before(cutoff) {
		i++
	}
	f.starts = f.starts[i:]
}

// wordSet builds the lowercase word set of a chunk.
func wordSet(words []string) []string {
	seen := make(map[string]bool, len(words))
	var set []string
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?;:'\""))
		if w != "" && !seen[w] {
			seen[w] = true
			set = append(set, w)
		}
	}
	return set
}

// jaccard computes the Jaccard similarity of two word sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inA := make(map[string]bool, len(a))
	for _, w := range a {
		inA[w] = true
	}
	inter := 0
	for _, w := range b {
		if inA[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// longestRun returns the length of the longest run of one repeated character.
func longestRun(s string) int {
	best, cur := 0, 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			cur++
		} else {
			cur = 1
		}
		if cur > best {
			best = cur
		}
		prev = r
	}
	return best
}
