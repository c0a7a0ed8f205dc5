package utterance

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	// defaultContinuationTimeout is how long an incomplete utterance waits
	// for its follow-up before being emitted as-is.
	defaultContinuationTimeout = 2500 * time.Millisecond

	// defaultWeakWordThreshold is the word count below which a weak
	// incomplete-ending pattern (trailing conjunction/preposition) counts
	// as incomplete. Longer utterances ending in such words are usually
	// complete thoughts.
	defaultWeakWordThreshold = 8
)

// Strong incomplete-ending patterns mark an utterance incomplete regardless
// of length: a trailing copula or contraction ("I'm", "it's", "we're"), a
// bare article, or a trailing comma.
//
// The split between strong and weak patterns is heuristic and deliberately
// kept as configurable lists; it can misclassify short complete answers.
var defaultStrongIncomplete = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:i'm|i've|i'll|i'd|you're|you've|we're|we've|they're|they've|it's|that's|he's|she's|there's|what's|who's|isn't|aren't|wasn't|don't|doesn't|didn't|can't|won't|wouldn't|couldn't|shouldn't)$`),
	regexp.MustCompile(`(?i)\b(?:is|are|was|were|am|be|been|being)$`),
	regexp.MustCompile(`(?i)\b(?:a|an|the)$`),
	regexp.MustCompile(`,$`),
}

// Weak incomplete-ending patterns only count when the utterance is short:
// trailing conjunctions and prepositions.
var defaultWeakIncomplete = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:and|or|but|so|because|if|when|while|although|though|unless|since)$`),
	regexp.MustCompile(`(?i)\b(?:to|of|in|on|at|for|with|from|by|about|into|over|under|after|before|between|through|during|without)$`),
}

// Continuation adverbs: an utterance starting with one of these reads as a
// continuation of the previous turn even when capitalised by the STT.
var defaultContinuationStarters = []string{
	"and", "or", "but", "so", "also", "plus", "then", "because",
	"although", "though", "however", "meanwhile", "anyway", "actually",
	"especially", "like",
}

// Merger detects linguistically incomplete utterances and merges them with a
// timely follow-up from the same speaker. Speakers pause mid-sentence often
// enough that the [Aggregator]'s debounce alone splits turns like
// "I need a" / "cookie"; the Merger stitches those back together.
//
// Every utterance passed to [Merger.Process] is eventually emitted exactly
// once, merged or stand-alone.
//
// All methods are safe for concurrent use.
type Merger struct {
	timeout       time.Duration
	weakThreshold int
	strong        []*regexp.Regexp
	weak          []*regexp.Regexp
	starters      []string
	emit          func(Utterance)

	mu      sync.Mutex
	buffers map[string]*continuationBuffer // keyed by speaker ID
	closed  bool
}

// continuationBuffer holds one speaker's incomplete utterance awaiting a
// follow-up.
type continuationBuffer struct {
	utt        Utterance
	incomplete bool
	bufferedAt time.Time
	timer      *time.Timer
}

// MergerConfig configures a [Merger].
type MergerConfig struct {
	// Timeout is both the merge window and how long an incomplete utterance
	// is held before emitting as-is. Defaults to 2.5 seconds if zero.
	Timeout time.Duration

	// WeakWordThreshold is the word count below which weak incomplete-ending
	// patterns apply. Defaults to 8 if zero.
	WeakWordThreshold int

	// StrongIncomplete overrides the strong incomplete-ending patterns.
	StrongIncomplete []*regexp.Regexp

	// WeakIncomplete overrides the weak incomplete-ending patterns.
	WeakIncomplete []*regexp.Regexp

	// ContinuationStarters overrides the continuation-adverb list.
	ContinuationStarters []string

	// Emit receives each completed utterance. Must be non-nil.
	Emit func(Utterance)
}

// NewMerger creates a new [Merger] with the given configuration.
func NewMerger(cfg MergerConfig) *Merger {
	m := &Merger{
		timeout:       cfg.Timeout,
		weakThreshold: cfg.WeakWordThreshold,
		strong:        cfg.StrongIncomplete,
		weak:          cfg.WeakIncomplete,
		starters:      cfg.ContinuationStarters,
		emit:          cfg.Emit,
		buffers:       make(map[string]*continuationBuffer),
	}
	if m.timeout <= 0 {
		m.timeout = defaultContinuationTimeout
	}
	if m.weakThreshold <= 0 {
		m.weakThreshold = defaultWeakWordThreshold
	}
	if m.strong == nil {
		m.strong = defaultStrongIncomplete
	}
	if m.weak == nil {
		m.weak = defaultWeakIncomplete
	}
	if m.starters == nil {
		m.starters = defaultContinuationStarters
	}
	return m
}

// Process evaluates one aggregated utterance. Complete utterances are emitted
// immediately; incomplete ones are buffered awaiting a follow-up within the
// merge window.
func (m *Merger) Process(utt Utterance) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var out []Utterance

	buf, pending := m.buffers[utt.SpeakerID]
	if pending {
		buf.timer.Stop()
		delete(m.buffers, utt.SpeakerID)

		inWindow := time.Since(buf.bufferedAt) <= m.timeout
		if inWindow && (m.looksContinuation(utt.Text) || buf.incomplete) {
			merged := buf.utt
			merged.Text = merged.Text + " " + utt.Text
			merged.Confidence = (merged.Confidence + utt.Confidence) / 2

			if m.looksIncomplete(merged.Text) {
				m.buffer(merged)
			} else {
				out = append(out, merged)
			}
			m.mu.Unlock()
			for _, u := range out {
				m.emit(u)
			}
			return
		}

		// No merge applies: the old buffer flushes as-is.
		out = append(out, buf.utt)
	}

	// Evaluate the new utterance fresh.
	if m.looksIncomplete(utt.Text) {
		m.buffer(utt)
	} else {
		out = append(out, utt)
	}
	m.mu.Unlock()

	for _, u := range out {
		m.emit(u)
	}
}

// Close cancels all pending timers and discards buffered utterances without
// emitting them. After Close, Process is a no-op. Safe to call multiple times.
func (m *Merger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, buf := range m.buffers {
		buf.timer.Stop()
		delete(m.buffers, id)
	}
}

// buffer holds utt awaiting a follow-up. Must be called with m.mu held.
func (m *Merger) buffer(utt Utterance) {
	buf := &continuationBuffer{
		utt:        utt,
		incomplete: true,
		bufferedAt: time.Now(),
	}
	buf.timer = time.AfterFunc(m.timeout, func() { m.expire(utt.SpeakerID, buf) })
	m.buffers[utt.SpeakerID] = buf
}

// expire is the continuation-timeout callback: no follow-up arrived, so the
// buffered utterance is emitted as-is.
func (m *Merger) expire(speakerID string, buf *continuationBuffer) {
	m.mu.Lock()
	cur, ok := m.buffers[speakerID]
	if ok && cur == buf {
		delete(m.buffers, speakerID)
	} else {
		ok = false
	}
	closed := m.closed
	m.mu.Unlock()

	if ok && !closed {
		m.emit(buf.utt)
	}
}

// looksIncomplete reports whether text reads as an unfinished thought.
// Strong patterns apply regardless of length; weak patterns only when the
// utterance is shorter than the weak word threshold.
func (m *Merger) looksIncomplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, re := range m.strong {
		if re.MatchString(trimmed) {
			return true
		}
	}
	if len(strings.Fields(trimmed)) >= m.weakThreshold {
		return false
	}
	for _, re := range m.weak {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// looksContinuation reports whether text reads as a continuation of a prior
// turn: it starts lowercase or with a known continuation adverb.
func (m *Merger) looksContinuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	first := []rune(trimmed)[0]
	if unicode.IsLower(first) {
		return true
	}
	fields := strings.Fields(strings.ToLower(trimmed))
	for _, s := range m.starters {
		if fields[0] == s {
			return true
		}
	}
	return false
}
