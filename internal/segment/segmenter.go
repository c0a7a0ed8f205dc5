// Package segment converts a language model's incremental token stream into
// speakable chunks at safe punctuation boundaries.
//
// Sentence terminators (. ! ?) emit immediately. Clause separators (, ; :)
// emit only when the clause is long enough and does not end mid-thought.
// Punctuation is the only emission trigger — there is no time-based forced
// flush, trading a little latency for never truncating mid-word.
package segment

import (
	"strings"
	"sync"
)

// defaultMinClauseWords is the minimum word count for a clause-separator
// emission. Shorter clauses stay buffered until a sentence terminator or
// stream end.
const defaultMinClauseWords = 6

// Words that make a clause boundary read as unfinished: question words,
// articles, linking verbs, prepositions, conjunctions, and bare pronouns.
// A clause ending in one of these waits for more text.
var incompleteClauseEndings = map[string]bool{
	// question words
	"what": true, "who": true, "where": true, "when": true, "why": true,
	"how": true, "which": true, "whose": true,
	// articles
	"a": true, "an": true, "the": true,
	// linking verbs
	"is": true, "are": true, "was": true, "were": true, "am": true,
	"be": true, "been": true, "being": true, "seems": true, "feels": true,
	// prepositions
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "from": true, "by": true, "about": true, "into": true,
	"over": true, "under": true, "between": true, "through": true,
	// conjunctions
	"and": true, "or": true, "but": true, "so": true, "because": true,
	"if": true, "while": true, "although": true, "though": true,
	// bare pronouns
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "him": true, "her": true, "us": true,
	"them": true, "this": true, "that": true, "these": true, "those": true,
}

// Segmenter maintains a rolling buffer over a model's incremental output and
// emits speakable chunks at punctuation boundaries.
//
// All methods are safe for concurrent use, though a Segmenter is normally fed
// by a single stream-reader goroutine.
type Segmenter struct {
	minClauseWords int
	emit           func(string)

	mu  sync.Mutex
	buf strings.Builder
}

// Config configures a [Segmenter].
type Config struct {
	// MinClauseWords is the minimum clause length for a separator emission.
	// Defaults to 6 if zero.
	MinClauseWords int

	// Emit receives each speakable chunk, trimmed. Must be non-nil.
	Emit func(string)
}

// New creates a new [Segmenter] with the given configuration.
func New(cfg Config) *Segmenter {
	min := cfg.MinClauseWords
	if min <= 0 {
		min = defaultMinClauseWords
	}
	return &Segmenter{
		minClauseWords: min,
		emit:           cfg.Emit,
	}
}

// Write appends one increment of model output to the rolling buffer and emits
// any chunks that became speakable.
func (s *Segmenter) Write(delta string) {
	if delta == "" {
		return
	}

	s.mu.Lock()
	s.buf.WriteString(delta)
	chunks := s.drainLocked()
	s.mu.Unlock()

	for _, c := range chunks {
		s.emit(c)
	}
}

// Flush emits any buffered remainder regardless of completeness. Called when
// the model stream ends.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.mu.Unlock()

	if rest != "" {
		s.emit(rest)
	}
}

// drainLocked repeatedly cuts speakable chunks off the front of the buffer.
// Must be called with s.mu held.
func (s *Segmenter) drainLocked() []string {
	var out []string
	text := s.buf.String()

	for {
		cut := s.findCut(text)
		if cut < 0 {
			break
		}
		chunk := strings.TrimSpace(text[:cut])
		text = text[cut:]
		if chunk != "" {
			out = append(out, chunk)
		}
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return out
}

// findCut returns the index just past the first emission boundary in text,
// or -1 if nothing is speakable yet.
func (s *Segmenter) findCut(text string) int {
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			// Keep decimals like "3.5" intact.
			if r == '.' && isDigitBefore(text, i) && isDigitAfter(text, i) {
				continue
			}
			return i + 1
		case ',', ';', ':':
			clause := text[:i]
			if len(strings.Fields(clause)) < s.minClauseWords {
				continue
			}
			if endsIncomplete(clause) {
				continue
			}
			return i + 1
		}
	}
	return -1
}

// endsIncomplete reports whether the clause's final word marks an unfinished
// thought.
func endsIncomplete(clause string) bool {
	fields := strings.Fields(clause)
	if len(fields) == 0 {
		return true
	}
	last := strings.ToLower(strings.Trim(fields[len(fields)-1], "\"'()"))
	return incompleteClauseEndings[last]
}

func isDigitBefore(text string, i int) bool {
	return i > 0 && text[i-1] >= '0' && text[i-1] <= '9'
}

func isDigitAfter(text string, i int) bool {
	return i+1 < len(text) && text[i+1] >= '0' && text[i+1] <= '9'
}
