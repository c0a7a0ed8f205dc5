package gatekeeper

import (
	"regexp"
	"strings"
	"time"
)

// verdict is the outcome of evaluating one rule against an utterance.
type verdict int

const (
	// verdictSkip means the rule did not match; evaluation continues.
	verdictSkip verdict = iota

	// verdictRespond short-circuits to a positive decision.
	verdictRespond

	// verdictReject short-circuits to a negative decision.
	verdictReject
)

// rule pairs a human-readable name with a predicate over one utterance.
// Rules are evaluated in priority order; the first non-skip verdict wins.
// Keeping them as an explicit named list keeps each independently testable.
type rule struct {
	name string
	eval func(g *Gatekeeper, req Request) verdict
}

// fillerWords are standalone acknowledgements that never warrant a reply on
// their own.
var fillerWords = map[string]bool{
	"yeah": true, "yep": true, "yes": true, "no": true, "nope": true,
	"ok": true, "okay": true, "hmm": true, "hm": true, "uh": true,
	"um": true, "uhh": true, "umm": true, "mhm": true, "mm": true,
	"right": true, "sure": true, "cool": true, "nice": true, "wow": true,
	"lol": true, "haha": true, "oh": true, "ah": true, "alright": true,
}

// sideChatPatterns match casual speaker-to-speaker chatter that is clearly
// not addressed to the assistant.
var sideChatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:one )?(?:sec|second|moment)\b`),
	regexp.MustCompile(`(?i)^(?:be right back|brb|gotta go|i'?m back)\b`),
	regexp.MustCompile(`(?i)^(?:hold on|hang on|wait up)\b`),
	regexp.MustCompile(`(?i)\b(?:talking to you|not you)\b.*\b(?:bot|bro|dude|man)\b`),
	regexp.MustCompile(`(?i)^(?:anyway|as i was saying)\b`),
}

// defaultRules returns the built-in priority-ordered rule list: accept fast
// paths first, then deterministic rejects. Utterances surviving all rules
// fall through to the cached LLM classification.
func defaultRules() []rule {
	return []rule{
		{
			// A lone human in the channel can only be talking to the
			// assistant. No classification, no network.
			name: "single-participant",
			eval: func(_ *Gatekeeper, req Request) verdict {
				if req.HumanCount <= 1 {
					return verdictRespond
				}
				return verdictSkip
			},
		},
		{
			// Addressed by name, anywhere in the text.
			name: "name-mention",
			eval: func(g *Gatekeeper, req Request) verdict {
				if mentionsName(req.Text, g.assistantName) {
					return verdictRespond
				}
				return verdictSkip
			},
		},
		{
			// The assistant just spoke: treat a substantial follow-up as part
			// of the ongoing exchange when the assistant asked a question or
			// the same speaker is continuing.
			name: "conversational-window",
			eval: func(g *Gatekeeper, req Request) verdict {
				last, ok := g.lastReply()
				if !ok || time.Since(last.at) > g.conversationWindow {
					return verdictSkip
				}
				if wordCount(req.Text) < 3 || isPureFiller(req.Text) {
					return verdictSkip
				}
				if strings.HasSuffix(strings.TrimSpace(last.line), "?") ||
					namesSimilar(req.SpeakerName, last.addressee) {
					return verdictRespond
				}
				return verdictSkip
			},
		},
		{
			name: "pure-filler",
			eval: func(_ *Gatekeeper, req Request) verdict {
				if isPureFiller(req.Text) {
					return verdictReject
				}
				return verdictSkip
			},
		},
		{
			name: "side-chat",
			eval: func(_ *Gatekeeper, req Request) verdict {
				for _, re := range sideChatPatterns {
					if re.MatchString(req.Text) {
						return verdictReject
					}
				}
				return verdictSkip
			},
		},
		{
			// STT loops sometimes produce "no no no no no" style spam.
			name: "repeated-word-spam",
			eval: func(_ *Gatekeeper, req Request) verdict {
				if isRepeatedWordSpam(req.Text) {
					return verdictReject
				}
				return verdictSkip
			},
		},
		{
			name: "near-empty",
			eval: func(_ *Gatekeeper, req Request) verdict {
				if alphanumericCount(req.Text) < 2 {
					return verdictReject
				}
				return verdictSkip
			},
		},
		{
			name: "bare-number",
			eval: func(_ *Gatekeeper, req Request) verdict {
				if isBareNumber(req.Text) {
					return verdictReject
				}
				return verdictSkip
			},
		},
		{
			// Two-word non-question fragments that don't address the
			// assistant are near-certain side chatter.
			name: "short-fragment",
			eval: func(g *Gatekeeper, req Request) verdict {
				if wordCount(req.Text) == 2 &&
					!strings.Contains(req.Text, "?") &&
					!mentionsName(req.Text, g.assistantName) {
					return verdictReject
				}
				return verdictSkip
			},
		},
		{
			// A single word with no recent assistant interaction carries no
			// addressable intent.
			name: "single-word",
			eval: func(g *Gatekeeper, req Request) verdict {
				if wordCount(req.Text) != 1 {
					return verdictSkip
				}
				if _, ok := g.lastReply(); ok {
					return verdictSkip
				}
				return verdictReject
			},
		},
	}
}

// isPureFiller reports whether every word of text is a filler word.
func isPureFiller(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if !fillerWords[strings.Trim(f, ".,!?")] {
			return false
		}
	}
	return true
}

// isRepeatedWordSpam reports whether text is one word repeated three or more
// times with nothing else.
func isRepeatedWordSpam(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) < 3 {
		return false
	}
	first := strings.Trim(fields[0], ".,!?")
	for _, f := range fields[1:] {
		if strings.Trim(f, ".,!?") != first {
			return false
		}
	}
	return true
}

var bareNumberRe = regexp.MustCompile(`^[\d\s.,%-]+$`)

// isBareNumber reports whether text contains only digits and numeric
// punctuation.
func isBareNumber(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed != "" && bareNumberRe.MatchString(trimmed)
}

// wordCount counts whitespace-separated words.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// alphanumericCount counts letters and digits in text.
func alphanumericCount(text string) int {
	n := 0
	for _, r := range text {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			n++
		}
	}
	return n
}
