// Package gatekeeper decides whether a completed utterance warrants a spoken
// reply from the assistant.
//
// Decisions proceed through a priority-ordered list of named heuristic rules:
// accept fast paths (single human participant, name mention, conversational
// window), then deterministic rejects (filler, side chat, spam, fragments).
// Utterances surviving every rule fall through to a cached LLM classification
// collapsed by singleflight, so concurrent identical questions cost one
// network call. Classification failures fail open — silence is worse than an
// occasional extra reply, which downstream filters mostly catch.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voicelark/voicelark/pkg/provider/llm"
)

const (
	defaultConversationWindow = 15 * time.Second

	// maxClassifyChars bounds the utterance excerpt sent to the classifier.
	maxClassifyChars = 300
)

const classifySystemPrompt = `You decide whether a voice assistant named %q should reply to an utterance overheard in a group voice channel. The utterance may be addressed to the assistant, to another person, or to no one. Answer with exactly one word: YES if the assistant should reply, NO otherwise.`

// Request describes one utterance to be evaluated.
type Request struct {
	// SpeakerID identifies the speaker.
	SpeakerID string

	// SpeakerName is the speaker's display name.
	SpeakerName string

	// Text is the complete utterance text.
	Text string

	// HumanCount is the number of non-bot participants in the voice channel.
	HumanCount int
}

// Decision is the gatekeeper's verdict on one utterance.
type Decision struct {
	// Respond reports whether the assistant should reply.
	Respond bool

	// Rule names the rule that decided, "cache" for a cache hit, or
	// "classifier" when the LLM fallback decided.
	Rule string
}

// replyRecord captures the assistant's most recent spoken line for the
// conversational-window rule.
type replyRecord struct {
	line      string
	addressee string
	at        time.Time
}

// Gatekeeper evaluates utterances against heuristic rules with a cached LLM
// classification fallback.
//
// All methods are safe for concurrent use.
type Gatekeeper struct {
	assistantName      string
	conversationWindow time.Duration
	classifier         llm.Provider
	rules              []rule
	cache              *Cache
	flight             singleflight.Group

	mu   sync.Mutex
	last replyRecord
	ok   bool // last is valid
}

// Config configures a [Gatekeeper].
type Config struct {
	// AssistantName is the name speakers use to address the assistant.
	AssistantName string

	// Classifier performs the LLM fallback classification. If nil, utterances
	// reaching the fallback are accepted (fail-open).
	Classifier llm.Provider

	// ConversationWindow is how long after the assistant speaks that
	// follow-ups pass without classification. Defaults to 15 seconds if zero.
	ConversationWindow time.Duration

	// Cache holds classification decisions, usually shared across sessions.
	// If nil, a private cache with default TTL and size is created.
	Cache *Cache

	// CacheTTL is how long classification decisions are cached when Cache is
	// nil. Defaults to 30 seconds if zero.
	CacheTTL time.Duration

	// CacheSize bounds the decision cache when Cache is nil.
	// Defaults to 256 if zero.
	CacheSize int
}

// New creates a new [Gatekeeper] with the given configuration.
func New(cfg Config) *Gatekeeper {
	window := cfg.ConversationWindow
	if window <= 0 {
		window = defaultConversationWindow
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(cfg.CacheTTL, cfg.CacheSize)
	}
	return &Gatekeeper{
		assistantName:      cfg.AssistantName,
		conversationWindow: window,
		classifier:         cfg.Classifier,
		rules:              defaultRules(),
		cache:              cache,
	}
}

// Check decides whether the assistant should reply to req. Heuristic rules
// are evaluated first; only utterances no rule decides reach the cached LLM
// classifier. Check never returns an error — classification failures fail
// open.
func (g *Gatekeeper) Check(ctx context.Context, req Request) Decision {
	for _, r := range g.rules {
		switch r.eval(g, req) {
		case verdictRespond:
			return Decision{Respond: true, Rule: r.name}
		case verdictReject:
			return Decision{Respond: false, Rule: r.name}
		}
	}

	key := cacheKey(req.SpeakerID, req.Text)
	if respond, ok := g.cache.get(key); ok {
		return Decision{Respond: respond, Rule: "cache"}
	}

	respond := g.classify(ctx, key, req)
	return Decision{Respond: respond, Rule: "classifier"}
}

// NoteReply records that the assistant just spoke line in reply to the named
// speaker. Feeds the conversational-window rule.
func (g *Gatekeeper) NoteReply(addressee, line string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = replyRecord{line: line, addressee: addressee, at: time.Now()}
	g.ok = true
}

// lastReply returns the assistant's most recent reply record.
func (g *Gatekeeper) lastReply() (replyRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.ok
}

// classify runs the LLM fallback, collapsing concurrent identical requests
// via singleflight and caching the outcome. Failures fail open.
func (g *Gatekeeper) classify(ctx context.Context, key string, req Request) bool {
	if g.classifier == nil {
		return true
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		text := req.Text
		if len(text) > maxClassifyChars {
			text = text[:maxClassifyChars]
		}

		resp, err := g.classifier.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: fmt.Sprintf(classifySystemPrompt, g.assistantName),
			Messages: []llm.Message{
				{Role: "user", Content: fmt.Sprintf("%s says: %q", req.SpeakerName, text)},
			},
			Temperature: 0,
			MaxTokens:   4,
		})
		if err != nil {
			return nil, err
		}

		respond := parseClassification(resp.Content)
		g.cache.put(key, respond)
		return respond, nil
	})
	if err != nil {
		slog.Warn("gatekeeper: classification failed, failing open",
			"speaker", req.SpeakerName,
			"error", err,
		)
		return true
	}
	return v.(bool)
}

// parseClassification interprets the classifier's answer. Anything that is
// not a clear NO counts as YES — the permissive reading of fail-open.
func parseClassification(answer string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(answer))
	return !strings.HasPrefix(normalized, "NO")
}
