// Package session wires the full conversation pipeline for one voice channel.
//
// A [Session] owns every piece of per-channel state — the transcript
// aggregator, continuation merger, gatekeeper, response coordinator,
// perception filter, synthesizer, and playback queue — so that teardown is a
// single atomic operation: Close cancels every timer, destroys all buffers,
// and discards in-flight synthesis. The gatekeeper's decision cache is shared
// across sessions and survives teardown.
//
// The [Manager] tracks active sessions by voice channel and constructs each
// Session from the injected providers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voicelark/voicelark/internal/coordinator"
	"github.com/voicelark/voicelark/internal/gatekeeper"
	"github.com/voicelark/voicelark/internal/history"
	"github.com/voicelark/voicelark/internal/observe"
	"github.com/voicelark/voicelark/internal/perception"
	"github.com/voicelark/voicelark/internal/segment"
	"github.com/voicelark/voicelark/internal/speak"
	"github.com/voicelark/voicelark/internal/utterance"
	"github.com/voicelark/voicelark/pkg/audio"
	"github.com/voicelark/voicelark/pkg/provider/llm"
	"github.com/voicelark/voicelark/pkg/provider/stt"
	"github.com/voicelark/voicelark/pkg/provider/tts"
)

const (
	// defaultHistoryLimit is how many recent turns ground the reply prompt.
	defaultHistoryLimit = 20

	// defaultStreamRescan is how often the connection's input streams are
	// rescanned for participants that started transmitting.
	defaultStreamRescan = 500 * time.Millisecond

	// historyWriteTimeout bounds best-effort history appends.
	historyWriteTimeout = 5 * time.Second
)

const systemPromptTemplate = `You are %s, a voice assistant present in a group voice channel. You hear people talking to each other and sometimes to you. Reply conversationally and briefly, as spoken language: no markdown, no lists, no code. One to three short sentences unless asked for more.`

// Tuning collects the pipeline timing and threshold knobs. Zero values select
// the defaults of the individual pipeline packages.
type Tuning struct {
	// Debounce is the transcript aggregator's quiet period.
	Debounce time.Duration

	// ContinuationTimeout is the merger's merge window and hold time.
	ContinuationTimeout time.Duration

	// WeakWordThreshold is the merger's word count below which weak
	// incomplete-ending patterns apply.
	WeakWordThreshold int

	// ConversationWindow is the gatekeeper's follow-up quick-pass window.
	ConversationWindow time.Duration

	// Cooldown is the coordinator's post-generation quiet period.
	Cooldown time.Duration

	// FlushDelay is the coordinator's queued-utterance flush delay.
	FlushDelay time.Duration

	// MinClauseWords is the segmenter's clause emission minimum.
	MinClauseWords int

	// Filter configures the perception filter.
	Filter perception.Config

	// HistoryLimit is how many recent turns ground the reply prompt.
	// Defaults to 20 if zero.
	HistoryLimit int
}

// Config holds everything a [Session] needs. Conn, STT, LLM, and TTS must be
// non-nil; History may be nil for contextless replies.
type Config struct {
	// ChannelID identifies the voice channel this session serves.
	ChannelID string

	// AssistantName is the name speakers use to address the assistant.
	AssistantName string

	// Conn is the active voice-channel connection. The session takes
	// ownership and calls Leave during Close.
	Conn audio.Connection

	// STT opens one transcription stream per transmitting participant.
	STT stt.Provider

	// LLM generates replies and classifies borderline utterances.
	LLM llm.Provider

	// TTS synthesizes reply chunks.
	TTS tts.Provider

	// Voice is the assistant's synthesis voice.
	Voice tts.VoiceProfile

	// History grounds the reply prompt and records turns. May be nil.
	History history.Store

	// GateCache is the shared classification cache. If nil the session uses
	// a private cache that dies with it.
	GateCache *gatekeeper.Cache

	// Metrics receives pipeline instrumentation. If nil the package-level
	// default is used.
	Metrics *observe.Metrics

	// Tuning adjusts pipeline timings and thresholds.
	Tuning Tuning

	// StreamRescan overrides how often input streams are rescanned.
	// Defaults to 500ms if zero. Mainly for tests.
	StreamRescan time.Duration
}

// Session is the live conversation pipeline for one voice channel.
//
// All methods are safe for concurrent use.
type Session struct {
	channelID     string
	assistantName string
	conn          audio.Connection
	sttProvider   stt.Provider
	llmProvider   llm.Provider
	store         history.Store
	metrics       *observe.Metrics
	tuning        Tuning
	rescan        time.Duration

	aggregator *utterance.Aggregator
	merger     *utterance.Merger
	gate       *gatekeeper.Gatekeeper
	coord      *coordinator.Coordinator
	filter     *perception.Filter
	synth      *speak.Synthesizer
	playback   *speak.PlaybackQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]stt.StreamHandle
	names   map[string]string
	closed  bool
}

// New assembles the pipeline and starts listening on the connection's input
// streams. The caller must call [Session.Close] to release everything.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	limit := cfg.Tuning.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rescan := cfg.StreamRescan
	if rescan <= 0 {
		rescan = defaultStreamRescan
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	s := &Session{
		channelID:     cfg.ChannelID,
		assistantName: cfg.AssistantName,
		conn:          cfg.Conn,
		sttProvider:   cfg.STT,
		llmProvider:   cfg.LLM,
		store:         cfg.History,
		metrics:       metrics,
		tuning:        cfg.Tuning,
		rescan:        rescan,
		ctx:           ctx,
		cancel:        cancel,
		streams:       make(map[string]stt.StreamHandle),
		names:         make(map[string]string),
	}
	s.tuning.HistoryLimit = limit

	// Assemble bottom-up: playback first, input demux last, so every stage's
	// downstream exists before the first utterance can reach it.
	s.playback = speak.NewPlaybackQueue(ctx, cfg.Conn.Play, metrics)
	s.synth = speak.New(speak.Config{
		Provider: cfg.TTS,
		Voice:    cfg.Voice,
		Queue:    s.playback,
		Output:   cfg.Conn.PlaybackFormat(),
		Metrics:  metrics,
	})
	s.filter = perception.New(cfg.Tuning.Filter)
	s.coord = coordinator.New(coordinator.Config{
		Cooldown:   cfg.Tuning.Cooldown,
		FlushDelay: cfg.Tuning.FlushDelay,
		Start: func(utt utterance.Utterance) {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.generate(utt)
			}()
		},
	})
	s.gate = gatekeeper.New(gatekeeper.Config{
		AssistantName:      cfg.AssistantName,
		Classifier:         cfg.LLM,
		ConversationWindow: cfg.Tuning.ConversationWindow,
		Cache:              cfg.GateCache,
	})
	s.merger = utterance.NewMerger(utterance.MergerConfig{
		Timeout:           cfg.Tuning.ContinuationTimeout,
		WeakWordThreshold: cfg.Tuning.WeakWordThreshold,
		Emit:              s.handleUtterance,
	})
	s.aggregator = utterance.NewAggregator(utterance.AggregatorConfig{
		Debounce: cfg.Tuning.Debounce,
		Emit:     s.merger.Process,
	})

	cfg.Conn.OnParticipantChange(s.handleParticipantChange)
	s.refreshNames()

	s.wg.Add(1)
	go s.watchStreams()

	return s
}

// ChannelID returns the voice channel this session serves.
func (s *Session) ChannelID() string { return s.channelID }

// Close tears the session down: every timer is cancelled, all buffers are
// destroyed, in-flight synthesis results are discarded, and the voice
// connection is left. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]stt.StreamHandle, 0, len(s.streams))
	for _, h := range s.streams {
		handles = append(handles, h)
	}
	s.streams = make(map[string]stt.StreamHandle)
	s.mu.Unlock()

	// Stop input first so nothing new enters the pipeline, then tear the
	// stages down in flow order.
	s.cancel()
	for _, h := range handles {
		_ = h.Close()
	}
	s.aggregator.Close()
	s.merger.Close()
	s.coord.Close()
	s.filter.Close()
	s.synth.Close()
	s.playback.Close()

	err := s.conn.Leave()
	s.wg.Wait()

	slog.Info("session: closed", "channel_id", s.channelID)
	return err
}

// watchStreams polls the connection for participants that started
// transmitting and spawns one pump per new input stream.
func (s *Session) watchStreams() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.rescan)
	defer ticker.Stop()

	// Keyed by the channel value, not just the user ID: a participant that
	// leaves and rejoins gets a fresh stream that needs a fresh pump.
	seen := make(map[string]<-chan audio.Frame)
	for {
		for userID, frames := range s.conn.InputStreams() {
			if seen[userID] == frames {
				continue
			}
			seen[userID] = frames
			s.wg.Add(1)
			go s.pump(userID, frames)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pump feeds one participant's audio frames into a dedicated transcription
// stream. The stream is opened lazily on the first frame so its format
// matches what the platform actually delivers.
func (s *Session) pump(userID string, frames <-chan audio.Frame) {
	defer s.wg.Done()

	var handle stt.StreamHandle
	defer func() {
		if handle != nil {
			_ = handle.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if handle == nil {
				h, err := s.sttProvider.StartStream(s.ctx, stt.StreamConfig{
					SampleRate: f.SampleRate,
					Channels:   f.Channels,
				})
				if err != nil {
					slog.Error("session: start transcription stream",
						"channel_id", s.channelID, "user_id", userID, "error", err)
					s.metrics.RecordProviderError(s.ctx, "stt", "start_stream")
					return
				}
				handle = h
				s.wg.Add(1)
				go s.readTranscripts(userID, h)
			}
			if err := handle.SendAudio(f.PCM); err != nil {
				slog.Warn("session: send audio",
					"channel_id", s.channelID, "user_id", userID, "error", err)
				return
			}
		}
	}
}

// readTranscripts consumes one participant's transcription stream, feeding
// final non-empty results into the aggregator. Partials are ignored.
func (s *Session) readTranscripts(userID string, handle stt.StreamHandle) {
	defer s.wg.Done()

	for t := range handle.Transcripts() {
		if !t.IsFinal {
			continue
		}
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		s.aggregator.Add(userID, s.displayName(userID), text, t.Confidence)
	}
}

// handleUtterance is the merger's emit callback: each completed utterance is
// gatekept and, if accepted, submitted to the coordinator.
func (s *Session) handleUtterance(utt utterance.Utterance) {
	s.metrics.Utterances.Add(s.ctx, 1)

	decision := s.gate.Check(s.ctx, gatekeeper.Request{
		SpeakerID:   utt.SpeakerID,
		SpeakerName: utt.DisplayName,
		Text:        utt.Text,
		HumanCount:  s.humanCount(),
	})
	s.metrics.RecordGateDecision(s.ctx, decision.Rule, decision.Respond)

	slog.Debug("session: utterance",
		"channel_id", s.channelID,
		"speaker", utt.DisplayName,
		"respond", decision.Respond,
		"rule", decision.Rule,
	)

	if !decision.Respond {
		return
	}
	s.coord.Submit(utt)
}

// generate runs one reply generation: stream the completion, segment it into
// speakable chunks, filter each chunk, and hand survivors to the synthesizer.
// Runs on its own goroutine; the coordinator is released on every path.
func (s *Session) generate(utt utterance.Utterance) {
	defer s.coord.Release()

	ctx, span := observe.StartSpan(s.ctx, "session.generate",
		trace.WithAttributes(
			attribute.String("channel_id", s.channelID),
			attribute.String("speaker_id", utt.SpeakerID),
		),
	)
	defer span.End()
	started := time.Now()

	s.filter.StartSession()
	defer s.filter.EndSession()

	// Build the prompt before recording the turn so the triggering utterance
	// appears in it exactly once, as the final message.
	req := s.buildRequest(ctx, utt)
	s.appendHistory(history.Turn{
		ChannelID:   s.channelID,
		Role:        history.RoleUser,
		SpeakerName: utt.DisplayName,
		Text:        utt.Text,
		Timestamp:   utt.Timestamp,
	})

	stream, err := s.llmProvider.StreamCompletion(ctx, req)
	if err != nil {
		slog.Error("session: start completion stream",
			"channel_id", s.channelID, "error", err)
		s.metrics.RecordProviderError(ctx, "llm", "stream_start")
		return
	}

	var full strings.Builder
	firstChunk := true
	seg := segment.New(segment.Config{
		MinClauseWords: s.tuning.MinClauseWords,
		Emit: func(chunk string) {
			ok, reason := s.filter.Check(chunk)
			if !ok {
				s.metrics.RecordChunkFiltered(ctx, reason)
				return
			}
			if firstChunk {
				firstChunk = false
				s.metrics.FirstChunkLatency.Record(ctx, time.Since(started).Seconds())
			}
			s.metrics.ChunksSpoken.Add(ctx, 1)
			s.synth.Speak(ctx, chunk)
		},
	})

	failed := false
	for chunk := range stream {
		if chunk.FinishReason == "error" {
			slog.Warn("session: completion stream error",
				"channel_id", s.channelID, "detail", chunk.Text)
			s.metrics.RecordProviderError(ctx, "llm", "stream")
			failed = true
			break
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			seg.Write(chunk.Text)
		}
	}
	if !failed {
		seg.Flush()
	}

	reply := strings.TrimSpace(full.String())
	if reply != "" {
		s.gate.NoteReply(utt.DisplayName, lastLine(reply))
		s.appendHistory(history.Turn{
			ChannelID:   s.channelID,
			Role:        history.RoleAssistant,
			SpeakerName: s.assistantName,
			Text:        reply,
			Timestamp:   time.Now(),
		})
	}

	s.metrics.GenerationDuration.Record(ctx, time.Since(started).Seconds())
}

// buildRequest assembles the completion prompt: persona system prompt, recent
// conversation turns, then the triggering utterance. A history failure
// degrades to a contextless prompt.
func (s *Session) buildRequest(ctx context.Context, utt utterance.Utterance) llm.CompletionRequest {
	var messages []llm.Message

	if s.store != nil {
		turns, err := s.store.Recent(ctx, s.channelID, s.tuning.HistoryLimit)
		if err != nil && err != history.ErrNotFound {
			slog.Warn("session: load history",
				"channel_id", s.channelID, "error", err)
		}
		for _, t := range turns {
			role := "user"
			if t.Role == history.RoleAssistant {
				role = "assistant"
			}
			messages = append(messages, llm.Message{
				Role:    role,
				Content: t.Text,
				Name:    t.SpeakerName,
			})
		}
	}

	messages = append(messages, llm.Message{
		Role:    "user",
		Content: utt.Text,
		Name:    utt.DisplayName,
	})

	return llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(systemPromptTemplate, s.assistantName),
		Messages:     messages,
	}
}

// appendHistory records one turn, best-effort with its own timeout. A store
// failure never blocks or fails the reply path.
func (s *Session) appendHistory(turn history.Turn) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.store.Append(ctx, turn); err != nil {
		slog.Warn("session: append history",
			"channel_id", s.channelID, "role", turn.Role, "error", err)
	}
}

// handleParticipantChange tracks display names and flushes leavers' buffers.
func (s *Session) handleParticipantChange(ev audio.Event) {
	s.mu.Lock()
	switch ev.Type {
	case audio.EventJoin:
		s.names[ev.Participant.UserID] = ev.Participant.DisplayName
	case audio.EventLeave:
		delete(s.names, ev.Participant.UserID)
	}
	s.mu.Unlock()

	if ev.Type == audio.EventLeave {
		// Whatever the leaver said last is all we will ever get.
		s.aggregator.Flush(ev.Participant.UserID)
	}

	s.metrics.ActiveParticipants.Add(s.ctx, deltaFor(ev.Type))
}

// refreshNames seeds the display-name map from the current roster.
func (s *Session) refreshNames() {
	roster := s.conn.Participants()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range roster {
		s.names[p.UserID] = p.DisplayName
	}
}

// displayName resolves a participant's display name, falling back to the
// roster and finally the raw user ID.
func (s *Session) displayName(userID string) string {
	s.mu.Lock()
	name, ok := s.names[userID]
	s.mu.Unlock()
	if ok && name != "" {
		return name
	}

	for _, p := range s.conn.Participants() {
		if p.UserID == userID {
			s.mu.Lock()
			s.names[userID] = p.DisplayName
			s.mu.Unlock()
			return p.DisplayName
		}
	}
	return userID
}

// humanCount returns the number of non-bot participants on the channel.
func (s *Session) humanCount() int {
	n := 0
	for _, p := range s.conn.Participants() {
		if !p.Bot {
			n++
		}
	}
	return n
}

// lastLine returns the final non-empty line of a reply, the part the
// conversational-window rule compares follow-ups against.
func lastLine(reply string) string {
	lines := strings.Split(reply, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return reply
}

func deltaFor(t audio.EventType) int64 {
	if t == audio.EventJoin {
		return 1
	}
	return -1
}
