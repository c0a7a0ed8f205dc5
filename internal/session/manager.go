package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelark/voicelark/internal/gatekeeper"
	"github.com/voicelark/voicelark/internal/history"
	"github.com/voicelark/voicelark/internal/observe"
	"github.com/voicelark/voicelark/pkg/audio"
	"github.com/voicelark/voicelark/pkg/provider/llm"
	"github.com/voicelark/voicelark/pkg/provider/stt"
	"github.com/voicelark/voicelark/pkg/provider/tts"
)

// ManagerConfig holds the shared dependencies every session is built from.
type ManagerConfig struct {
	// AssistantName is the name speakers use to address the assistant.
	AssistantName string

	// Platform joins voice channels.
	Platform audio.Platform

	// STT, LLM, and TTS back the pipeline providers.
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Voice is the assistant's synthesis voice.
	Voice tts.VoiceProfile

	// History grounds reply prompts. May be nil.
	History history.Store

	// Metrics receives pipeline instrumentation. If nil the package-level
	// default is used.
	Metrics *observe.Metrics

	// Tuning adjusts the pipeline of every session.
	Tuning Tuning

	// GateCacheTTL and GateCacheSize configure the shared classification
	// cache. Zero values select the gatekeeper defaults.
	GateCacheTTL  time.Duration
	GateCacheSize int
}

// Manager tracks active sessions by voice channel ID. The gatekeeper's
// classification cache is owned here so it outlives individual sessions.
//
// All methods are safe for concurrent use.
type Manager struct {
	cfg       ManagerConfig
	gateCache *gatekeeper.Cache
	metrics   *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:       cfg,
		gateCache: gatekeeper.NewCache(cfg.GateCacheTTL, cfg.GateCacheSize),
		metrics:   metrics,
		sessions:  make(map[string]*Session),
	}
}

// Join connects to the voice channel and starts a session on it.
// Returns an error if a session is already active on that channel.
func (m *Manager) Join(ctx context.Context, channelID string) error {
	m.mu.Lock()
	if _, ok := m.sessions[channelID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("session: channel %s already has an active session", channelID)
	}
	// Reserve the slot before the (slow) voice join so concurrent Join calls
	// for the same channel fail fast instead of double-connecting.
	m.sessions[channelID] = nil
	m.mu.Unlock()

	conn, err := m.cfg.Platform.Join(ctx, channelID)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, channelID)
		m.mu.Unlock()
		return fmt.Errorf("session: join voice channel %s: %w", channelID, err)
	}

	s := New(Config{
		ChannelID:     channelID,
		AssistantName: m.cfg.AssistantName,
		Conn:          conn,
		STT:           m.cfg.STT,
		LLM:           m.cfg.LLM,
		TTS:           m.cfg.TTS,
		Voice:         m.cfg.Voice,
		History:       m.cfg.History,
		GateCache:     m.gateCache,
		Metrics:       m.metrics,
		Tuning:        m.cfg.Tuning,
	})

	m.mu.Lock()
	m.sessions[channelID] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session: started", "channel_id", channelID)
	return nil
}

// Leave tears down the session on the given channel.
// Returns an error if no session is active there.
func (m *Manager) Leave(channelID string) error {
	m.mu.Lock()
	s, ok := m.sessions[channelID]
	delete(m.sessions, channelID)
	m.mu.Unlock()

	if !ok || s == nil {
		return fmt.Errorf("session: no active session on channel %s", channelID)
	}

	err := s.Close()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	if err != nil {
		return fmt.Errorf("session: leave channel %s: %w", channelID, err)
	}
	return nil
}

// Get returns the session active on the given channel, or nil.
func (m *Manager) Get(channelID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[channelID]
}

// Active returns the channel IDs with a running session.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CloseAll tears down every active session. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Warn("session: close during shutdown",
				"channel_id", s.ChannelID(), "error", err)
		}
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}
