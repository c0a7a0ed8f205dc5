// Command voicelark runs the Lark voice assistant: it joins a Discord voice
// channel, transcribes what it hears, decides which utterances deserve a
// reply, and speaks the replies back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicelark/voicelark/internal/config"
	"github.com/voicelark/voicelark/internal/health"
	"github.com/voicelark/voicelark/internal/history"
	historypg "github.com/voicelark/voicelark/internal/history/postgres"
	"github.com/voicelark/voicelark/internal/observe"
	"github.com/voicelark/voicelark/internal/perception"
	"github.com/voicelark/voicelark/internal/session"
	audiodiscord "github.com/voicelark/voicelark/pkg/audio/discord"
	"github.com/voicelark/voicelark/pkg/provider/llm"
	"github.com/voicelark/voicelark/pkg/provider/llm/anyllm"
	llmopenai "github.com/voicelark/voicelark/pkg/provider/llm/openai"
	"github.com/voicelark/voicelark/pkg/provider/stt"
	"github.com/voicelark/voicelark/pkg/provider/stt/deepgram"
	"github.com/voicelark/voicelark/pkg/provider/tts"
	"github.com/voicelark/voicelark/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/voicelark/voicelark/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelark: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelark: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicelark starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component records against the global
	// meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// Providers.
	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	ttsProvider, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to create tts provider", "name", cfg.Providers.TTS.Name, "err", err)
		return 1
	}

	// History store: PostgreSQL when a DSN is configured, otherwise in-memory.
	store, pgStore, err := buildHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("history store close error", "err", err)
		}
	}()

	// Discord gateway.
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create discord session", "err", err)
		return 1
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
	if err := dg.Open(); err != nil {
		slog.Error("failed to open discord gateway", "err", err)
		return 1
	}
	defer func() {
		if err := dg.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}()
	slog.Info("discord gateway connected", "guild_id", cfg.Discord.GuildID)

	manager := session.NewManager(session.ManagerConfig{
		AssistantName: cfg.Assistant.Name,
		Platform:      audiodiscord.New(dg, cfg.Discord.GuildID),
		STT:           sttProvider,
		LLM:           llmProvider,
		TTS:           ttsProvider,
		Voice: tts.VoiceProfile{
			ID:          cfg.Assistant.Voice.VoiceID,
			Name:        cfg.Assistant.Voice.Name,
			SpeedFactor: cfg.Assistant.Voice.SpeedFactor,
		},
		History:       store,
		Tuning:        tuningFromConfig(cfg),
		GateCacheTTL:  cfg.Pipeline.CacheTTL.Std(),
		GateCacheSize: cfg.Pipeline.CacheSize,
	})
	defer manager.CloseAll()

	if cfg.Discord.ChannelID != "" {
		if err := manager.Join(ctx, cfg.Discord.ChannelID); err != nil {
			slog.Error("failed to join startup voice channel",
				"channel_id", cfg.Discord.ChannelID, "err", err)
			return 1
		}
	}

	printStartupSummary(cfg)

	// HTTP sidecar: health probes and the Prometheus scrape endpoint.
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg, dg, pgStore)
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("voicelark ready — press Ctrl+C to shut down")

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM constructs the configured chat-completion provider.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	case "":
		return nil, errors.New("llm provider name is empty")
	default:
		// Everything else (anthropic, ollama, gemini, mistral, groq, …) is
		// routed through the any-llm multi-provider bridge.
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildSTT constructs the configured transcription provider.
func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "deepgram":
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		return deepgram.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildTTS constructs the configured synthesis provider.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// buildHistory opens the conversation history store. The second return value
// is non-nil only for the PostgreSQL store, whose Ping feeds the readiness
// check.
func buildHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, *historypg.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("history: using in-memory store")
		return history.NewMemStore(0), nil, nil
	}

	pg, err := historypg.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	slog.Info("history: connected to postgres")
	return pg, pg, nil
}

// tuningFromConfig maps the YAML pipeline block onto the session tuning knobs.
func tuningFromConfig(cfg *config.Config) session.Tuning {
	p := cfg.Pipeline
	return session.Tuning{
		Debounce:            p.Debounce.Std(),
		ContinuationTimeout: p.ContinuationTimeout.Std(),
		WeakWordThreshold:   p.WeakWordThreshold,
		ConversationWindow:  p.ConversationWindow.Std(),
		Cooldown:            p.Cooldown.Std(),
		FlushDelay:          p.FlushDelay.Std(),
		MinClauseWords:      p.MinClauseWords,
		Filter: perception.Config{
			IdleTimeout:         p.IdleTimeout.Std(),
			SentenceCap:         p.SentenceCap,
			DuplicateSimilarity: p.DuplicateSimilarity,
			HistorySize:         p.DuplicateHistory,
			BurstStarts:         p.BurstStarts,
			BurstWindow:         p.BurstWindow.Std(),
			BurstCooldown:       p.BurstCooldown.Std(),
		},
		HistoryLimit: cfg.History.Limit,
	}
}

// newHTTPServer assembles the health and metrics endpoints.
func newHTTPServer(cfg *config.Config, dg *discordgo.Session, pgStore *historypg.Store) *http.Server {
	var checkers []health.Checker
	checkers = append(checkers, health.Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if dg.State == nil || dg.State.SessionID == "" {
				return errors.New("gateway not connected")
			}
			return nil
		},
	})
	if pgStore != nil {
		checkers = append(checkers, health.Checker{
			Name:  "history",
			Check: pgStore.Ping,
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// printStartupSummary logs what the process is wired with, one line per
// concern, so a glance at startup output answers "what is this running?".
func printStartupSummary(cfg *config.Config) {
	historyBackend := "in-memory"
	if cfg.History.PostgresDSN != "" {
		historyBackend = "postgres"
	}
	slog.Info("startup summary",
		"assistant", cfg.Assistant.Name,
		"llm", providerLabel(cfg.Providers.LLM),
		"stt", providerLabel(cfg.Providers.STT),
		"tts", providerLabel(cfg.Providers.TTS),
		"history", historyBackend,
		"guild_id", cfg.Discord.GuildID,
		"startup_channel", cfg.Discord.ChannelID,
	)
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + "/" + entry.Model
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
