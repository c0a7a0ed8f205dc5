package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "mistral", "groq"},
	"stt": {"deepgram"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}

	if cfg.Assistant.Name == "" {
		errs = append(errs, errors.New("assistant.name is required"))
	}
	if sf := cfg.Assistant.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("assistant.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; the assistant cannot reply without a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; the assistant cannot hear without transcription"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required; the assistant cannot speak without synthesis"))
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation history will not survive restarts")
	}
	if cfg.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit %d must not be negative", cfg.History.Limit))
	}

	errs = append(errs, validatePipeline(&cfg.Pipeline)...)

	return errors.Join(errs...)
}

// validatePipeline checks the tuning block. Zero values are fine (defaults
// apply); explicit values must be sane.
func validatePipeline(p *PipelineConfig) []error {
	var errs []error

	durations := []struct {
		name  string
		value Duration
	}{
		{"pipeline.debounce", p.Debounce},
		{"pipeline.continuation_timeout", p.ContinuationTimeout},
		{"pipeline.conversation_window", p.ConversationWindow},
		{"pipeline.cache_ttl", p.CacheTTL},
		{"pipeline.cooldown", p.Cooldown},
		{"pipeline.flush_delay", p.FlushDelay},
		{"pipeline.idle_timeout", p.IdleTimeout},
		{"pipeline.burst_window", p.BurstWindow},
		{"pipeline.burst_cooldown", p.BurstCooldown},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	counts := []struct {
		name  string
		value int
	}{
		{"pipeline.weak_word_threshold", p.WeakWordThreshold},
		{"pipeline.cache_size", p.CacheSize},
		{"pipeline.min_clause_words", p.MinClauseWords},
		{"pipeline.sentence_cap", p.SentenceCap},
		{"pipeline.duplicate_history", p.DuplicateHistory},
		{"pipeline.burst_starts", p.BurstStarts},
	}
	for _, c := range counts {
		if c.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", c.name))
		}
	}

	if s := p.DuplicateSimilarity; s != 0 && (s < 0 || s > 1) {
		errs = append(errs, fmt.Errorf("pipeline.duplicate_similarity %.2f is out of range [0, 1]", s))
	}

	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
