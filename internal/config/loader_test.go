package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
discord:
  token: "bot-token"
  guild_id: "guild123"
  channel_id: "voice456"
assistant:
  name: Lark
  voice:
    voice_id: alloy
    speed_factor: 1.1
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
    language: en-US
  tts:
    name: openai
    api_key: sk-test
history:
  postgres_dsn: "postgres://localhost/voicelark"
  limit: 30
pipeline:
  debounce: 1.2s
  continuation_timeout: 2.5s
  weak_word_threshold: 8
  conversation_window: 15s
  cache_ttl: 30s
  cache_size: 256
  cooldown: 3s
  flush_delay: 2s
  min_clause_words: 6
  idle_timeout: 10s
  sentence_cap: 15
  duplicate_similarity: 0.85
  duplicate_history: 20
  burst_starts: 4
  burst_window: 10s
  burst_cooldown: 5s
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Assistant.Name != "Lark" {
		t.Errorf("assistant.name = %q, want Lark", cfg.Assistant.Name)
	}
	if cfg.Discord.GuildID != "guild123" {
		t.Errorf("discord.guild_id = %q, want guild123", cfg.Discord.GuildID)
	}
	if got := cfg.Pipeline.Debounce.Std(); got != 1200*time.Millisecond {
		t.Errorf("pipeline.debounce = %v, want 1.2s", got)
	}
	if got := cfg.Pipeline.ContinuationTimeout.Std(); got != 2500*time.Millisecond {
		t.Errorf("pipeline.continuation_timeout = %v, want 2.5s", got)
	}
	if cfg.Pipeline.BurstStarts != 4 {
		t.Errorf("pipeline.burst_starts = %d, want 4", cfg.Pipeline.BurstStarts)
	}
	if cfg.Pipeline.DuplicateHistory != 20 {
		t.Errorf("pipeline.duplicate_history = %d, want 20", cfg.Pipeline.DuplicateHistory)
	}
	if cfg.History.Limit != 30 {
		t.Errorf("history.limit = %d, want 30", cfg.History.Limit)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := `
discord:
  token: t
  guild_id: g
  shard_count: 4
assistant:
  name: Lark
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("expected error for unknown field shard_count")
	}
}

func TestLoadFromReaderRejectsBadDuration(t *testing.T) {
	yaml := strings.Replace(validYAML, "debounce: 1.2s", "debounce: soon", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("load base config: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: "discord.token",
		},
		{
			name:    "missing guild",
			mutate:  func(c *Config) { c.Discord.GuildID = "" },
			wantErr: "discord.guild_id",
		},
		{
			name:    "missing assistant name",
			mutate:  func(c *Config) { c.Assistant.Name = "" },
			wantErr: "assistant.name",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "missing llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantErr: "providers.llm.name",
		},
		{
			name:    "speed factor out of range",
			mutate:  func(c *Config) { c.Assistant.Voice.SpeedFactor = 3.0 },
			wantErr: "speed_factor",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Pipeline.Cooldown = Duration(-time.Second) },
			wantErr: "pipeline.cooldown",
		},
		{
			name:    "similarity out of range",
			mutate:  func(c *Config) { c.Pipeline.DuplicateSimilarity = 1.5 },
			wantErr: "duplicate_similarity",
		},
		{
			name:    "negative duplicate history",
			mutate:  func(c *Config) { c.Pipeline.DuplicateHistory = -1 },
			wantErr: "pipeline.duplicate_history",
		},
		{
			name:    "negative history limit",
			mutate:  func(c *Config) { c.History.Limit = -1 },
			wantErr: "history.limit",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}

	t.Run("valid config passes", func(t *testing.T) {
		if err := Validate(base()); err != nil {
			t.Errorf("unexpected validation error: %v", err)
		}
	})

	t.Run("multiple failures are joined", func(t *testing.T) {
		cfg := base()
		cfg.Discord.Token = ""
		cfg.Assistant.Name = ""
		err := Validate(cfg)
		if err == nil {
			t.Fatal("expected validation error")
		}
		for _, want := range []string{"discord.token", "assistant.name"} {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("joined error %q does not mention %q", err, want)
			}
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
