package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte("server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Fatalf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Memory.HistoryWindow != 100 {
		t.Fatalf("HistoryWindow = %d, want 100", cfg.Memory.HistoryWindow)
	}
	if cfg.Memory.RetrievalLimit != 5 {
		t.Fatalf("RetrievalLimit = %d, want 5", cfg.Memory.RetrievalLimit)
	}
	if cfg.Memory.SimilarityFloor != 0.7 {
		t.Fatalf("SimilarityFloor = %v, want 0.7", cfg.Memory.SimilarityFloor)
	}
	if cfg.Memory.EmbeddingTokenLimit != 8000 {
		t.Fatalf("EmbeddingTokenLimit = %d, want 8000", cfg.Memory.EmbeddingTokenLimit)
	}
	if cfg.Memory.SeedDelimiter != "\n" {
		t.Fatalf("SeedDelimiter = %q, want newline", cfg.Memory.SeedDelimiter)
	}
	if cfg.Chat.GenerationTimeout != 30*time.Second {
		t.Fatalf("GenerationTimeout = %v, want 30s", cfg.Chat.GenerationTimeout)
	}
	if cfg.Chat.RecentMessages != 50 {
		t.Fatalf("RecentMessages = %d, want 50", cfg.Chat.RecentMessages)
	}
	if cfg.Chat.RepetitionThreshold != 0.6 {
		t.Fatalf("RepetitionThreshold = %v, want 0.6", cfg.Chat.RepetitionThreshold)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("Database.Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Auth.UserHeader != "X-User-ID" {
		t.Fatalf("Auth.UserHeader = %q, want X-User-ID", cfg.Auth.UserHeader)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_API_KEY", "qd-test")
	t.Setenv("DATABASE_DSN", "postgres://localhost/companions")

	cfg, err := Parse([]byte("ai:\n  embedding:\n    api_key: emb-key\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.AI.LLM.APIKey != "sk-test" {
		t.Fatalf("LLM.APIKey = %q, want env value", cfg.AI.LLM.APIKey)
	}
	if cfg.AI.Embedding.APIKey != "emb-key" {
		t.Fatalf("Embedding.APIKey = %q, want explicit value to win", cfg.AI.Embedding.APIKey)
	}
	if cfg.Database.Qdrant.APIKey != "qd-test" {
		t.Fatalf("Qdrant.APIKey = %q, want env value", cfg.Database.Qdrant.APIKey)
	}
	if cfg.Database.Postgres.DSN != "postgres://localhost/companions" {
		t.Fatalf("Postgres.DSN = %q, want env value", cfg.Database.Postgres.DSN)
	}
}

func TestLoadReadsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "chat:\n  generation_timeout: 5s\nrate_limit:\n  requests: 3\n  window: 1m\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.GenerationTimeout != 5*time.Second {
		t.Fatalf("GenerationTimeout = %v, want 5s", cfg.Chat.GenerationTimeout)
	}
	if cfg.RateLimit.Requests != 3 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("RateLimit = %+v, want 3 per minute", cfg.RateLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load() error = nil, want error for missing file")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "QDRANT_API_KEY", "REDIS_PASSWORD", "DATABASE_DSN"} {
		t.Setenv(key, "")
	}
}
