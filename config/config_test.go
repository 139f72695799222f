package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tree.MaxIterations != 5 || cfg.Tree.DecisionMaxRetries != 3 {
		t.Fatalf("tree defaults wrong: %+v", cfg.Tree)
	}
	if cfg.Session.ConversationTTL != 30*time.Minute {
		t.Fatalf("conversation TTL default wrong: %v", cfg.Session.ConversationTTL)
	}
	if cfg.Session.UserTTL != 24*time.Hour {
		t.Fatalf("user TTL default wrong: %v", cfg.Session.UserTTL)
	}
	if !cfg.Guard.Enabled {
		t.Fatalf("guard should default to enabled")
	}
	if cfg.LLM.Routing.Model("") != cfg.LLM.Routing.Fallback {
		t.Fatalf("routing fallback broken")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
tree:
  max_iterations: 9
session:
  conversation_ttl: 5m
storage:
  redis:
    host: redis.internal
    port: "6380"
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tree.MaxIterations != 9 {
		t.Fatalf("file value not applied: %d", cfg.Tree.MaxIterations)
	}
	if cfg.Session.ConversationTTL != 5*time.Minute {
		t.Fatalf("duration not parsed: %v", cfg.Session.ConversationTTL)
	}
	if cfg.Storage.Redis.Addr() != "redis.internal:6380" {
		t.Fatalf("redis addr wrong: %s", cfg.Storage.Redis.Addr())
	}
	// Untouched keys keep their defaults.
	if cfg.Tree.DecisionMaxRetries != 3 {
		t.Fatalf("default lost: %d", cfg.Tree.DecisionMaxRetries)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("tree:\n  max_iterations: 0\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Fatalf("expected validation error for zero iteration ceiling")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@h:5432/db"}
	if p.DSN() != p.URL {
		t.Fatalf("URL must win")
	}
	p = PostgresConfig{Host: "db.internal", User: "arbor", Password: "s", DBName: "arbor"}
	want := "postgres://arbor:s@db.internal:5432/arbor?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if (PostgresConfig{}).DSN() != "" {
		t.Fatalf("unconfigured postgres must yield empty DSN")
	}
}
