package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Extraction.MaxAttempts != 3 || cfg.Extraction.BackoffBase != 2*time.Second {
		t.Errorf("extraction defaults = %+v", cfg.Extraction)
	}
	if cfg.Dedup.TitleThreshold != 0.8 {
		t.Errorf("TitleThreshold = %v, want 0.8", cfg.Dedup.TitleThreshold)
	}
	if cfg.Run.Throttle != 5*time.Second {
		t.Errorf("Throttle = %v, want 5s", cfg.Run.Throttle)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
database:
  path: /tmp/watch.db
run:
  throttle: 1s
  language: GERMAN
gemini:
  model: gemini-test
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/watch.db" || cfg.Run.Throttle != time.Second || cfg.Run.Language != "GERMAN" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Gemini.Model != "gemini-test" {
		t.Errorf("Model = %q", cfg.Gemini.Model)
	}
	if cfg.Extraction.MaxAttempts != 3 {
		t.Errorf("unset field lost its default: MaxAttempts = %d", cfg.Extraction.MaxAttempts)
	}
}

func TestLoadConfig_EnvWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "hook")
	t.Setenv("PAGEWATCH_DB", "/tmp/env.db")

	cfg, err := LoadConfig(writeConfig(t, "database:\n  path: /tmp/file.db\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Gemini.APIKey != "key-from-env" || cfg.Telegram.Token != "token" || cfg.Telegram.WebhookSecret != "hook" {
		t.Errorf("secrets not applied: %+v %+v", cfg.Gemini, cfg.Telegram)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("Database.Path = %q, want env value", cfg.Database.Path)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "run: [", "failed to parse config"},
		{"similarity", "classifier:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"title", "dedup:\n  title_threshold: 0\n", "title_threshold"},
		{"attempts", "extraction:\n  max_attempts: 0\n", "max_attempts"},
		{"language", "run:\n  language: \"\"\n", "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseRenderMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RenderMode
		wantErr bool
	}{
		{"", RenderStatic, false},
		{"static", RenderStatic, false},
		{" Dynamic ", RenderDynamic, false},
		{"browser", RenderDynamic, false},
		{"spa", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRenderMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRenderMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}
