// Package models defines data structures for configuration, tracked pages and findings.
package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the watcher. Values come from config.yaml,
// then the environment overrides secrets and paths.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Run        RunConfig        `yaml:"run"`
	Server     ServerConfig     `yaml:"server"`
	LogLevel   string           `yaml:"log_level"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ClassifierConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type ExtractionConfig struct {
	MaxChars        int           `yaml:"max_chars"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	MinSummaryWords int           `yaml:"min_summary_words"`
	CacheDir        string        `yaml:"cache_dir"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

type DedupConfig struct {
	TitleThreshold float64 `yaml:"title_threshold"`
}

// FetchConfig controls the static fetcher and the headless browser fallback.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	MinHTMLBytes   int           `yaml:"min_html_bytes"`
	BrowserEnabled bool          `yaml:"browser_enabled"`
	BrowserURL     string        `yaml:"browser_url"` // empty launches a local chrome
}

type GeminiConfig struct {
	APIKey      string        `yaml:"-"`
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`
	MinInterval time.Duration `yaml:"min_interval"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_output_tokens"`
}

type TelegramConfig struct {
	Token         string `yaml:"-"`
	ChatID        string `yaml:"chat_id"`
	APIURL        string `yaml:"api_url"`
	WebhookSecret string `yaml:"-"` // checked against X-Telegram-Bot-Api-Secret-Token
}

type RunConfig struct {
	Throttle          time.Duration `yaml:"throttle"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff"`
	Language          string        `yaml:"language"`
	Discovery         bool          `yaml:"discovery"`
	DiscoveryMaxLinks int           `yaml:"discovery_max_links"`
}

type ServerConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

// Env carries secrets and per-deployment overrides.
type Env struct {
	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`
	TelegramToken         string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID        string `envconfig:"TELEGRAM_CHAT_ID"`
	TelegramWebhookSecret string `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	DatabasePath          string `envconfig:"PAGEWATCH_DB"`
	LogLevel              string `envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Classifier: ClassifierConfig{SimilarityThreshold: 0.92},
		Extraction: ExtractionConfig{
			MaxChars:        100000,
			MaxAttempts:     3,
			BackoffBase:     2 * time.Second,
			MinSummaryWords: 30,
			CacheTTL:        24 * time.Hour,
		},
		Dedup: DedupConfig{TitleThreshold: 0.8},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			MinHTMLBytes: 500,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta/models",
			MinInterval: 4 * time.Second,
			Temperature: 0.2,
			MaxTokens:   8192,
		},
		Telegram: TelegramConfig{APIURL: "https://api.telegram.org/bot"},
		Run: RunConfig{
			Throttle:          5 * time.Second,
			RateLimitBackoff:  60 * time.Second,
			Language:          "ENGLISH",
			DiscoveryMaxLinks: 20,
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			Interval: time.Hour,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads a YAML config file on top of the defaults, then applies
// the environment (after an optional .env). A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(env Env) {
	if env.GeminiAPIKey != "" {
		c.Gemini.APIKey = env.GeminiAPIKey
	}
	if env.TelegramToken != "" {
		c.Telegram.Token = env.TelegramToken
	}
	if env.TelegramChatID != "" {
		c.Telegram.ChatID = env.TelegramChatID
	}
	if env.TelegramWebhookSecret != "" {
		c.Telegram.WebhookSecret = env.TelegramWebhookSecret
	}
	if env.DatabasePath != "" {
		c.Database.Path = env.DatabasePath
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
}

// Validate rejects values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Classifier.SimilarityThreshold <= 0 || c.Classifier.SimilarityThreshold > 1 {
		return fmt.Errorf("classifier.similarity_threshold must be in (0, 1]")
	}
	if c.Dedup.TitleThreshold <= 0 || c.Dedup.TitleThreshold > 1 {
		return fmt.Errorf("dedup.title_threshold must be in (0, 1]")
	}
	if c.Extraction.MaxAttempts < 1 {
		return fmt.Errorf("extraction.max_attempts must be >= 1")
	}
	if c.Extraction.MaxChars < 1 {
		return fmt.Errorf("extraction.max_chars must be >= 1")
	}
	if c.Extraction.MinSummaryWords < 0 {
		return fmt.Errorf("extraction.min_summary_words must be >= 0")
	}
	if c.Run.Throttle < 0 || c.Run.RateLimitBackoff < 0 {
		return fmt.Errorf("run durations must be >= 0")
	}
	if strings.TrimSpace(c.Run.Language) == "" {
		return fmt.Errorf("run.language is required")
	}
	return nil
}
