// Package config loads finsight configuration from YAML with defaults
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the completion model.
type LLMConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured request timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// StoreConfig configures the local document store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// CaptureConfig configures the browser price-capture engine.
type CaptureConfig struct {
	Headless            bool   `yaml:"headless"`
	BrowserBin          string `yaml:"browser_bin"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	ReadyTimeoutMs      int    `yaml:"ready_timeout_ms"`
	DataTimeoutMs       int    `yaml:"data_timeout_ms"`
	ClickRetries        int    `yaml:"click_retries"`
}

// NavigationTimeout returns the page navigation timeout.
func (c CaptureConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ReadyTimeout returns the page ready-state wait.
func (c CaptureConfig) ReadyTimeout() time.Duration {
	if c.ReadyTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// DataTimeout returns the chart data wait.
func (c CaptureConfig) DataTimeout() time.Duration {
	if c.DataTimeoutMs <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.DataTimeoutMs) * time.Millisecond
}

// Retries returns the bounded button-click attempt count.
func (c CaptureConfig) Retries() int {
	if c.ClickRetries <= 0 {
		return 3
	}
	return c.ClickRetries
}

// DownloadConfig configures the document downloader.
type DownloadConfig struct {
	BaseURL        string `yaml:"base_url"`
	UserAgent      string `yaml:"user_agent"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the HTTP timeout for downloads.
func (c DownloadConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Directory string `yaml:"directory"`
	Debug     bool   `yaml:"debug"`
}

// Config is the root configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Capture   CaptureConfig   `yaml:"capture"`
	Download  DownloadConfig  `yaml:"download"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			TimeoutSeconds: 120,
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "text-embedding-004",
		},
		Store: StoreConfig{
			DatabasePath: "finsight.db",
		},
		Capture: CaptureConfig{
			Headless:            true,
			NavigationTimeoutMs: 30000,
			ReadyTimeoutMs:      20000,
			DataTimeoutMs:       25000,
			ClickRetries:        3,
		},
		Download: DownloadConfig{
			BaseURL:        "https://www.screener.in",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			TimeoutSeconds: 60,
		},
		Logging: LoggingConfig{
			Directory: ".finsight/logs",
		},
	}
}

// Load reads a YAML config file and merges it over defaults. A missing
// file is not an error; the defaults are returned. Environment variables
// override file values for API keys.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
		if cfg.Embedding.GenAIAPIKey == "" {
			cfg.Embedding.GenAIAPIKey = key
		}
	}
	if db := os.Getenv("FINSIGHT_DB"); db != "" {
		cfg.Store.DatabasePath = db
	}
}
