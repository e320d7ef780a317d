package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel            = "gpt-4o-mini"
	DefaultMaxTokens        = 4096
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultEmbeddingTimeout = 15000
	DefaultEmbeddingBatch   = 32
	DefaultIntentThreshold  = 0.72
	DefaultTickInterval     = "2m"
	DefaultFlywheelHourUTC  = 4
	DefaultQueueWorkers     = 4
	DefaultJobTimeout       = "5m"
	DefaultMaxRetries       = 2
)

type Config struct {
	Workspace string          `json:"workspace"`
	Provider  ProviderConfig  `json:"provider"`
	Embedding EmbeddingConfig `json:"embedding"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queue     QueueConfig     `json:"queue"`
	Intent    IntentConfig    `json:"intent"`
	Delivery  DeliveryConfig  `json:"delivery"`
}

// ProviderConfig points at an OpenAI-compatible chat completions endpoint.
type ProviderConfig struct {
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider,omitempty"` // "api" (default) or "ollama"
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type SchedulerConfig struct {
	TickInterval    string `json:"tickInterval"`
	FlywheelHourUTC int    `json:"flywheelHourUtc"`
}

type QueueConfig struct {
	Workers    int    `json:"workers"`
	JobTimeout string `json:"jobTimeout"`
	MaxRetries int    `json:"maxRetries"`
}

type IntentConfig struct {
	Threshold float64 `json:"threshold"`
}

type DeliveryConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: filepath.Join(home, ".briefops"),
		Provider: ProviderConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Embedding: EmbeddingConfig{
			Model:     DefaultEmbeddingModel,
			TimeoutMs: DefaultEmbeddingTimeout,
			BatchSize: DefaultEmbeddingBatch,
		},
		Scheduler: SchedulerConfig{
			TickInterval:    DefaultTickInterval,
			FlywheelHourUTC: DefaultFlywheelHourUTC,
		},
		Queue: QueueConfig{
			Workers:    DefaultQueueWorkers,
			JobTimeout: DefaultJobTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Intent: IntentConfig{
			Threshold: DefaultIntentThreshold,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".briefops")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("BRIEFOPS_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("BRIEFOPS_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("BRIEFOPS_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if key := os.Getenv("BRIEFOPS_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if url := os.Getenv("BRIEFOPS_EMBEDDING_BASE_URL"); url != "" {
		cfg.Embedding.BaseURL = url
	}
	if model := os.Getenv("BRIEFOPS_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if dbPath := os.Getenv("BRIEFOPS_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if token := os.Getenv("BRIEFOPS_TELEGRAM_TOKEN"); token != "" {
		cfg.Delivery.Telegram.Token = token
		cfg.Delivery.Telegram.Enabled = true
	}
	if workers := os.Getenv("BRIEFOPS_QUEUE_WORKERS"); workers != "" {
		if parsed, err := strconv.Atoi(workers); err == nil && parsed >= 0 {
			cfg.Queue.Workers = parsed
		}
	}
	if threshold := os.Getenv("BRIEFOPS_INTENT_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Intent.Threshold = parsed
		}
	}

	if cfg.Workspace == "" {
		cfg.Workspace = DefaultConfig().Workspace
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(cfg.Workspace, "briefops.db")
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = DefaultTickInterval
	}
	if cfg.Scheduler.FlywheelHourUTC < 0 || cfg.Scheduler.FlywheelHourUTC > 23 {
		cfg.Scheduler.FlywheelHourUTC = DefaultFlywheelHourUTC
	}
	if cfg.Queue.Workers < 0 {
		cfg.Queue.Workers = DefaultQueueWorkers
	}
	if cfg.Queue.JobTimeout == "" {
		cfg.Queue.JobTimeout = DefaultJobTimeout
	}
	if cfg.Queue.MaxRetries < 0 {
		cfg.Queue.MaxRetries = DefaultMaxRetries
	}
	if cfg.Intent.Threshold <= 0 || cfg.Intent.Threshold > 1 {
		cfg.Intent.Threshold = DefaultIntentThreshold
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
