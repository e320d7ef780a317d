package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider.Model != DefaultModel {
		t.Errorf("Model=%q", cfg.Provider.Model)
	}
	if cfg.Intent.Threshold != DefaultIntentThreshold {
		t.Errorf("Threshold=%v", cfg.Intent.Threshold)
	}
	if cfg.Queue.Workers != DefaultQueueWorkers {
		t.Errorf("Workers=%d", cfg.Queue.Workers)
	}
	if cfg.Scheduler.TickInterval != DefaultTickInterval {
		t.Errorf("TickInterval=%q", cfg.Scheduler.TickInterval)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BRIEFOPS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BRIEFOPS_MODEL", "")
	t.Setenv("BRIEFOPS_QUEUE_WORKERS", "")

	dir := filepath.Join(home, ".briefops")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := map[string]any{
		"provider": map[string]any{"apiKey": "file-key", "model": "gpt-4o"},
		"queue":    map[string]any{"workers": 8, "jobTimeout": "10m", "maxRetries": 1},
		"intent":   map[string]any{"threshold": 0.8},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Provider.APIKey != "file-key" || cfg.Provider.Model != "gpt-4o" {
		t.Fatalf("provider=%+v", cfg.Provider)
	}
	if cfg.Queue.Workers != 8 {
		t.Fatalf("Workers=%d", cfg.Queue.Workers)
	}
	if cfg.Intent.Threshold != 0.8 {
		t.Fatalf("Threshold=%v", cfg.Intent.Threshold)
	}
	if cfg.Store.DBPath == "" {
		t.Fatal("DBPath default not applied")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BRIEFOPS_API_KEY", "env-key")
	t.Setenv("BRIEFOPS_MODEL", "env-model")
	t.Setenv("BRIEFOPS_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("BRIEFOPS_QUEUE_WORKERS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Fatalf("APIKey=%q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "env-model" {
		t.Fatalf("Model=%q", cfg.Provider.Model)
	}
	if !cfg.Delivery.Telegram.Enabled || cfg.Delivery.Telegram.Token != "tg-token" {
		t.Fatalf("telegram=%+v", cfg.Delivery.Telegram)
	}
	if cfg.Queue.Workers != 2 {
		t.Fatalf("Workers=%d", cfg.Queue.Workers)
	}
}

func TestLoadConfigClampsInvalidValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("BRIEFOPS_INTENT_THRESHOLD", "")

	dir := filepath.Join(home, ".briefops")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := `{"intent":{"threshold":1.7},"scheduler":{"flywheelHourUtc":99},"queue":{"workers":-1}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(raw), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Intent.Threshold != DefaultIntentThreshold {
		t.Fatalf("Threshold=%v, want default", cfg.Intent.Threshold)
	}
	if cfg.Scheduler.FlywheelHourUTC != DefaultFlywheelHourUTC {
		t.Fatalf("FlywheelHourUTC=%d, want default", cfg.Scheduler.FlywheelHourUTC)
	}
	if cfg.Queue.Workers != DefaultQueueWorkers {
		t.Fatalf("Workers=%d, want default", cfg.Queue.Workers)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BRIEFOPS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BRIEFOPS_MODEL", "")
	t.Setenv("BRIEFOPS_TELEGRAM_TOKEN", "")
	t.Setenv("BRIEFOPS_QUEUE_WORKERS", "")

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "saved-key"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Provider.APIKey != "saved-key" {
		t.Fatalf("APIKey=%q after round trip", loaded.Provider.APIKey)
	}
}
