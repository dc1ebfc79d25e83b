package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/christian-lee/subtrans/internal/model"
)

// Config is the root daemon configuration: provider endpoints, per-model
// pricing, quotas, and the three dispatch queues.
type Config struct {
	Providers   []ProviderEntry   `yaml:"providers" json:"providers"`
	Models      []ModelEntry      `yaml:"models" json:"models"`
	Quotas      []QuotaEntry      `yaml:"quotas" json:"quotas"`
	Queues      QueuesConfig      `yaml:"queues" json:"queues"`
	Translation TranslationConfig `yaml:"translation" json:"translation"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Webhook     WebhookConfig     `yaml:"webhook" json:"webhook"`
}

type ProviderEntry struct {
	Name     string `yaml:"name" json:"name"`
	Family   string `yaml:"family" json:"family"` // local_host | openai_compat | anthropic | google
	BaseURL  string `yaml:"base_url" json:"base_url"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Priority int    `yaml:"priority" json:"priority"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

type ModelEntry struct {
	Provider           string  `yaml:"provider" json:"provider"`
	Model              string  `yaml:"model" json:"model"`
	PricePerMillionIn  float64 `yaml:"price_per_million_in" json:"price_per_million_in"`
	PricePerMillionOut float64 `yaml:"price_per_million_out" json:"price_per_million_out"`
	SupportsStreaming  bool    `yaml:"supports_streaming" json:"supports_streaming"`
}

type QuotaEntry struct {
	Provider                  string  `yaml:"provider" json:"provider"`
	Period                    string  `yaml:"period" json:"period"` // daily | monthly
	MaxRequests               int64   `yaml:"max_requests" json:"max_requests"`
	MaxCostUSD                float64 `yaml:"max_cost_usd" json:"max_cost_usd"`
	AutoDisableOnStrictBreach bool    `yaml:"auto_disable_on_strict_breach" json:"auto_disable_on_strict_breach"`
}

type QueuesConfig struct {
	ScanConcurrency      int `yaml:"scan_concurrency" json:"scan_concurrency"`
	ASRConcurrency       int `yaml:"asr_concurrency" json:"asr_concurrency"`
	TranslateConcurrency int `yaml:"translate_concurrency" json:"translate_concurrency"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" json:"shutdown_grace_seconds"`
}

// TranslationConfig tunes the mt phase's batching and formatting.
type TranslationConfig struct {
	BatchSize     int `yaml:"batch_size" json:"batch_size"`
	MaxLineLength int `yaml:"max_line_length" json:"max_line_length"`
}

type StoreConfig struct {
	JobDBPath   string `yaml:"job_db_path" json:"job_db_path"`
	QuotaDBPath string `yaml:"quota_db_path" json:"quota_db_path"`
	CacheDBPath string `yaml:"cache_db_path" json:"cache_db_path"`
	TaskLogCSV  string `yaml:"task_log_csv" json:"task_log_csv"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
}

type WebhookConfig struct {
	URL string `yaml:"url" json:"url"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Queues: QueuesConfig{
			ScanConcurrency:      4,
			ASRConcurrency:       2,
			TranslateConcurrency: 8,
			ShutdownGraceSeconds: 10,
		},
		Store: StoreConfig{
			JobDBPath:   "subtrans-jobs.db",
			QuotaDBPath: "subtrans-quota.db",
			CacheDBPath: "subtrans-cache.db",
			TaskLogCSV:  "subtrans-tasklog.csv",
		},
		Translation: TranslationConfig{
			BatchSize:     10,
			MaxLineLength: 42,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Resolve any relative DB/log paths against the config file's directory.
	configDir := filepath.Dir(path)
	cfg.Store.JobDBPath = resolveRelative(configDir, cfg.Store.JobDBPath)
	cfg.Store.QuotaDBPath = resolveRelative(configDir, cfg.Store.QuotaDBPath)
	cfg.Store.CacheDBPath = resolveRelative(configDir, cfg.Store.CacheDBPath)
	cfg.Store.TaskLogCSV = resolveRelative(configDir, cfg.Store.TaskLogCSV)

	for i := range cfg.Providers {
		if cfg.Providers[i].Priority == 0 {
			cfg.Providers[i].Priority = 100
		}
	}
	for i := range cfg.Quotas {
		if cfg.Quotas[i].Period == "" {
			cfg.Quotas[i].Period = string(model.QuotaDaily)
		}
	}
	if cfg.Translation.BatchSize <= 0 {
		cfg.Translation.BatchSize = 10
	}
	if cfg.Translation.MaxLineLength <= 0 {
		cfg.Translation.MaxLineLength = 42
	}
	if cfg.Queues.ScanConcurrency <= 0 {
		cfg.Queues.ScanConcurrency = 4
	}
	if cfg.Queues.ASRConcurrency <= 0 {
		cfg.Queues.ASRConcurrency = 2
	}
	if cfg.Queues.TranslateConcurrency <= 0 {
		cfg.Queues.TranslateConcurrency = 8
	}
	if cfg.Queues.ShutdownGraceSeconds <= 0 {
		cfg.Queues.ShutdownGraceSeconds = 10
	}

	return cfg, nil
}

func resolveRelative(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Save writes the config back to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// FindProvider returns the provider entry with the given name.
func (c *Config) FindProvider(name string) *ProviderEntry {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// FindModel returns pricing/capability metadata for a provider/model pair.
func (c *Config) FindModel(provider, modelName string) *ModelEntry {
	for i := range c.Models {
		if c.Models[i].Provider == provider && c.Models[i].Model == modelName {
			return &c.Models[i]
		}
	}
	return nil
}

// FindQuota returns the quota entry for a provider/period pair.
func (c *Config) FindQuota(provider string, period string) *QuotaEntry {
	for i := range c.Quotas {
		if c.Quotas[i].Provider == provider && c.Quotas[i].Period == period {
			return &c.Quotas[i]
		}
	}
	return nil
}
