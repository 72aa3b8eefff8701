package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ModelEntry declares one synthesis model in the catalog section.
type ModelEntry struct {
	ID              string   `json:"id" yaml:"id" toml:"id"`
	Name            string   `json:"name" yaml:"name" toml:"name"`
	Languages       []string `json:"languages" yaml:"languages" toml:"languages"`
	MultiSpeaker    bool     `json:"multi_speaker" yaml:"multi_speaker" toml:"multi_speaker"`
	VoiceCloning    bool     `json:"voice_cloning" yaml:"voice_cloning" toml:"voice_cloning"`
	VoiceConversion bool     `json:"voice_conversion" yaml:"voice_conversion" toml:"voice_conversion"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir  string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Engine endpoint serving the neural synthesis models.
	EngineURL            string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	EngineTimeoutSeconds int    `json:"engine_timeout_seconds" yaml:"engine_timeout_seconds" toml:"engine_timeout_seconds"`

	// Catalog and request defaults.
	Models        []ModelEntry `json:"models" yaml:"models" toml:"models"`
	DefaultModel  string       `json:"default_model" yaml:"default_model" toml:"default_model"`
	DefaultFormat string       `json:"default_format" yaml:"default_format" toml:"default_format"`
	DefaultDevice string       `json:"default_device" yaml:"default_device" toml:"default_device"`
	MaxTextLen    int          `json:"max_text_len" yaml:"max_text_len" toml:"max_text_len"`
	MaxBodyBytes  int64        `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	// Per-device concurrency budgets (device name -> parallel inferences).
	Devices map[string]int `json:"devices" yaml:"devices" toml:"devices"`

	// Admission queueing.
	QueueDepth       int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	QueueWaitSeconds int `json:"queue_wait_seconds" yaml:"queue_wait_seconds" toml:"queue_wait_seconds"`

	// Model lifecycle.
	LoadTimeoutSeconds  int `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`
	LoadCooldownSeconds int `json:"load_cooldown_seconds" yaml:"load_cooldown_seconds" toml:"load_cooldown_seconds"`
	IdleTimeoutSeconds  int `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	MaxLoadedModels     int `json:"max_loaded_models" yaml:"max_loaded_models" toml:"max_loaded_models"`

	// Request waits.
	WaitTimeoutSeconds      int `json:"wait_timeout_seconds" yaml:"wait_timeout_seconds" toml:"wait_timeout_seconds"`
	InferenceTimeoutSeconds int `json:"inference_timeout_seconds" yaml:"inference_timeout_seconds" toml:"inference_timeout_seconds"`

	// Artifact retention.
	ArtifactTTLSeconds     int   `json:"artifact_ttl_seconds" yaml:"artifact_ttl_seconds" toml:"artifact_ttl_seconds"`
	StorageQuotaBytes      int64 `json:"storage_quota_bytes" yaml:"storage_quota_bytes" toml:"storage_quota_bytes"`
	ReclaimIntervalSeconds int   `json:"reclaim_interval_seconds" yaml:"reclaim_interval_seconds" toml:"reclaim_interval_seconds"`

	// CORS (opt-in).
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// WithDefaults fills unset fields with package defaults and returns the result.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.EngineURL == "" {
		c.EngineURL = "http://127.0.0.1:5002"
	}
	if c.EngineTimeoutSeconds <= 0 {
		c.EngineTimeoutSeconds = 120
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = "wav"
	}
	if c.DefaultDevice == "" {
		c.DefaultDevice = "cpu"
	}
	if c.MaxTextLen <= 0 {
		c.MaxTextLen = 1000
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 8 << 20
	}
	if len(c.Devices) == 0 {
		c.Devices = map[string]int{"cpu": 2}
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 32
	}
	if c.QueueWaitSeconds <= 0 {
		c.QueueWaitSeconds = 30
	}
	if c.LoadTimeoutSeconds <= 0 {
		c.LoadTimeoutSeconds = 120
	}
	if c.LoadCooldownSeconds <= 0 {
		c.LoadCooldownSeconds = 60
	}
	if c.IdleTimeoutSeconds <= 0 {
		c.IdleTimeoutSeconds = 1800
	}
	if c.MaxLoadedModels <= 0 {
		c.MaxLoadedModels = 3
	}
	if c.WaitTimeoutSeconds <= 0 {
		c.WaitTimeoutSeconds = 300
	}
	if c.InferenceTimeoutSeconds <= 0 {
		c.InferenceTimeoutSeconds = 300
	}
	if c.ArtifactTTLSeconds <= 0 {
		c.ArtifactTTLSeconds = 24 * 3600
	}
	if c.ReclaimIntervalSeconds <= 0 {
		c.ReclaimIntervalSeconds = 3600
	}
	return c
}

// EngineTimeout returns the engine HTTP timeout as a duration.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.EngineTimeoutSeconds) * time.Second
}

// QueueWait returns the admission queue wait as a duration.
func (c Config) QueueWait() time.Duration {
	return time.Duration(c.QueueWaitSeconds) * time.Second
}

// LoadTimeout returns the model load wait as a duration.
func (c Config) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSeconds) * time.Second
}

// LoadCooldown returns the failed-load retry cooldown as a duration.
func (c Config) LoadCooldown() time.Duration {
	return time.Duration(c.LoadCooldownSeconds) * time.Second
}

// IdleTimeout returns the handle idle-eviction window as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// WaitTimeout returns the shared-computation wait as a duration.
func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

// InferenceTimeout returns the per-inference deadline as a duration.
func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSeconds) * time.Second
}

// ArtifactTTL returns the artifact expiry window as a duration.
func (c Config) ArtifactTTL() time.Duration {
	return time.Duration(c.ArtifactTTLSeconds) * time.Second
}

// ReclaimInterval returns the background reclamation period as a duration.
func (c Config) ReclaimInterval() time.Duration {
	return time.Duration(c.ReclaimIntervalSeconds) * time.Second
}
