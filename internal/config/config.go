// Package config provides YAML-based configuration loading for voz, with
// environment overrides for secrets and deployment toggles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level voz configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Voice     VoiceConfig     `yaml:"voice"`
	Retention RetentionConfig `yaml:"retention"`
	Recap     RecapConfig     `yaml:"recap"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	WebDir string `yaml:"web_dir"`
}

// StorageConfig selects the key-value backend: sqlite, bolt, memory or none.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// VoiceConfig holds the hosted voice SDK settings. DesignMode replaces every
// SDK call with a local simulation.
type VoiceConfig struct {
	APIKey         string        `yaml:"api_key"`
	AssistantID    string        `yaml:"assistant_id"`
	DesignMode     bool          `yaml:"design_mode"`
	DesignInterval time.Duration `yaml:"design_interval"`
}

type RetentionConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
}

type RecapConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxMessages int           `yaml:"max_messages"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads a YAML config file from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("VAPI_PUBLIC_KEY", &c.Voice.APIKey)
	str("VAPI_ASSISTANT_ID", &c.Voice.AssistantID)
	str("VOZ_STORAGE_DRIVER", &c.Storage.Driver)
	str("VOZ_STORAGE_PATH", &c.Storage.Path)
	str("VOZ_ADDR", &c.Server.Addr)
	str("OPENAI_API_KEY", &c.Recap.Token)

	if v, ok := lookup("VAPI_DISABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: VAPI_DISABLED=%q: %w", v, err)
		}
		c.Voice.DesignMode = b
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8100"
	}
	if c.Server.WebDir == "" {
		c.Server.WebDir = "web"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case "bolt":
			c.Storage.Path = "voz.bolt"
		default:
			c.Storage.Path = "voz.db"
		}
	}
	if c.Voice.DesignInterval == 0 {
		c.Voice.DesignInterval = 1500 * time.Millisecond
	}
	if c.Retention.MinDuration == 0 {
		c.Retention.MinDuration = 10 * time.Second
	}
	if c.Recap.BaseURL == "" {
		c.Recap.BaseURL = "http://localhost:11434/v1/"
	}
	if c.Recap.Model == "" {
		c.Recap.Model = "llama3.1:8b"
	}
	if c.Recap.Timeout == 0 {
		c.Recap.Timeout = 10 * time.Second
	}
	if c.Recap.MaxMessages == 0 {
		c.Recap.MaxMessages = 12
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all values are consistent.
func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "bolt", "memory", "none":
	default:
		return fmt.Errorf("config: storage.driver %q must be one of sqlite, bolt, memory, none", c.Storage.Driver)
	}
	if c.Voice.DesignInterval < 0 {
		return fmt.Errorf("config: voice.design_interval must be positive")
	}
	if c.Retention.MinDuration < 0 {
		return fmt.Errorf("config: retention.min_duration must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// RequireVoice reports whether the live voice SDK can be used: either design
// mode is on, or both the API key and assistant id are set.
func (c *Config) RequireVoice() error {
	if c.Voice.DesignMode {
		return nil
	}
	if c.Voice.APIKey == "" {
		return fmt.Errorf("config: voice.api_key (or VAPI_PUBLIC_KEY) is required unless design mode is on")
	}
	if c.Voice.AssistantID == "" {
		return fmt.Errorf("config: voice.assistant_id (or VAPI_ASSISTANT_ID) is required unless design mode is on")
	}
	return nil
}
