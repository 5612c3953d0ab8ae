package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, GATEWAY_BASE_URL, etc.)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables use underscore separator and are uppercased; the
// first underscore splits section from field name:
//
//	SERVER_PORT          -> server.port
//	GATEWAY_BASE_URL     -> gateway.base_url
//	EVENTS_RETRY_INTERVAL -> events.retry_interval
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
		} else {
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultRounds returns the built-in round table. The gateway-issued
// duration overrides DefaultDuration at round start.
func DefaultRounds() map[string]RoundConfig {
	return map[string]RoundConfig{
		"coding":              {DefaultDuration: Duration(60 * time.Minute), PassThreshold: 70, MaxAttempts: 1, Retryable: false},
		"live_coding":         {DefaultDuration: Duration(45 * time.Minute), PassThreshold: 70, MaxAttempts: 1, Retryable: false},
		"system_design":       {DefaultDuration: Duration(45 * time.Minute), PassThreshold: 70, MaxAttempts: 1, Retryable: false},
		"aptitude":            {DefaultDuration: Duration(30 * time.Minute), PassThreshold: 60, MaxAttempts: 2, Retryable: true},
		"core_competency":     {DefaultDuration: Duration(60 * time.Minute), PassThreshold: 60, MaxAttempts: 2, Retryable: true},
		"technical_interview": {DefaultDuration: Duration(40 * time.Minute), PassThreshold: 60, MaxAttempts: 1, Retryable: false},
		"hr_interview":        {DefaultDuration: Duration(30 * time.Minute), PassThreshold: 60, MaxAttempts: 1, Retryable: false},
		"quantitative":        {DefaultDuration: Duration(45 * time.Minute), PassThreshold: 65, MaxAttempts: 2, Retryable: true},
		"sql":                 {DefaultDuration: Duration(60 * time.Minute), PassThreshold: 60, MaxAttempts: 2, Retryable: true},
		"case_study":          {DefaultDuration: Duration(45 * time.Minute), PassThreshold: 60, MaxAttempts: 1, Retryable: false},
		"domain_interview":    {DefaultDuration: Duration(40 * time.Minute), PassThreshold: 60, MaxAttempts: 1, Retryable: false},
	}
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "http://localhost:9200"
	}
	if cfg.Gateway.RequestTimeout == 0 {
		cfg.Gateway.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = 3
	}
	if cfg.Gateway.InitialBackoff == 0 {
		cfg.Gateway.InitialBackoff = Duration(time.Second)
	}
	if cfg.Gateway.MaxBackoff == 0 {
		cfg.Gateway.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Gateway.SyncRateLimit == 0 {
		cfg.Gateway.SyncRateLimit = 1 // one best-effort sync per second
	}
	if cfg.Gateway.SyncBurst == 0 {
		cfg.Gateway.SyncBurst = 3
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "assessments"
	}
	if cfg.Events.RetryInterval == 0 {
		cfg.Events.RetryInterval = Duration(5 * time.Second)
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 256
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Rounds == nil {
		cfg.Rounds = DefaultRounds()
	} else {
		// Fill gaps so a partial rounds table never loses a kind.
		for kind, def := range DefaultRounds() {
			rc, ok := cfg.Rounds[kind]
			if !ok {
				cfg.Rounds[kind] = def
				continue
			}
			if rc.DefaultDuration == 0 {
				rc.DefaultDuration = def.DefaultDuration
			}
			if rc.PassThreshold == 0 {
				rc.PassThreshold = def.PassThreshold
			}
			if rc.MaxAttempts == 0 {
				rc.MaxAttempts = def.MaxAttempts
			}
			cfg.Rounds[kind] = rc
		}
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Gateway.BaseURL, "http://") && !strings.HasPrefix(c.Gateway.BaseURL, "https://") {
		return fmt.Errorf("gateway base_url must be an http(s) URL, got %q", c.Gateway.BaseURL)
	}
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("gateway max_retries must be >= 0, got %d", c.Gateway.MaxRetries)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events url is required when events are enabled")
	}
	for kind, rc := range c.Rounds {
		if rc.PassThreshold < 0 || rc.PassThreshold > 100 {
			return fmt.Errorf("round %q: pass_threshold must be 0-100, got %d", kind, rc.PassThreshold)
		}
		if rc.MaxAttempts < 1 {
			return fmt.Errorf("round %q: max_attempts must be >= 1, got %d", kind, rc.MaxAttempts)
		}
		if rc.DefaultDuration.Duration() <= 0 {
			return fmt.Errorf("round %q: default_duration must be > 0", kind)
		}
	}
	return nil
}

// RoundFor returns the config for a round kind, falling back to the shipped
// defaults for kinds missing from the loaded file.
func (c *Config) RoundFor(kind string) RoundConfig {
	if rc, ok := c.Rounds[kind]; ok {
		return rc
	}
	if rc, ok := DefaultRounds()[kind]; ok {
		return rc
	}
	return RoundConfig{
		DefaultDuration: Duration(30 * time.Minute),
		PassThreshold:   60,
		MaxAttempts:     1,
	}
}
