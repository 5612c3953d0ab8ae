// Package config provides configuration loading for assessd.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config holds the complete assessd configuration.
type Config struct {
	Server    ServerConfig           `koanf:"server"`
	Gateway   GatewayConfig          `koanf:"gateway"`
	Events    EventsConfig           `koanf:"events"`
	Logging   LoggingRef             `koanf:"logging"`
	Telemetry TelemetryRef           `koanf:"telemetry"`
	Rounds    map[string]RoundConfig `koanf:"rounds"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// GatewayConfig holds evaluation gateway client configuration.
type GatewayConfig struct {
	BaseURL        string   `koanf:"base_url"`
	RequestTimeout Duration `koanf:"request_timeout"`
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	SyncRateLimit  float64  `koanf:"sync_rate_limit"`
	SyncBurst      int      `koanf:"sync_burst"`
}

// EventsConfig holds lifecycle event publishing configuration.
type EventsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	RetryInterval Duration `koanf:"retry_interval"`
	BufferSize    int      `koanf:"buffer_size"`
}

// LoggingRef mirrors the logging package config so the whole file
// unmarshals in one pass. See internal/logging for semantics.
type LoggingRef struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryRef mirrors the telemetry package config.
type TelemetryRef struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
}

// RoundConfig holds per-round-kind tuning. The gateway-issued duration
// always wins; DefaultDuration is the fallback when the gateway omits it.
type RoundConfig struct {
	DefaultDuration Duration `koanf:"default_duration"`
	PassThreshold   int      `koanf:"pass_threshold"`
	MaxAttempts     int      `koanf:"max_attempts"`
	Retryable       bool     `koanf:"retryable"`
}
