// Package config handles FleetExec configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Audit settings
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// SessionDefaults seed the per-batch session template.
	SessionDefaults SessionDefaults `yaml:"session_defaults" mapstructure:"session_defaults"`

	// BatchDefaults seed batch requests.
	BatchDefaults BatchDefaults `yaml:"batch_defaults" mapstructure:"batch_defaults"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`
}

// AuditConfig contains audit sink settings.
type AuditConfig struct {
	// Enabled turns the SQLite audit sink on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the audit database file (default: ~/.local/share/fleetexec/audit.db).
	Path string `yaml:"path" mapstructure:"path"`

	// MinLevel drops records below this level.
	MinLevel string `yaml:"min_level" mapstructure:"min_level"`

	// RetentionDays removes older records at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

// SessionDefaults contains default per-session settings.
type SessionDefaults struct {
	// Username is the default SSH user.
	Username string `yaml:"username" mapstructure:"username"`

	// Port is the default SSH port for hosts without one.
	Port int `yaml:"port" mapstructure:"port"`

	// ConnectTimeoutSeconds caps connection establishment (1..300).
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`

	// KeepAliveSeconds is the keep-alive ping interval. 0 disables.
	KeepAliveSeconds int `yaml:"keep_alive_seconds" mapstructure:"keep_alive_seconds"`

	// ReconnectAttempts is the connect-level retry count (0..10).
	ReconnectAttempts int `yaml:"reconnect_attempts" mapstructure:"reconnect_attempts"`

	// ReconnectDelayBaseMs is the first reconnect delay in milliseconds
	// (100..10000).
	ReconnectDelayBaseMs int `yaml:"reconnect_delay_base_ms" mapstructure:"reconnect_delay_base_ms"`

	// Compression requests transport compression.
	Compression bool `yaml:"compression" mapstructure:"compression"`

	// CompressionLevel is 1..9 when compression is on.
	CompressionLevel int `yaml:"compression_level" mapstructure:"compression_level"`
}

// BatchDefaults contains default batch settings.
type BatchDefaults struct {
	// MaxConcurrent bounds simultaneous sessions (1..500).
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// RetryFailedHosts re-queues retryable failures.
	RetryFailedHosts bool `yaml:"retry_failed_hosts" mapstructure:"retry_failed_hosts"`

	// RetryIntervalSeconds is the pause between retry rounds.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds" mapstructure:"retry_interval_seconds"`

	// RetryMaxAttempts caps retry rounds; 0 means unbounded.
	RetryMaxAttempts int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Audit: AuditConfig{
			Enabled:       true,
			Path:          "~/.local/share/fleetexec/audit.db",
			MinLevel:      "INFO",
			RetentionDays: 30,
		},
		SessionDefaults: SessionDefaults{
			Username:              "root",
			Port:                  22,
			ConnectTimeoutSeconds: 10,
			KeepAliveSeconds:      30,
			ReconnectAttempts:     2,
			ReconnectDelayBaseMs:  1000,
		},
		BatchDefaults: BatchDefaults{
			MaxConcurrent:        50,
			RetryIntervalSeconds: 30,
			RetryMaxAttempts:     3,
		},
	}
}

// Validate checks every field against its allowed range.
func (c *Config) Validate() error {
	s := c.SessionDefaults
	if s.ConnectTimeoutSeconds < 1 || s.ConnectTimeoutSeconds > 300 {
		return fmt.Errorf("session_defaults.connect_timeout_seconds %d out of range [1,300]", s.ConnectTimeoutSeconds)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("session_defaults.port %d out of range [1,65535]", s.Port)
	}
	if s.ReconnectAttempts < 0 || s.ReconnectAttempts > 10 {
		return fmt.Errorf("session_defaults.reconnect_attempts %d out of range [0,10]", s.ReconnectAttempts)
	}
	if s.ReconnectDelayBaseMs != 0 && (s.ReconnectDelayBaseMs < 100 || s.ReconnectDelayBaseMs > 10000) {
		return fmt.Errorf("session_defaults.reconnect_delay_base_ms %d out of range [100,10000]", s.ReconnectDelayBaseMs)
	}
	if s.Compression && (s.CompressionLevel < 1 || s.CompressionLevel > 9) {
		return fmt.Errorf("session_defaults.compression_level %d out of range [1,9]", s.CompressionLevel)
	}

	b := c.BatchDefaults
	if b.MaxConcurrent < 1 || b.MaxConcurrent > 500 {
		return fmt.Errorf("batch_defaults.max_concurrent %d out of range [1,500]", b.MaxConcurrent)
	}
	if b.RetryMaxAttempts < 0 {
		return fmt.Errorf("batch_defaults.retry_max_attempts must be >= 0")
	}
	return nil
}

// ConnectTimeout returns the default connect timeout as a duration.
func (s SessionDefaults) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

// KeepAlive returns the keep-alive interval as a duration.
func (s SessionDefaults) KeepAlive() time.Duration {
	return time.Duration(s.KeepAliveSeconds) * time.Second
}

// ReconnectDelayBase returns the base reconnect delay as a duration.
func (s SessionDefaults) ReconnectDelayBase() time.Duration {
	return time.Duration(s.ReconnectDelayBaseMs) * time.Millisecond
}

// RetryInterval returns the batch retry interval as a duration.
func (b BatchDefaults) RetryInterval() time.Duration {
	return time.Duration(b.RetryIntervalSeconds) * time.Second
}
