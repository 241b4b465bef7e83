package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env.
// Unknown keys in the file are rejected rather than silently accepted.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setDefaults(cfg)

	l.v.SetEnvPrefix("FLEETEXEC")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.loadConfigFile(); err != nil {
		// The config file is optional; only error when one was named.
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.UnmarshalExact(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Audit.Path = expandTilde(cfg.Audit.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setDefaults(cfg *Config) {
	l.v.SetDefault("logging.level", cfg.Logging.Level)
	l.v.SetDefault("logging.format", cfg.Logging.Format)
	l.v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	l.v.SetDefault("audit.path", cfg.Audit.Path)
	l.v.SetDefault("audit.min_level", cfg.Audit.MinLevel)
	l.v.SetDefault("audit.retention_days", cfg.Audit.RetentionDays)
	l.v.SetDefault("session_defaults.username", cfg.SessionDefaults.Username)
	l.v.SetDefault("session_defaults.port", cfg.SessionDefaults.Port)
	l.v.SetDefault("session_defaults.connect_timeout_seconds", cfg.SessionDefaults.ConnectTimeoutSeconds)
	l.v.SetDefault("session_defaults.keep_alive_seconds", cfg.SessionDefaults.KeepAliveSeconds)
	l.v.SetDefault("session_defaults.reconnect_attempts", cfg.SessionDefaults.ReconnectAttempts)
	l.v.SetDefault("session_defaults.reconnect_delay_base_ms", cfg.SessionDefaults.ReconnectDelayBaseMs)
	l.v.SetDefault("session_defaults.compression", cfg.SessionDefaults.Compression)
	l.v.SetDefault("session_defaults.compression_level", cfg.SessionDefaults.CompressionLevel)
	l.v.SetDefault("batch_defaults.max_concurrent", cfg.BatchDefaults.MaxConcurrent)
	l.v.SetDefault("batch_defaults.retry_failed_hosts", cfg.BatchDefaults.RetryFailedHosts)
	l.v.SetDefault("batch_defaults.retry_interval_seconds", cfg.BatchDefaults.RetryIntervalSeconds)
	l.v.SetDefault("batch_defaults.retry_max_attempts", cfg.BatchDefaults.RetryMaxAttempts)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "fleetexec"))
	}
	l.v.AddConfigPath(".")
	return l.v.ReadInConfig()
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
