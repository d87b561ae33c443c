// Package config loads the runner's configuration from environment
// variables (single prefix RUNNER_) with an optional file overlay, via
// github.com/spf13/viper, per spec §6's recognized-options list. Config is
// loaded once at startup and fails fast on an invalid value, matching the
// teacher's own pkg/config "load once, validate eagerly" shape.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the single prefix every recognized environment variable
// carries (e.g. RUNNER_MAX_JOBS), per §6.
const envPrefix = "RUNNER"

// Config holds every environment-configurable option named in §6.
type Config struct {
	ListenAddress string `mapstructure:"listen_address"`

	MaxJobs                int `mapstructure:"max_jobs"`
	ClientActiveTaskLimit  int `mapstructure:"client_active_task_limit"`
	DefaultInputTimeoutSec int `mapstructure:"default_input_timeout_seconds"`
	MaxTaskDurationSec     int `mapstructure:"max_task_duration_seconds"` // 0 = off
	TaskRetentionDays      int `mapstructure:"task_retention_days"`

	StreamBackendURL    string `mapstructure:"stream_backend_url"`
	ObjectStoragePath   string `mapstructure:"object_storage_path"`
	PersistenceURL      string `mapstructure:"persistence_url"`

	AuthMode        string `mapstructure:"auth_mode"` // "jwt" | "none"
	JWTSigningKey   string `mapstructure:"jwt_signing_key"`
	TrustedOrigins  []string `mapstructure:"trusted_origins"`
	TrustedWSHosts  []string `mapstructure:"trusted_ws_hosts"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_address":                 ":8080",
		"max_jobs":                       10,
		"client_active_task_limit":       3,
		"default_input_timeout_seconds":  180,
		"max_task_duration_seconds":      0,
		"task_retention_days":            7,
		"stream_backend_url":             "redis://localhost:6379/0",
		"object_storage_path":            "./data/archives",
		"persistence_url":                "./data/runner.db",
		"auth_mode":                      "jwt",
		"jwt_signing_key":                "",
		"trusted_origins":                []string{},
		"trusted_ws_hosts":               []string{},
	}
}

// Load reads configuration from the environment (prefix RUNNER_) with an
// optional file overlay at path (ignored if empty or missing), applies
// defaults, and validates the result. Returns the first validation error
// encountered so the caller can fail fast at startup (§6, CLI exit code 2
// on infra-unreachable / config-invalid startup failures).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the bounded options named in §6 (max_jobs 1..100).
func (c *Config) Validate() error {
	if c.MaxJobs < 1 || c.MaxJobs > 100 {
		return fmt.Errorf("config: max_jobs must be in [1,100], got %d", c.MaxJobs)
	}
	if c.ClientActiveTaskLimit < 1 {
		return fmt.Errorf("config: client_active_task_limit must be >= 1, got %d", c.ClientActiveTaskLimit)
	}
	if c.DefaultInputTimeoutSec < 1 {
		return fmt.Errorf("config: default_input_timeout_seconds must be >= 1, got %d", c.DefaultInputTimeoutSec)
	}
	if c.MaxTaskDurationSec < 0 {
		return fmt.Errorf("config: max_task_duration_seconds must be >= 0, got %d", c.MaxTaskDurationSec)
	}
	if c.TaskRetentionDays < 1 {
		return fmt.Errorf("config: task_retention_days must be >= 1, got %d", c.TaskRetentionDays)
	}
	if c.AuthMode != "jwt" && c.AuthMode != "none" {
		return fmt.Errorf("config: auth_mode must be 'jwt' or 'none', got %q", c.AuthMode)
	}
	return nil
}
