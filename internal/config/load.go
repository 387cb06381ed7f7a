package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "OUTBOX"

// Default values applied before file and environment sources.
var defaults = map[string]interface{}{
	"server.port":               8080,
	"server.log_level":          "info",
	"session.user_id":           "",
	"session.homeserver_url":    "",
	"session.access_token":      "",
	"session.device_id":         "",
	"queue.max_retry":           3,
	"queue.default_retry_delay": "3s",
	"queue.retry_after_padding": "200ms",
	"queue.probe_interval":      "10s",
	"queue.probe_timeout":       "30s",
	"storage.backend":           "badger",
	"storage.badger_dir":        "./data/ledger",
	"storage.database_url":      "",
	"storage.echo_db_path":      "./data/echoes.db",
	"auth.jwt_secret":           "",
	"auth.token_lifetime":       "24h",
	"metrics.addr":              "",
}

// Load reads configuration from config.yaml in the working directory, if
// present, and from OUTBOX_ environment variables. Environment variables
// take precedence over the file.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit configuration file. An empty path
// looks for an optional config.yaml in the working directory; a non-empty
// path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
