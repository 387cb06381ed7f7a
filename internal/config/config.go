package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Session SessionConfig `mapstructure:"session" validate:"required"`
	Queue   QueueConfig   `mapstructure:"queue" validate:"required"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Auth    AuthConfig    `mapstructure:"auth" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig contains the control API settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// SessionConfig identifies the Matrix account whose outbound events are queued.
type SessionConfig struct {
	UserID        string `mapstructure:"user_id" validate:"required,startswith=@"`
	HomeserverURL string `mapstructure:"homeserver_url" validate:"required,url"`
	AccessToken   string `mapstructure:"access_token" validate:"required"`
	DeviceID      string `mapstructure:"device_id"`
}

// QueueConfig tunes retry and reachability behaviour of the send queue.
type QueueConfig struct {
	MaxRetry          int           `mapstructure:"max_retry" validate:"gte=1"`
	DefaultRetryDelay time.Duration `mapstructure:"default_retry_delay" validate:"gt=0"`
	RetryAfterPadding time.Duration `mapstructure:"retry_after_padding" validate:"gte=0"`
	ProbeInterval     time.Duration `mapstructure:"probe_interval" validate:"gt=0"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

// StorageConfig selects where the ledger snapshot and local echoes live.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=badger postgres"`
	BadgerDir   string `mapstructure:"badger_dir" validate:"required_if=Backend badger"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres,omitempty,url"`
	EchoDBPath  string `mapstructure:"echo_db_path" validate:"required"`
}

// AuthConfig contains the control API authentication settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}
