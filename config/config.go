// Package config provides Viper-based configuration loading for gsb servers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ListenConfig holds the TCP listener and connection policy settings.
type ListenConfig struct {
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read deadline for client connections.
	// Zero disables the deadline.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write deadline for client connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxLineLength is the maximum buffered length of a single inbound
	// line in bytes. Longer lines are discarded without disconnecting.
	MaxLineLength int `mapstructure:"max_line_length"`
	// MaxConnections is the maximum number of concurrent clients. New
	// transports beyond this are sent a capacity notice and closed.
	// Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections"`
	// WriteBufferLimit is the outbound backpressure ceiling in bytes.
	// A connection whose pending output exceeds it stops having its
	// input read until the queue drains.
	WriteBufferLimit int `mapstructure:"write_buffer_limit"`
	// LineTerminator selects the outbound line ending ("lf" or "crlf").
	// Inbound lines end on '\n' with an optional preceding '\r' in
	// either mode.
	LineTerminator string `mapstructure:"line_terminator"`
	// ShutdownTimeout bounds the best-effort flush of pending output
	// during Stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// Terminator returns the outbound line terminator string for the
// configured mode. Inbound lines are always delimited on '\n' with an
// optional preceding '\r' tolerated.
func (l ListenConfig) Terminator() string {
	if l.LineTerminator == "lf" {
		return "\n"
	}
	return "\r\n"
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled turns server metric collection on.
	Enabled bool `mapstructure:"enabled"`
}

// Config is the top-level framework configuration.
type Config struct {
	Listen  ListenConfig  `mapstructure:"listen"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateListen(c.Listen); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListen(l ListenConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 0-65535, got %d", l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "listen.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listen.write_timeout must not be negative")
	}
	if l.MaxLineLength < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_line_length must be >= 1, got %d", l.MaxLineLength))
	}
	if l.MaxConnections < 0 {
		errs = append(errs, fmt.Sprintf("listen.max_connections must be >= 0, got %d", l.MaxConnections))
	}
	if l.WriteBufferLimit < 1 {
		errs = append(errs, fmt.Sprintf("listen.write_buffer_limit must be >= 1, got %d", l.WriteBufferLimit))
	}
	validTerminators := map[string]bool{"lf": true, "crlf": true}
	if !validTerminators[l.LineTerminator] {
		errs = append(errs, fmt.Sprintf("listen.line_terminator must be one of [lf, crlf], got %q", l.LineTerminator))
	}
	if l.ShutdownTimeout < 0 {
		errs = append(errs, "listen.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must point to a readable YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with GSB_ prefix
	v.SetEnvPrefix("GSB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are valid by construction.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 4000)
	v.SetDefault("listen.read_timeout", "0s")
	v.SetDefault("listen.write_timeout", "30s")
	v.SetDefault("listen.max_line_length", 4096)
	v.SetDefault("listen.max_connections", 1024)
	v.SetDefault("listen.write_buffer_limit", 65536)
	v.SetDefault("listen.line_terminator", "crlf")
	v.SetDefault("listen.shutdown_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
}
