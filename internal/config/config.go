// Package config loads runtime settings from defaults, LIVECLASS_*
// environment variables and an optional YAML file, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"liveclass/internal/cleanup"
	"liveclass/internal/credential"
	"liveclass/internal/hub"
	"liveclass/internal/lock"
	"liveclass/internal/provider"
	"liveclass/internal/provider/hosted"
	"liveclass/internal/provider/rtc"
	"liveclass/internal/session"
	"liveclass/internal/websocket"
	"liveclass/pkg/database"
	"liveclass/pkg/types"
)

type Config struct {
	Database  database.Config  `yaml:"database"`
	HTTP      HTTPConfig       `yaml:"http"`
	Lifecycle LifecycleConfig  `yaml:"lifecycle"`
	Cleanup   cleanup.Config   `yaml:"cleanup"`
	Providers ProvidersConfig  `yaml:"providers"`
	Redis     lock.RedisConfig `yaml:"redis"`
	Events    EventsConfig     `yaml:"events"`
	Log       LogConfig        `yaml:"log"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" env:"LIVECLASS_HTTP_HOST"`
	Port            int           `yaml:"port" env:"LIVECLASS_HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LIVECLASS_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LIVECLASS_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LIVECLASS_HTTP_SHUTDOWN_TIMEOUT"`
	// RateLimit is requests per actor per minute; 0 disables limiting.
	RateLimit int `yaml:"rate_limit" env:"LIVECLASS_HTTP_RATE_LIMIT"`
}

// Addr returns host:port for the listener.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LifecycleConfig struct {
	JoinWindow       time.Duration `yaml:"join_window" env:"LIVECLASS_JOIN_WINDOW"`
	GracePeriod      time.Duration `yaml:"grace_period" env:"LIVECLASS_GRACE_PERIOD"`
	StartSkew        time.Duration `yaml:"start_skew" env:"LIVECLASS_START_SKEW"`
	MaxCredentialTTL time.Duration `yaml:"max_credential_ttl" env:"LIVECLASS_MAX_CREDENTIAL_TTL"`
}

type ProvidersConfig struct {
	Default types.ProviderKind   `yaml:"default" env:"LIVECLASS_PROVIDER_DEFAULT"`
	Hosted  hosted.Config        `yaml:"hosted"`
	RTC     rtc.Config           `yaml:"rtc"`
	Retry   provider.RetryPolicy `yaml:"retry"`
}

type EventsConfig struct {
	Enabled   bool             `yaml:"enabled" env:"LIVECLASS_EVENTS_ENABLED"`
	Hub       hub.Config       `yaml:"hub"`
	WebSocket websocket.Config `yaml:"websocket"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LIVECLASS_LOG_LEVEL"`
	Format string `yaml:"format" env:"LIVECLASS_LOG_FORMAT"`
}

// DefaultConfig listens on :8080, stores data under ./data and sweeps hourly.
func DefaultConfig() *Config {
	sessionDefaults := session.DefaultConfig()
	return &Config{
		Database: *database.DefaultConfig(),
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       120,
		},
		Lifecycle: LifecycleConfig{
			JoinWindow:       sessionDefaults.JoinWindow,
			GracePeriod:      sessionDefaults.GracePeriod,
			StartSkew:        sessionDefaults.StartSkew,
			MaxCredentialTTL: credential.DefaultMaxTTL,
		},
		Cleanup: cleanup.DefaultConfig(),
		Providers: ProvidersConfig{
			Default: sessionDefaults.DefaultProvider,
			Retry:   provider.DefaultRetryPolicy(),
		},
		Redis: lock.RedisConfig{KeyPrefix: "liveclass:"},
		Events: EventsConfig{
			Enabled:   true,
			Hub:       hub.DefaultConfig(),
			WebSocket: websocket.DefaultConfig(),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects settings the application cannot start with.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("HTTP rate limit cannot be negative")
	}

	if c.Lifecycle.JoinWindow < 0 {
		return fmt.Errorf("join window cannot be negative")
	}
	if c.Lifecycle.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	if c.Lifecycle.MaxCredentialTTL <= 0 {
		return fmt.Errorf("max credential TTL must be positive")
	}

	if err := c.Cleanup.Validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	if !types.IsValidProviderKind(c.Providers.Default) {
		return fmt.Errorf("unknown default provider %q", c.Providers.Default)
	}
	if c.Providers.Hosted.Enabled() {
		if err := c.Providers.Hosted.Validate(); err != nil {
			return fmt.Errorf("hosted provider: %w", err)
		}
	}
	if c.Providers.RTC.Enabled() {
		if err := c.Providers.RTC.Validate(); err != nil {
			return fmt.Errorf("rtc provider: %w", err)
		}
	}
	if c.Providers.Retry.Attempts <= 0 || c.Providers.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("provider retry attempts and timeout must be positive")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// SessionConfig returns the lifecycle settings in the form the session
// manager takes.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		JoinWindow:      c.Lifecycle.JoinWindow,
		GracePeriod:     c.Lifecycle.GracePeriod,
		StartSkew:       c.Lifecycle.StartSkew,
		DefaultProvider: c.Providers.Default,
	}
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LoadFromEnv overlays LIVECLASS_* variables on the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	err := envdecode.Decode(config)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

// LoadFromFile overlays a YAML file on the defaults. Durations use Go
// duration strings such as "15m".
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. An empty
// path skips the file. The result is validated.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
