// Package config loads the checkchef server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mr-karan/checkchef/internal/backends"
)

// EnvPrefix prefixes every environment override. A double underscore separates
// sections: CHECKCHEF_ENGINE__STORE_TIMEOUT sets engine.store_timeout.
const EnvPrefix = "CHECKCHEF_"

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	SQLite      SQLiteConfig      `koanf:"sqlite"`
	Engine      EngineConfig      `koanf:"engine"`
	Alerts      AlertsConfig      `koanf:"alerts"`
	Drift       DriftConfig       `koanf:"drift"`
	Grafana     GrafanaConfig     `koanf:"grafana"`
	Builds      BuildsConfig      `koanf:"builds"`
	Sources     []backends.Source `koanf:"sources" validate:"dive"`
	Definitions DefinitionsConfig `koanf:"definitions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `koanf:"address" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SQLiteConfig holds the result history database settings.
type SQLiteConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// EngineConfig controls scheduling and evaluation.
type EngineConfig struct {
	Workers   int `koanf:"workers" validate:"gte=1"`
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
	// TickInterval is how often the scheduler looks for due checks.
	TickInterval time.Duration `koanf:"tick_interval" validate:"gt=0"`
	// StoreTimeout bounds one metrics-store round-trip.
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`
	// HistoryLimit is the number of results kept per check.
	HistoryLimit     int           `koanf:"history_limit" validate:"gte=1"`
	IncompleteWindow time.Duration `koanf:"incomplete_window" validate:"gte=0"`
	DefaultInterval  string        `koanf:"default_interval" validate:"required"`
	SnapshotLevel    int           `koanf:"snapshot_level" validate:"gte=1,lte=4"`

	AlertInterval        time.Duration `koanf:"alert_interval" validate:"gte=0"`
	NotificationInterval time.Duration `koanf:"notification_interval" validate:"gte=0"`
	DutyOfficers         []string      `koanf:"duty_officers"`
	FallbackOfficers     []string      `koanf:"fallback_officers"`
}

// AlertsConfig selects and configures notification delivery channels. Notifications are
// always logged; every configured channel is added on top.
type AlertsConfig struct {
	Webhooks              []string      `koanf:"webhooks" validate:"dive,url"`
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	TLSInsecureSkipVerify bool          `koanf:"tls_insecure_skip_verify"`
	ExternalURL           string        `koanf:"external_url"`

	AlertmanagerURL        string `koanf:"alertmanager_url" validate:"omitempty,url"`
	AlertmanagerMaxRetries int    `koanf:"alertmanager_max_retries"`

	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUsername string `koanf:"smtp_username"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from" validate:"required_with=SMTPHost"`
	SMTPReplyTo  string `koanf:"smtp_reply_to"`
	SMTPSecurity string `koanf:"smtp_security" validate:"omitempty,oneof=none starttls tls"`
}

// DriftConfig controls the periodic comparison against upstream dashboards.
type DriftConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval" validate:"gt=0"`
	RecencyWindow time.Duration `koanf:"recency_window" validate:"gte=0"`
}

// GrafanaConfig points at the upstream dashboard API.
type GrafanaConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// BuildsConfig points at the CI server build checks read from.
type BuildsConfig struct {
	URL      string        `koanf:"url" validate:"omitempty,url"`
	Username string        `koanf:"username"`
	Token    string        `koanf:"token"`
	Timeout  time.Duration `koanf:"timeout"`
}

// DefinitionsConfig locates the checks and services file seeded on first boot.
type DefinitionsConfig struct {
	Path string `koanf:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8125",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		SQLite:  SQLiteConfig{Path: "checkchef.db"},
		Engine: EngineConfig{
			Workers:              4,
			QueueSize:            256,
			TickInterval:         10 * time.Second,
			StoreTimeout:         30 * time.Second,
			HistoryLimit:         100,
			IncompleteWindow:     time.Minute,
			DefaultInterval:      "1m",
			SnapshotLevel:        2,
			AlertInterval:        time.Hour,
			NotificationInterval: 4 * time.Hour,
		},
		Alerts: AlertsConfig{
			RequestTimeout:         5 * time.Second,
			AlertmanagerMaxRetries: 2,
			SMTPPort:               587,
			SMTPSecurity:           "starttls",
		},
		Drift: DriftConfig{
			Enabled:       true,
			Interval:      10 * time.Minute,
			RecencyWindow: time.Hour,
		},
		Grafana: GrafanaConfig{Timeout: 10 * time.Second},
		Builds:  BuildsConfig{Timeout: 10 * time.Second},
	}
}

// Load reads configuration from defaults, the TOML file at path (if it exists) and
// CHECKCHEF_* environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("invalid config: duplicate source %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// envToKey maps CHECKCHEF_ENGINE__STORE_TIMEOUT to engine.store_timeout.
func envToKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
