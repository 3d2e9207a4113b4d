// Package config handles loading and validating devwatch configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level devwatch configuration.
type Config struct {
	DBPath         string               `yaml:"db_path"`
	LogLevel       string               `yaml:"log_level"`
	LogFormat      string               `yaml:"log_format"`
	PasswordPepper string               `yaml:"password_pepper"`
	Argon2         Argon2Config         `yaml:"argon2"`
	Session        SessionConfig        `yaml:"session"`
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin"`
	Retention      RetentionConfig      `yaml:"retention"`
	Notifications  []NotificationConfig `yaml:"notifications"`
}

// Argon2Config tunes password hashing. Changing it changes every new hash;
// existing hashes keep verifying with the parameters they were made with.
type Argon2Config struct {
	Time    uint32 `yaml:"time"`
	Memory  uint32 `yaml:"memory_kib"`
	Threads uint8  `yaml:"threads"`
	KeyLen  uint32 `yaml:"key_len"`
}

// SessionConfig controls the idle timeout of the console session.
type SessionConfig struct {
	Timeout       Duration `yaml:"timeout"`
	Warning       Duration `yaml:"warning"`
	CheckInterval Duration `yaml:"check_interval"`
}

// BootstrapAdminConfig is the administrator created when none exists.
type BootstrapAdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
	Nickname string `yaml:"nickname"`
}

// RetentionConfig sets how long time-series rows are kept. Zero keeps them
// forever.
type RetentionConfig struct {
	MonitorData    Duration `yaml:"monitor_data"`
	SystemLogs     Duration `yaml:"system_logs"`
	ResolvedAlarms Duration `yaml:"resolved_alarms"`
	Interval       Duration `yaml:"interval"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "webhook"
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. With no path, defaults and
// DEVWATCH_* environment variables are used. If a path is given and the file
// does not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}

	if c.Argon2.Time < 1 {
		return fmt.Errorf("argon2.time must be >= 1")
	}
	if c.Argon2.Threads < 1 {
		return fmt.Errorf("argon2.threads must be >= 1")
	}
	if c.Argon2.Memory < 8*uint32(c.Argon2.Threads) {
		return fmt.Errorf("argon2.memory_kib must be >= 8 * threads")
	}
	if c.Argon2.KeyLen < 16 {
		return fmt.Errorf("argon2.key_len must be >= 16")
	}

	s := c.Session
	if s.Timeout.Duration <= 0 {
		return fmt.Errorf("session.timeout must be > 0")
	}
	if s.Warning.Duration < 0 || s.Warning.Duration >= s.Timeout.Duration {
		return fmt.Errorf("session.warning must be >= 0 and shorter than session.timeout")
	}
	if s.CheckInterval.Duration <= 0 {
		return fmt.Errorf("session.check_interval must be > 0")
	}

	if c.BootstrapAdmin.Username == "" {
		return fmt.Errorf("bootstrap_admin.username is required")
	}
	if c.BootstrapAdmin.Password == "" {
		return fmt.Errorf("bootstrap_admin.password is required")
	}

	r := c.Retention
	for name, d := range map[string]Duration{
		"monitor_data":    r.MonitorData,
		"system_logs":     r.SystemLogs,
		"resolved_alarms": r.ResolvedAlarms,
		"interval":        r.Interval,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("retention.%s must be >= 0", name)
		}
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
			u, err := url.Parse(n.URL)
			if err != nil {
				return fmt.Errorf("notifications[%d]: invalid url: %w", i, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("notifications[%d]: url must be http or https", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected webhook)", i, n.Type)
		}
	}
	return nil
}

func defaults() *Config {
	return &Config{
		DBPath:    "devwatch.db",
		LogLevel:  "info",
		LogFormat: "text",
		Argon2: Argon2Config{
			Time:    3,
			Memory:  64 * 1024,
			Threads: 2,
			KeyLen:  32,
		},
		Session: SessionConfig{
			Timeout:       Duration{30 * time.Minute},
			Warning:       Duration{5 * time.Minute},
			CheckInterval: Duration{1 * time.Minute},
		},
		BootstrapAdmin: BootstrapAdminConfig{
			Username: "admin",
			Password: "admin123",
			Email:    "admin@example.com",
			Phone:    "13800138000",
			Nickname: "System Administrator",
		},
		Retention: RetentionConfig{
			Interval: Duration{1 * time.Hour},
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

// envOverrides holds DEVWATCH_* variables. Nil fields were not set.
type envOverrides struct {
	DBPath         *string        `env:"DEVWATCH_DB_PATH"`
	LogLevel       *string        `env:"DEVWATCH_LOG_LEVEL"`
	LogFormat      *string        `env:"DEVWATCH_LOG_FORMAT"`
	PasswordPepper *string        `env:"DEVWATCH_PASSWORD_PEPPER"`
	AdminPassword  *string        `env:"DEVWATCH_ADMIN_PASSWORD"`
	SessionTimeout *time.Duration `env:"DEVWATCH_SESSION_TIMEOUT"`
	Argon2Time     *uint32        `env:"DEVWATCH_ARGON2_TIME"`
	WebhookURL     string         `env:"DEVWATCH_WEBHOOK_URL"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	override(&cfg.DBPath, o.DBPath)
	override(&cfg.LogLevel, o.LogLevel)
	override(&cfg.LogFormat, o.LogFormat)
	override(&cfg.PasswordPepper, o.PasswordPepper)
	override(&cfg.BootstrapAdmin.Password, o.AdminPassword)
	if o.SessionTimeout != nil {
		cfg.Session.Timeout = Duration{*o.SessionTimeout}
	}
	if o.Argon2Time != nil {
		cfg.Argon2.Time = *o.Argon2Time
	}

	// Single webhook target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 && o.WebhookURL != "" {
		cfg.Notifications = append(cfg.Notifications, NotificationConfig{
			Type: "webhook",
			URL:  o.WebhookURL,
		})
	}
	return nil
}

func override(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}
