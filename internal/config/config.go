// Package config loads the notifywatch configuration file.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/accesswatch/notify/notify"
)

// Duration is a time.Duration that unmarshals from a TOML string like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the notifywatch configuration file.
type Config struct {
	// ServerURL is the AccessWatch server base URL, e.g.
	// "https://watch.example.com". The live-channel URL is derived from it.
	ServerURL string `toml:"server_url"`

	// Token is the bearer credential. The NOTIFYWATCH_TOKEN environment
	// variable takes precedence when set.
	Token string `toml:"token"`

	// UserID is an optional user identifier sent on the live channel URL.
	UserID string `toml:"user_id"`

	// LogLevel is a zerolog level name. Defaults to "info".
	LogLevel string `toml:"log_level"`

	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	BufferCapacity    int      `toml:"buffer_capacity"`

	Filters   FilterConfig    `toml:"filters"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Poll      PollConfig      `toml:"poll"`
}

// FilterConfig restricts which notifications are delivered.
type FilterConfig struct {
	Types       []string `toml:"types"`
	MinSeverity string   `toml:"min_severity"`
	Paths       []string `toml:"paths"`
}

// ReconnectConfig tunes the live-channel retry policy.
type ReconnectConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// PollConfig tunes the fallback poller.
type PollConfig struct {
	Interval Duration `toml:"interval"`
	Window   int      `toml:"window_hours"`
	Limit    int      `toml:"limit"`
}

// Default returns a Config with every tunable at its default value and no
// server or credential set.
func Default() Config {
	return Config{
		LogLevel: "info",
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config file %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work. Zero values
// for tunables are allowed and fall back to the library defaults.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}

	if c.Filters.MinSeverity != "" {
		switch notify.Severity(c.Filters.MinSeverity) {
		case notify.SeverityLow, notify.SeverityMedium, notify.SeverityHigh, notify.SeverityCritical:
		default:
			return errors.Errorf("unknown min_severity %q", c.Filters.MinSeverity)
		}
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.Poll.Limit < 0 {
		return errors.New("poll.limit must not be negative")
	}
	return nil
}

// FilterCriteria converts the configured filters to the domain type.
func (c *Config) FilterCriteria() notify.FilterCriteria {
	criteria := notify.FilterCriteria{
		MinSeverity: notify.Severity(c.Filters.MinSeverity),
		Paths:       c.Filters.Paths,
	}
	for _, t := range c.Filters.Types {
		criteria.Types = append(criteria.Types, notify.Type(t))
	}
	return criteria
}
