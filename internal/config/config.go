// Package config holds all configuration types and loading logic for osyncq.
// Config structure never shrinks: fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an osyncq process.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
}

// TransportConfig controls where channel FIFOs live and how queues poll them.
type TransportConfig struct {
	// FIFODir is the directory holding "<channel>-req" and "<channel>-rep".
	FIFODir        string `yaml:"fifo_dir"`
	SenderPollMs   int    `yaml:"sender_poll_ms"`
	ReceiverPollMs int    `yaml:"receiver_poll_ms"`
	// DefaultReplyTimeout applies to requests sent without an explicit
	// timeout. "0" waits forever.
	DefaultReplyTimeout string `yaml:"default_reply_timeout"`
	MaxPayloadKB        int    `yaml:"max_payload_kb"`
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogJSON LogFormat = "json"
	LogText LogFormat = "text"
)

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string    `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// AdminConfig controls the HTTP admin endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// RateLimitRPS is requests per second per client IP.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint on the admin server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JournalConfig controls the on-disk frame journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Retention is how long journal entries are kept, e.g. "24h" or "7d".
	Retention string `yaml:"retention"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			FIFODir:             os.TempDir(),
			SenderPollMs:        10,
			ReceiverPollMs:      100,
			DefaultReplyTimeout: "30s",
			MaxPayloadKB:        64 << 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogJSON,
		},
		Admin: AdminConfig{
			Enabled:        false,
			Host:           "127.0.0.1",
			Port:           8642,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Journal: JournalConfig{
			Enabled:   false,
			Path:      "./osyncq-journal.db",
			Retention: "24h",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If path is empty or the file does not exist the default config is returned
// without error.
//
// After loading the file, environment variables are applied as overrides:
//
//	OSYNCQ_FIFO_DIR     sets transport.fifo_dir
//	OSYNCQ_LOG_LEVEL    sets log.level
//	OSYNCQ_ADMIN_PORT   sets admin.port and enables the admin server
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OSYNCQ_FIFO_DIR"); v != "" {
		cfg.Transport.FIFODir = v
	}
	if v := os.Getenv("OSYNCQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OSYNCQ_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Admin.Port = p
			cfg.Admin.Enabled = true
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Transport.FIFODir == "" {
		return errors.New("transport.fifo_dir must not be empty")
	}
	if c.Transport.SenderPollMs < 1 {
		return errors.New("transport.sender_poll_ms must be at least 1")
	}
	if c.Transport.ReceiverPollMs < 1 {
		return errors.New("transport.receiver_poll_ms must be at least 1")
	}
	if c.Transport.MaxPayloadKB < 1 {
		return errors.New("transport.max_payload_kb must be at least 1")
	}
	if _, err := ParseDuration(c.Transport.DefaultReplyTimeout); err != nil {
		return fmt.Errorf("transport.default_reply_timeout: %w", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	switch c.Log.Format {
	case LogJSON, LogText:
	default:
		return errors.New(`log.format must be "json" or "text"`)
	}
	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return errors.New("admin.port must be between 1 and 65535")
		}
		if c.Admin.RateLimitRPS < 0 {
			return errors.New("admin.rate_limit_rps must be >= 0")
		}
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return errors.New("journal.path must not be empty")
		}
		if d, err := ParseDuration(c.Journal.Retention); err != nil || d <= 0 {
			return errors.New("journal.retention must be a positive duration")
		}
	}
	return nil
}

// SenderPoll returns the sender poll bound.
func (t TransportConfig) SenderPoll() time.Duration {
	return time.Duration(t.SenderPollMs) * time.Millisecond
}

// ReceiverPoll returns the receiver poll bound.
func (t TransportConfig) ReceiverPoll() time.Duration {
	return time.Duration(t.ReceiverPollMs) * time.Millisecond
}

// ReplyTimeout returns the parsed default reply timeout, zero when unset or
// invalid.
func (t TransportConfig) ReplyTimeout() time.Duration {
	d, _ := ParseDuration(t.DefaultReplyTimeout)
	return d
}

// MaxPayload returns the payload cap in bytes.
func (t TransportConfig) MaxPayload() int { return t.MaxPayloadKB << 10 }

// RetentionPeriod returns the parsed journal retention.
func (j JournalConfig) RetentionPeriod() time.Duration {
	d, _ := ParseDuration(j.Retention)
	return d
}

// ParseDuration accepts anything time.ParseDuration does plus a whole number
// of days with a "d" suffix. The empty string and "0" are zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
