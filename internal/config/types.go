package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Mail      MailConfig      `json:"mail"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig controls the persistence layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./greenthumb.db" }
//
// The postgres driver takes a DSN instead of a path.
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MailConfig controls outbound SMTP delivery.
type MailConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"` // do not log
	From       string `json:"from"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the per-user reminder triggers.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9090").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// ParseDurationField parses a duration-valued config field. Empty means zero;
// negative values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
