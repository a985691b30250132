package app

import (
	"fmt"
	"strings"
	"time"

	"greenthumb/internal/mailer"
	"greenthumb/internal/metrics"
	"greenthumb/internal/store"
)

func mapStoreConfig(cfg *Config) (store.Config, error) {
	if cfg == nil {
		return store.Config{}, fmt.Errorf("store config missing")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	path := strings.TrimSpace(cfg.Store.Path)
	dsn := strings.TrimSpace(cfg.Store.DSN)

	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			return store.Config{}, fmt.Errorf("store.path is required when store.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 1*time.Second)
		if err != nil {
			return store.Config{}, err
		}
		return store.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "pgx":
		if dsn == "" {
			return store.Config{}, fmt.Errorf("store.dsn is required when store.driver=postgres")
		}
		return store.Config{Driver: driver, DSN: dsn}, nil
	default:
		return store.Config{}, fmt.Errorf("unknown store.driver: %s", cfg.Store.Driver)
	}
}

func mapMailConfig(cfg *Config) (mailer.Config, error) {
	if cfg == nil || strings.TrimSpace(cfg.Mail.Host) == "" {
		return mailer.Config{}, fmt.Errorf("mail.host is required")
	}
	if cfg.Mail.Port < 0 || cfg.Mail.Port > 65535 {
		return mailer.Config{}, fmt.Errorf("mail.port out of range: %d", cfg.Mail.Port)
	}
	if cfg.Mail.RatePerSec < 0 {
		return mailer.Config{}, fmt.Errorf("mail.rate_per_sec must be >= 0")
	}
	return mailer.Config{
		Host:       strings.TrimSpace(cfg.Mail.Host),
		Port:       cfg.Mail.Port,
		Username:   cfg.Mail.Username,
		Password:   cfg.Mail.Password,
		From:       strings.TrimSpace(cfg.Mail.From),
		RatePerSec: cfg.Mail.RatePerSec,
	}, nil
}

func mapMetricsConfig(cfg *Config) metrics.Config {
	if cfg == nil {
		return metrics.Config{}
	}
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    strings.TrimSpace(cfg.Metrics.Addr),
	}
}
