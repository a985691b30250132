package config

import (
	"sort"
	"strings"

	"greenthumb/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (SMTP password, store DSN) are reduced
// to set/unset booleans and never logged verbatim.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Store (never log DSN; it may embed credentials)
	if strings.TrimSpace(oldCfg.Store.Driver) != strings.TrimSpace(newCfg.Store.Driver) ||
		strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path) ||
		strings.TrimSpace(oldCfg.Store.BusyTimeout) != strings.TrimSpace(newCfg.Store.BusyTimeout) ||
		(strings.TrimSpace(oldCfg.Store.DSN) != "") != (strings.TrimSpace(newCfg.Store.DSN) != "") {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
			logx.Bool("store.dsn_set", strings.TrimSpace(newCfg.Store.DSN) != ""),
			logx.String("store.busy_timeout", strings.TrimSpace(newCfg.Store.BusyTimeout)),
		)
	}

	// Mail (never log password)
	if strings.TrimSpace(oldCfg.Mail.Host) != strings.TrimSpace(newCfg.Mail.Host) ||
		oldCfg.Mail.Port != newCfg.Mail.Port ||
		strings.TrimSpace(oldCfg.Mail.Username) != strings.TrimSpace(newCfg.Mail.Username) ||
		strings.TrimSpace(oldCfg.Mail.From) != strings.TrimSpace(newCfg.Mail.From) ||
		oldCfg.Mail.RatePerSec != newCfg.Mail.RatePerSec ||
		(strings.TrimSpace(oldCfg.Mail.Password) != "") != (strings.TrimSpace(newCfg.Mail.Password) != "") {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.host", strings.TrimSpace(newCfg.Mail.Host)),
			logx.Int("mail.port", newCfg.Mail.Port),
			logx.String("mail.from", strings.TrimSpace(newCfg.Mail.From)),
			logx.Bool("mail.password_set", strings.TrimSpace(newCfg.Mail.Password) != ""),
			logx.Int("mail.rate_per_sec", newCfg.Mail.RatePerSec),
		)
	}

	// Scheduler
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled))
	}

	// Metrics
	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled ||
		strings.TrimSpace(oldCfg.Metrics.Addr) != strings.TrimSpace(newCfg.Metrics.Addr) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
