package app

import (
	"time"

	"greenthumb/internal/config"
	"greenthumb/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.Manager

var NewConfigManager = config.NewManager

// SummarizeConfigChange produces a safe, structured summary of config diffs.
// Kept here as an alias so internal/app doesn't import internal/config all over.
var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError
