package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"greenthumb/internal/domain"
	"greenthumb/pkg/logx"
)

// ErrUnavailable reports that the backing database is unreachable or not yet
// initialized. Callers treat it as a retriable condition, never as fatal.
var ErrUnavailable = errors.New("store unavailable")

// Config configures the record store.
//
// Driver values:
//   - "sqlite": SQLite database file (default for single-node deployments)
//   - "postgres": PostgreSQL via pgx
type Config struct {
	Driver      string
	Path        string        // sqlite file path
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the record-store boundary the reminder core consumes.
// It owns users, their time preferences and plant records; the core only
// reads plants and updates preference-adjacent fields.
type Store interface {
	// CountUsers doubles as the readiness probe before scheduling.
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// ListPlants returns every plant, for the cross-user due check.
	ListPlants(ctx context.Context) ([]domain.Plant, error)
	ListPlantsByOwner(ctx context.Context, owner domain.UserID) ([]domain.Plant, error)

	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
	SetReminderTime(ctx context.Context, id domain.UserID, hhmm string) error
	MarkWatered(ctx context.Context, id domain.PlantID, date string) error

	Close() error
}

// ErrNotFound reports a missing row (distinct from an unreachable store).
var ErrNotFound = errors.New("not found")

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
