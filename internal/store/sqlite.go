package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"greenthumb/internal/domain"
	"greenthumb/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./greenthumb.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrapUnavailable(err)
	}
	return n, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, COALESCE(phone, ''), COALESCE(reminder_time, '') FROM users ORDER BY id`)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Phone, &u.ReminderTime); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqliteStore) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(phone, ''), COALESCE(reminder_time, '') FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Phone, &u.ReminderTime)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, wrapUnavailable(err)
	}
	return u, nil
}

func (s *sqliteStore) ListPlants(ctx context.Context) ([]domain.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT id, name, COALESCE(plant_type, ''), COALESCE(last_watered, ''), water_frequency, user_id
		 FROM plants ORDER BY user_id, name`)
}

func (s *sqliteStore) ListPlantsByOwner(ctx context.Context, owner domain.UserID) ([]domain.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT id, name, COALESCE(plant_type, ''), COALESCE(last_watered, ''), water_frequency, user_id
		 FROM plants WHERE user_id = ? ORDER BY name`, owner)
}

func (s *sqliteStore) queryPlants(ctx context.Context, q string, args ...any) ([]domain.Plant, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()

	var plants []domain.Plant
	for rows.Next() {
		var p domain.Plant
		if err := rows.Scan(&p.ID, &p.Name, &p.PlantType, &p.LastWatered, &p.WaterFrequency, &p.OwnerID); err != nil {
			return nil, err
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

func (s *sqliteStore) SetReminderTime(ctx context.Context, id domain.UserID, hhmm string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET reminder_time = ? WHERE id = ?`, hhmm, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) MarkWatered(ctx context.Context, id domain.PlantID, date string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plants SET last_watered = ? WHERE id = ?`, date, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// wrapUnavailable maps driver-level failures onto ErrUnavailable so callers
// can match with errors.Is regardless of the backend.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
