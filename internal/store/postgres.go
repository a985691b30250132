package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"greenthumb/internal/domain"
	"greenthumb/pkg/logx"
)

//go:embed pgmigrations/*.sql
var pgMigrationsFS embed.FS

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	st := &postgresStore{db: db, log: log}

	goose.SetBaseFS(pgMigrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.UpContext(context.Background(), db, "pgmigrations"); err != nil {
		// Migration failure usually means the server is unreachable; surface it
		// as a hard open error so the caller can fall back or retry.
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, wrapUnavailable(err)
	}
	return n, nil
}

func (s *postgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
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

func (s *postgresStore) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(phone, ''), COALESCE(reminder_time, '') FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Phone, &u.ReminderTime)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, wrapUnavailable(err)
	}
	return u, nil
}

func (s *postgresStore) ListPlants(ctx context.Context) ([]domain.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT id, name, COALESCE(plant_type, ''), COALESCE(last_watered, ''), water_frequency, user_id
		 FROM plants ORDER BY user_id, name`)
}

func (s *postgresStore) ListPlantsByOwner(ctx context.Context, owner domain.UserID) ([]domain.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT id, name, COALESCE(plant_type, ''), COALESCE(last_watered, ''), water_frequency, user_id
		 FROM plants WHERE user_id = $1 ORDER BY name`, owner)
}

func (s *postgresStore) queryPlants(ctx context.Context, q string, args ...any) ([]domain.Plant, error) {
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

func (s *postgresStore) SetReminderTime(ctx context.Context, id domain.UserID, hhmm string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET reminder_time = $1 WHERE id = $2`, hhmm, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) MarkWatered(ctx context.Context, id domain.PlantID, date string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plants SET last_watered = $1 WHERE id = $2`, date, id)
	if err != nil {
		return wrapUnavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
