// Package sqlite provides a SQLite-backed storage substrate. Values live in a
// single kv table whose schema is managed by embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a storage.Substrate over SQLite.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.config/movekey/rules.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "movekey", "rules.db"), nil
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolving db path: %w", err)
		}
		path = p
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating db dir %s: %w", dir, err)
		}
	}

	if err := migrateUp(path); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateUp(path string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Get implements storage.Substrate.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

// Set implements storage.Substrate.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent implements storage.Initializer. A row written by another
// connection first is left alone and returned.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO NOTHING`,
		key, string(value))
	if err != nil {
		return nil, false, fmt.Errorf("initializing %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return value, true, nil
	}

	stored, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("initializing %s: row vanished", key)
	}
	return stored, false, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
