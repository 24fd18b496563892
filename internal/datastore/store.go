// Package datastore is the durable record of items, events, downloads and
// settings, kept in a single SQLite file.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/timeutils"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// Store wraps the SQL connection. Writes commit on their own, except that an
// item row and the event describing it are committed together.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open initializes the database at dbPath, creating its directory, and
// applies pending migrations.
func Open(ctx context.Context, dbPath string, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("component", "Datastore").Logger()
	logger.Info().Str("db_path", dbPath).Msg("Opening item database")

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
	}

	db, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed for %s: %w", dbPath, err)
	}

	// Single writer connection for SQLite
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database %s: %w", dbPath, err)
	}

	if err := Migrate(db, logger); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("Failed to migrate database schema")
		return nil, err
	}

	return &Store{db: db, path: dbPath, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path is the database file location.
func (s *Store) Path() string {
	return s.path
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSetting returns the stored value for key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value.String, true, nil
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to write setting")
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timeutils.FormatObserved(t.UTC())
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := timeutils.ParseObserved(v.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
