// Package store is the url log: one SQLite table of detected URLs.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"linklog/pkg/logger"
	"linklog/pkg/store/migrations"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Record is one logged URL occurrence.
type Record struct {
	ID      int64  `db:"id"`
	Seen    int64  `db:"seen"`
	Channel string `db:"channel"`
	Nick    string `db:"nick"`
	URL     string `db:"url"`
}

// SeenAt returns the record timestamp, or the zero time when unset.
func (r Record) SeenAt() time.Time {
	if r.Seen == 0 {
		return time.Time{}
	}
	return time.Unix(r.Seen, 0)
}

// Store is the SQLite backed url log. Inserts are expected from a single
// goroutine; the pool is capped at one connection.
type Store struct {
	db     *sqlx.DB
	target string
	log    *slog.Logger
}

// Open connects to the database file at target, creating its directory when
// needed, and applies the embedded migrations.
func Open(ctx context.Context, target string, log *slog.Logger) (*Store, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("url log database path is required")
	}
	log = logger.Component(log, "store").With("path", target)

	if err := ensureDir(target); err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driverName, target)
	if err != nil {
		return nil, fmt.Errorf("connect url log database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyMigrations(db, log); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, err
	}

	log.Info("URL log opened")
	return &Store{db: db, target: target, log: log}, nil
}

func ensureDir(target string) error {
	if target == ":memory:" || strings.HasPrefix(target, "file:") {
		return nil
	}
	dir := filepath.Dir(target)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create url log directory: %w", err)
	}
	return nil
}

func applyMigrations(db *sqlx.DB, log *slog.Logger) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("No url log migrations to apply")
			return nil
		}
		return fmt.Errorf("apply url log migrations: %w", err)
	}

	log.Info("URL log migrations applied")
	return nil
}

// Target returns the database path the store was opened with.
func (s *Store) Target() string {
	return s.target
}

// InsertURL writes one record and returns the number of rows affected.
func (s *Store) InsertURL(ctx context.Context, rec Record) (int64, error) {
	result, err := s.db.NamedExecContext(ctx,
		`INSERT INTO url (seen, channel, nick, url) VALUES (:seen, :channel, :nick, :url)`,
		rec,
	)
	if err != nil {
		return 0, fmt.Errorf("insert url: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert url: rows affected: %w", err)
	}
	return rows, nil
}

// RecentURLs returns up to limit records, newest first. A non-empty channel
// keeps only records whose channel contains it.
func (s *Store) RecentURLs(ctx context.Context, limit int, channel string) ([]Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `SELECT id, seen, channel, nick, url FROM url`
	args := make([]any, 0, 2)
	if channel = strings.TrimSpace(channel); channel != "" {
		query += ` WHERE channel LIKE '%' || ? || '%'`
		args = append(args, channel)
	}
	query += ` ORDER BY seen DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("select recent urls: %w", err)
	}
	return records, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close url log: %w", err)
	}
	s.log.Debug("URL log closed")
	return nil
}
