package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteConfig holds configuration options for the SQLite backend.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// BusyTimeout is the maximum time to wait for a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLite stores marks in a local SQLite file. Expiry is enforced in queries
// and expired rows are purged on write.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database, enables WAL mode and applies migrations.
func NewSQLite(ctx context.Context, cfg *SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dbPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, dbTypeSQLite); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_marks WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query mark %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) SetWithExpiry(ctx context.Context, key string, ttl time.Duration) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dedup_marks WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to purge expired marks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dedup_marks (key, expires_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, now.Add(ttl).UnixMilli()); err != nil {
		return fmt.Errorf("failed to write mark %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
