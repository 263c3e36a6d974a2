package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// walCheckpointInterval is how often we checkpoint the WAL file
	// to prevent unbounded growth during long-running daemon sessions.
	walCheckpointInterval = 5 * time.Minute
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	logger    *slog.Logger
	nowFunc   func() time.Time
	stopCh    chan struct{} // signals background goroutines to stop
	stoppedCh chan struct{} // signals background goroutines have stopped
	closeOnce sync.Once
	closeErr  error
}

// NewSQLiteStore opens (or creates) the pattern database at dbPath.
// The database is opened with WAL mode enabled so several engine
// processes can share it.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// modernc.org/sqlite uses _pragma=name(value) syntax
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles concurrency better with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		logger:    logger,
		nowFunc:   time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	go s.walCheckpointLoop()

	return s, nil
}

// Close closes the database connection.
// It is safe to call Close multiple times.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.stoppedCh

		// Final checkpoint before closing to merge WAL into main db
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// DB returns the underlying database connection for advanced use cases.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) walCheckpointLoop() {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(walCheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
				s.logger.Warn("WAL checkpoint failed", "error", err)
			}
		}
	}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) (*Record, error) {
	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT value, frequency, updated_at FROM records WHERE ns = ? AND key = ?
	`, string(ns), key).Scan(&rec.Value, &rec.Frequency, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("get", err)
	}
	return &rec, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (ns, key, value, frequency, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(ns, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, string(ns), key, value, s.nowFunc().UnixNano())
	if err != nil {
		return s.wrap("put", err)
	}
	return nil
}

// Incr implements Store.
func (s *SQLiteStore) Incr(ctx context.Context, ns Namespace, key string, delta int64) (int64, error) {
	var freq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO records (ns, key, value, frequency, updated_at)
		VALUES (?, ?, x'', ?, ?)
		ON CONFLICT(ns, key) DO UPDATE SET
			frequency = frequency + excluded.frequency,
			updated_at = excluded.updated_at
		RETURNING frequency
	`, string(ns), key, delta, s.nowFunc().UnixNano()).Scan(&freq)
	if err != nil {
		return 0, s.wrap("incr", err)
	}
	return freq, nil
}

// SetFrequency implements Store.
func (s *SQLiteStore) SetFrequency(ctx context.Context, ns Namespace, key string, freq int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET frequency = ?, updated_at = ? WHERE ns = ? AND key = ?
	`, freq, s.nowFunc().UnixNano(), string(ns), key)
	if err != nil {
		return s.wrap("set frequency", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("set frequency", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE ns = ? AND key = ?`, string(ns), key); err != nil {
		return s.wrap("delete", err)
	}
	return nil
}

// Scan implements Store.
func (s *SQLiteStore) Scan(ctx context.Context, ns Namespace) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, frequency, updated_at FROM records
		WHERE ns = ?
		ORDER BY frequency DESC, updated_at DESC
	`, string(ns))
	if err != nil {
		return nil, s.wrap("scan", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value, &r.Frequency, &r.UpdatedAt); err != nil {
			return nil, s.wrap("scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("scan", err)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, ns Namespace) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE ns = ?`, string(ns)).Scan(&n); err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context, ns Namespace, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE ns = ? AND key NOT IN (
			SELECT key FROM records
			WHERE ns = ?
			ORDER BY frequency DESC, updated_at DESC
			LIMIT ?
		)
	`, string(ns), string(ns), keep)
	if err != nil {
		return 0, s.wrap("prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrap("prune", err)
	}
	return n, nil
}

// wrap converts driver errors, mapping use-after-close to ErrClosed.
func (s *SQLiteStore) wrap(op string, err error) error {
	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// migrate runs database migrations to ensure the schema is up to date.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	currentVersion := 0
	row := s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_meta ORDER BY version DESC LIMIT 1
	`)
	if err := row.Scan(&currentVersion); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows), isTableNotFoundError(err):
			currentVersion = 0
		default:
			return fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{version: 1, sql: migrationV1},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration v%d failed: %w", m.version, err)
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO schema_meta (version, applied_at_unix_ms)
			VALUES (?, ?)
		`, m.version, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func isTableNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist")
}

// migrationV1 creates the initial schema.
const migrationV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
  ns TEXT NOT NULL,
  key TEXT NOT NULL,
  value BLOB NOT NULL DEFAULT x'',
  frequency INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (ns, key)
);

CREATE INDEX IF NOT EXISTS idx_records_rank ON records(ns, frequency DESC, updated_at DESC);
`
