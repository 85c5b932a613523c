package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps settings in a single-table SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) settings.db inside dataDir.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "settings.db")

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	// One connection serializes writers; SQLite would otherwise return
	// SQLITE_BUSY under concurrent SetIfAbsent calls.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Has(key string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM settings WHERE key = ?", key).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent inserts key only when it does not exist yet. The check and
// the write are a single statement, so the winner is decided by SQLite.
func (s *SQLiteStore) SetIfAbsent(key, value string) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return n == 1, nil
}

// Prune removes keys with the given prefix older than maxAge. It keeps the
// per-session notification markers from growing without bound.
func (s *SQLiteStore) Prune(prefix string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.Exec(
		"DELETE FROM settings WHERE key LIKE ? ESCAPE '\\' AND updated_at < ?",
		escapeLike(prefix)+"%", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune settings: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
