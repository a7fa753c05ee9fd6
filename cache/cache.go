// Package cache stores raw chapter pages in SQLite so that re-running a
// harvest does not fetch them again.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a key/value cache of raw responses keyed by request URL.
type Store struct {
	db         *sql.DB
	defaultTTL time.Duration
	now        func() time.Time
}

// Open opens (or creates) the cache database at dbPath. Entries written
// without an explicit TTL expire after defaultTTL; zero means never.
func Open(dbPath string, defaultTTL time.Duration) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, defaultTTL: defaultTTL, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the responses table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		key_hash TEXT PRIMARY KEY,
		key_hint TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// hashKey keeps arbitrary URLs out of the primary key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached payload for key. Expired entries are deleted and
// reported as misses.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var payload []byte
	var expiresAt sql.NullInt64

	err := s.db.QueryRow(
		"SELECT payload, expires_at FROM responses WHERE key_hash = ?",
		hashKey(key),
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache: %w", err)
	}

	if expiresAt.Valid && s.now().UnixNano() > expiresAt.Int64 {
		if err := s.Delete(key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return payload, true, nil
}

// Set stores payload under key. A ttl of zero uses the store default; a
// negative ttl never expires.
func (s *Store) Set(key string, payload []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
	}

	hint := key
	if len(hint) > 200 {
		hint = hint[:200]
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO responses (key_hash, key_hint, payload, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		hashKey(key), hint, payload, now.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM responses WHERE key_hash = ?", hashKey(key)); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM responses"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}
