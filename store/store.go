// Package store keeps artifacts in a content-addressed SQLite database.
// Programs are keyed by the SHA-256 of their canonical encoding.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/tern/artifact"
)

var (
	// ErrNotFound indicates no program matches the requested hash.
	ErrNotFound = errors.New("program not found")
	// ErrAmbiguous indicates a hash prefix matches more than one program.
	ErrAmbiguous = errors.New("ambiguous hash prefix")
)

// MinPrefix is the shortest hash prefix Get accepts.
const MinPrefix = 6

// Entry describes a stored program.
type Entry struct {
	Hash    string
	Name    string
	Size    int64
	Created time.Time
}

// Store handles SQLite storage for artifacts.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash    TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		data    BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path, log: commonlog.GetLogger("tern.store")}, nil
}

// DefaultPath returns $TERN_STORE, or ~/.tern/programs.db.
func DefaultPath() (string, error) {
	if p := os.Getenv("TERN_STORE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".tern", "programs.db"), nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores f and returns its hash. Storing the same program twice is a
// no-op.
func (s *Store) Put(f *artifact.File) (string, error) {
	data, err := artifact.Marshal(f)
	if err != nil {
		return "", err
	}
	hash, err := artifact.HashString(f)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO programs (hash, name, data, created) VALUES (?, ?, ?, ?)",
		hash, f.Header.Name, data, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Infof("stored %s (%s, %d bytes)", hash[:12], f.Header.Name, len(data))
	}
	return hash, nil
}

// Get loads the program whose hash starts with prefix.
func (s *Store) Get(prefix string) (*artifact.File, string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < MinPrefix {
		return nil, "", fmt.Errorf("%w: hash %q is shorter than %d digits", ErrNotFound, prefix, MinPrefix)
	}
	rows, err := s.db.Query(
		"SELECT hash, data FROM programs WHERE hash >= ? AND hash < ? LIMIT 2",
		prefix, prefix+"g",
	)
	if err != nil {
		return nil, "", fmt.Errorf("querying program: %w", err)
	}
	defer rows.Close()

	var (
		hash string
		data []byte
		n    int
	)
	for rows.Next() {
		if err := rows.Scan(&hash, &data); err != nil {
			return nil, "", fmt.Errorf("reading program: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("reading program: %w", err)
	}
	switch n {
	case 0:
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 2:
		return nil, "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
	f, err := artifact.Unmarshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("program %s: %w", hash, err)
	}
	return f, hash, nil
}

// List returns every stored program, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query("SELECT hash, name, length(data), created FROM programs ORDER BY created DESC, hash")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
		)
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("reading program: %w", err)
		}
		e.Created = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the program with the exact hash.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM programs WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return nil
}
