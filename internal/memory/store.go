// Package memory implements the layered atomic memory engine: a
// content-addressable three-tier fact store over SQLite.
//
// Layer 1: content-addressed immutable atoms with a tag index (atoms.go)
// Layer 2: mutable weight/confidence overlays per atom (contexts.go)
// Layer 3: named atom chains with validation scoring (patterns.go)
//
// Retrieval joins across all three layers (query.go) and feeds an
// access-heat score per atom (heat.go).
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"wingmem/internal/logging"
)

// Store owns the single database handle for its lifetime. Callers open a
// Store explicitly and must Close it on every exit path; there is no
// ambient singleton.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening memory store at path: %s", path)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	// WAL allows concurrent readers alongside the single committing writer,
	// which is the whole concurrency model of this engine.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and substantially faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")

	logging.Store("Memory store ready (atom, context, pattern layers)")
	return store, nil
}

// initialize creates the required tables and applies column migrations.
func (s *Store) initialize() error {
	for _, table := range schemaTables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing memory store database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// SizeBytes returns the size of the database file, or 0 for in-memory
// databases.
func (s *Store) SizeBytes() int64 {
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// TableCounts returns row counts per table.
func (s *Store) TableCounts() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "TableCounts")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	tables := []string{
		"atoms", "atom_tags", "atom_references",
		"context_atoms", "context_adjustments",
		"pattern_chains", "chain_members", "pattern_validations",
		"refactoring_history", "query_log", "heat_map",
	}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			logging.StoreDebug("Table %s count failed (may not exist): %v", table, err)
			continue
		}
		counts[table] = count
	}

	return counts, nil
}
