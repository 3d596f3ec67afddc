package memory

import (
	"database/sql"
	"fmt"

	"wingmem/internal/logging"
)

// migration adds a column to a table that predates it.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations for databases created before the
// column existed. CREATE TABLE IF NOT EXISTS never alters existing tables,
// so additions land here.
var pendingMigrations = []migration{
	// Context decay factor (added with the confidence-decay maintenance pass)
	{"context_atoms", "decay_factor", "REAL DEFAULT 0.95"},
	// Refactor history originally stored only the delta; the raw scores make
	// the audit row self-describing.
	{"refactoring_history", "score_before", "REAL DEFAULT 0.0"},
	{"refactoring_history", "score_after", "REAL DEFAULT 0.0"},
	// Query log gained a result count for the stats endpoint.
	{"query_log", "result_count", "INTEGER DEFAULT 0"},
}

// runMigrations applies schema migrations for existing databases.
func runMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "runMigrations")
	defer timer.Stop()

	appliedCount := 0
	skippedCount := 0

	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			skippedCount++
			continue
		}

		if !columnExists(db, m.Table, m.Column) {
			query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
			if _, err := db.Exec(query); err != nil {
				logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
				skippedCount++
			} else {
				logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
				appliedCount++
			}
		} else {
			skippedCount++
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", appliedCount, skippedCount)
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	query := fmt.Sprintf("PRAGMA table_info(%s)", table)
	rows, err := db.Query(query)
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
