package memory

// Schema DDL for the layered memory database. Creation is idempotent and
// safe to run against an existing database; columns added after a release
// are handled by the migrations in migrations.go.

// Layer 1: immutable content-addressed atoms with a tag index and typed
// relationship edges.
const atomTables = `
CREATE TABLE IF NOT EXISTS atoms (
	id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	atom_type TEXT NOT NULL,
	wing_path TEXT NOT NULL,
	weight REAL DEFAULT 1.0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_atoms_type ON atoms(atom_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_atoms_hash ON atoms(content_hash);

CREATE TABLE IF NOT EXISTS atom_tags (
	atom_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY(atom_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_atom_tags_tag ON atom_tags(tag);

CREATE TABLE IF NOT EXISTS atom_references (
	atom_id TEXT NOT NULL,
	ref_type TEXT NOT NULL,
	target TEXT NOT NULL,
	strength REAL DEFAULT 1.0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(atom_id, ref_type, target)
);
CREATE INDEX IF NOT EXISTS idx_references_target ON atom_references(target);
`

// Layer 2: mutable weight/confidence overlays with an append-only
// adjustment audit trail.
const contextTables = `
CREATE TABLE IF NOT EXISTS context_atoms (
	id TEXT PRIMARY KEY,
	atom_id TEXT NOT NULL,
	context_type TEXT NOT NULL,
	adjusted_weight REAL DEFAULT 1.0,
	confidence_score REAL DEFAULT 1.0,
	access_count INTEGER DEFAULT 0,
	last_accessed DATETIME DEFAULT CURRENT_TIMESTAMP,
	decay_factor REAL DEFAULT 0.95,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_context_atom ON context_atoms(atom_id);
CREATE INDEX IF NOT EXISTS idx_context_confidence ON context_atoms(confidence_score);

CREATE TABLE IF NOT EXISTS context_adjustments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	adjustment_type TEXT NOT NULL,
	value REAL NOT NULL,
	reason TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_adjustments_context ON context_adjustments(context_id);
`

// Layer 3: named atom chains with validation audit rows and refactor
// history snapshots.
const patternTables = `
CREATE TABLE IF NOT EXISTS pattern_chains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	chain_type TEXT NOT NULL,
	validation_score REAL DEFAULT 0.0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chains_validation ON pattern_chains(validation_score);

CREATE TABLE IF NOT EXISTS chain_members (
	chain_id TEXT NOT NULL,
	atom_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	role TEXT NOT NULL,
	connection_strength REAL DEFAULT 1.0,
	PRIMARY KEY(chain_id, atom_id)
);
CREATE INDEX IF NOT EXISTS idx_members_chain ON chain_members(chain_id);

CREATE TABLE IF NOT EXISTS pattern_validations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id TEXT NOT NULL,
	coherence REAL NOT NULL,
	completeness REAL NOT NULL,
	accuracy REAL NOT NULL,
	member_count INTEGER NOT NULL,
	validated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_validations_chain ON pattern_validations(chain_id);

CREATE TABLE IF NOT EXISTS refactoring_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	before_snapshot TEXT NOT NULL,
	after_snapshot TEXT NOT NULL,
	score_before REAL NOT NULL,
	score_after REAL NOT NULL,
	improvement REAL NOT NULL,
	refactored_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_refactoring_chain ON refactoring_history(chain_id);
`

// Query audit log and the access-heat map.
const trackingTables = `
CREATE TABLE IF NOT EXISTS query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_text TEXT NOT NULL,
	layers TEXT NOT NULL,
	duration_ms REAL NOT NULL,
	result_count INTEGER NOT NULL,
	executed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_query_log_time ON query_log(executed_at);

CREATE TABLE IF NOT EXISTS heat_map (
	atom_id TEXT PRIMARY KEY,
	heat_score REAL DEFAULT 0.0,
	access_frequency INTEGER DEFAULT 0,
	last_update DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_heat_score ON heat_map(heat_score);
`

var schemaTables = []string{
	atomTables,
	contextTables,
	patternTables,
	trackingTables,
}
