package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"wingmem/internal/logging"
)

// =============================================================================
// LAYER 1: ATOMS
// =============================================================================

// Atom is the minimal immutable fact record in the base layer, identified by
// its content hash. Core fields never mutate after creation; only reference
// edges may be added.
type Atom struct {
	ID          string
	ContentHash string
	Type        string
	WingPath    []string
	Weight      float64
	Tags        []string
	CreatedAt   time.Time
}

// AtomInput is the payload for storing a single atom.
type AtomInput struct {
	WingPath []string `json:"wing_path"`
	Type     string   `json:"type"`
	Tags     []string `json:"tags"`
	Weight   float64  `json:"weight"`
}

// AtomReference is a typed relationship edge from an atom to a target.
// At most one row exists per (atom, type, target); re-adding replaces the
// strength.
type AtomReference struct {
	AtomID   string
	RefType  string
	Target   string
	Strength float64
}

// validate rejects malformed payloads before anything touches the database.
func (in AtomInput) validate() error {
	if len(in.WingPath) == 0 {
		return validationErr("wing_path", "must not be empty")
	}
	for _, seg := range in.WingPath {
		if seg == "" {
			return validationErr("wing_path", "segments must not be empty")
		}
	}
	if in.Type == "" {
		return validationErr("type", "must not be empty")
	}
	for _, tag := range in.Tags {
		if tag == "" {
			return validationErr("tags", "tag values must not be empty")
		}
	}
	if math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0) {
		return validationErr("weight", "must be a finite number")
	}
	return nil
}

// StoreAtom stores a fact atom, deduplicating on content hash. Storing an
// identical payload twice returns the existing id without error or a second
// row.
func (s *Store) StoreAtom(in AtomInput) (string, error) {
	timer := logging.StartTimer(logging.CategoryAtom, "StoreAtom")
	defer timer.Stop()

	if err := in.validate(); err != nil {
		return "", err
	}

	hash := ContentHash(in.WingPath, in.Type, in.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Fast path: payload already stored.
	if id, ok := s.atomIDByHash(hash); ok {
		logging.AtomDebug("Atom dedup hit: hash=%s id=%s", hash[:12], id)
		return id, nil
	}

	id, err := s.insertAtomTx(in, hash)
	if err == nil {
		logging.AtomDebug("Atom stored: id=%s type=%s wing=%s tags=%d",
			id, in.Type, strings.Join(in.WingPath, "/"), len(in.Tags))
		return id, nil
	}

	// A concurrent writer may have inserted the same hash between our read
	// and the commit. Resolve by re-reading; only surface the failure when
	// the re-read comes up empty too.
	if isUniqueViolation(err) {
		if existing, ok := s.atomIDByHash(hash); ok {
			logging.AtomDebug("Atom dedup race resolved: hash=%s id=%s", hash[:12], existing)
			return existing, nil
		}
	}
	logging.Get(logging.CategoryAtom).Error("Failed to store atom: %v", err)
	return "", storageErr("StoreAtom", err)
}

// BatchStoreAtoms stores many atoms in a single transaction. Semantically
// equivalent to sequential StoreAtom calls: identical content yields
// identical ids, including duplicates within the batch itself.
func (s *Store) BatchStoreAtoms(items []AtomInput) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryAtom, "BatchStoreAtoms")
	defer timer.Stop()

	if len(items) == 0 {
		return nil, nil
	}
	// Validate everything up front; a batch either passes validation whole
	// or writes nothing.
	for i, in := range items {
		if err := in.validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, storageErr("BatchStoreAtoms", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(items))
	seen := make(map[string]string) // hash -> id within this batch

	for _, in := range items {
		hash := ContentHash(in.WingPath, in.Type, in.Tags)

		if id, ok := seen[hash]; ok {
			ids = append(ids, id)
			continue
		}

		var id string
		err := tx.QueryRow("SELECT id FROM atoms WHERE content_hash = ?", hash).Scan(&id)
		switch {
		case err == nil:
			// Pre-existing atom; dedup.
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.NewString()
			if err := insertAtomRows(tx, id, in, hash); err != nil {
				return nil, storageErr("BatchStoreAtoms", err)
			}
		default:
			return nil, storageErr("BatchStoreAtoms", err)
		}

		seen[hash] = id
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("BatchStoreAtoms", err)
	}

	logging.Atom("Batch stored %d atoms (%d distinct)", len(items), len(seen))
	return ids, nil
}

// AddReference upserts a relationship edge keyed on (atom, type, target).
// A concurrent caller adding the same edge never sees an error; the later
// write wins on strength.
func (s *Store) AddReference(atomID, refType, target string, strength float64) error {
	timer := logging.StartTimer(logging.CategoryAtom, "AddReference")
	defer timer.Stop()

	if atomID == "" {
		return validationErr("atom_id", "must not be empty")
	}
	if refType == "" {
		return validationErr("ref_type", "must not be empty")
	}
	if target == "" {
		return validationErr("target", "must not be empty")
	}
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return validationErr("strength", "must be a finite number")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.atomExists(atomID)
	if err != nil {
		return err
	}
	if !exists {
		return notFoundErr("atom", atomID)
	}

	_, err = s.db.Exec(
		`INSERT INTO atom_references (atom_id, ref_type, target, strength)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(atom_id, ref_type, target) DO UPDATE SET strength = excluded.strength`,
		atomID, refType, target, strength,
	)
	if err != nil {
		logging.Get(logging.CategoryAtom).Error("Failed to add reference: %v", err)
		return storageErr("AddReference", err)
	}

	logging.AtomDebug("Reference upserted: %s -[%s]-> %s (strength=%.2f)", atomID, refType, target, strength)
	return nil
}

// GetAtom fetches an atom with its tags. A direct fetch counts as an access
// and bumps the atom's heat.
func (s *Store) GetAtom(id string) (*Atom, error) {
	timer := logging.StartTimer(logging.CategoryAtom, "GetAtom")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	atom, err := s.readAtom(id)
	if err != nil {
		return nil, err
	}

	if err := s.touchAtomLocked(id); err != nil {
		logging.Get(logging.CategoryHeat).Warn("Heat update failed for %s: %v", id, err)
	}
	return atom, nil
}

// References returns all edges originating from an atom.
func (s *Store) References(atomID string) ([]AtomReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT atom_id, ref_type, target, strength FROM atom_references WHERE atom_id = ?`,
		atomID,
	)
	if err != nil {
		return nil, storageErr("References", err)
	}
	defer rows.Close()

	var refs []AtomReference
	for rows.Next() {
		var r AtomReference
		if err := rows.Scan(&r.AtomID, &r.RefType, &r.Target, &r.Strength); err != nil {
			logging.Get(logging.CategoryAtom).Warn("Skipping unreadable reference row for %s: %v", atomID, err)
			continue
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

// insertAtomTx inserts the atom row and its tag rows in one transaction so a
// failure mid-operation leaves no partially-written atom.
func (s *Store) insertAtomTx(in AtomInput, hash string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if err := insertAtomRows(tx, id, in, hash); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func insertAtomRows(tx *sql.Tx, id string, in AtomInput, hash string) error {
	wingJSON, err := json.Marshal(in.WingPath)
	if err != nil {
		return fmt.Errorf("failed to encode wing path: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO atoms (id, content_hash, atom_type, wing_path, weight) VALUES (?, ?, ?, ?, ?)`,
		id, hash, in.Type, string(wingJSON), in.Weight,
	); err != nil {
		return err
	}

	for _, tag := range in.Tags {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO atom_tags (atom_id, tag) VALUES (?, ?)`,
			id, tag,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) atomIDByHash(hash string) (string, bool) {
	var id string
	err := s.db.QueryRow("SELECT id FROM atoms WHERE content_hash = ?", hash).Scan(&id)
	if err != nil {
		return "", false
	}
	return id, true
}

// atomExists reports whether the atom row is present. A missing row and a
// failed lookup are different answers; callers turn the former into a
// not-found and propagate the latter.
func (s *Store) atomExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM atoms WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("atomExists", err)
	}
	return true, nil
}

func (s *Store) readAtom(id string) (*Atom, error) {
	var atom Atom
	var wingJSON string
	err := s.db.QueryRow(
		`SELECT id, content_hash, atom_type, wing_path, weight, created_at FROM atoms WHERE id = ?`,
		id,
	).Scan(&atom.ID, &atom.ContentHash, &atom.Type, &wingJSON, &atom.Weight, &atom.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErr("atom", id)
	}
	if err != nil {
		return nil, storageErr("readAtom", err)
	}

	if err := json.Unmarshal([]byte(wingJSON), &atom.WingPath); err != nil {
		return nil, storageErr("readAtom", fmt.Errorf("corrupt wing path for %s: %w", id, err))
	}

	rows, err := s.db.Query(`SELECT tag FROM atom_tags WHERE atom_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, storageErr("readAtom", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			logging.Get(logging.CategoryAtom).Warn("Skipping unreadable tag row for %s: %v", id, err)
			continue
		}
		atom.Tags = append(atom.Tags, tag)
	}

	return &atom, rows.Err()
}

// isUniqueViolation matches the sqlite unique-constraint failure surfaced by
// the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
