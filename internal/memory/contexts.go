package memory

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"wingmem/internal/logging"
)

// =============================================================================
// LAYER 2: CONTEXT ANNOTATIONS
// =============================================================================

// ContextAnnotation is a mutable weight/confidence overlay attached to an
// atom. It is mutated only through Adjust calls; every change leaves an
// audit row.
type ContextAnnotation struct {
	ID             string
	AtomID         string
	ContextType    string
	AdjustedWeight float64
	Confidence     float64
	AccessCount    int64
	LastAccessed   time.Time
	DecayFactor    float64
	Adjustments    []ContextAdjustment
}

// ContextAdjustment is an append-only audit row explaining how the current
// adjusted weight was reached.
type ContextAdjustment struct {
	ID        int64
	ContextID string
	Type      string
	Value     float64
	Reason    string
	AppliedAt time.Time
}

// CreateContext attaches a new context annotation to an atom. Plain insert,
// no dedup: the same atom may carry many annotations.
func (s *Store) CreateContext(atomID, contextType string, initialWeight float64) (string, error) {
	timer := logging.StartTimer(logging.CategoryContext, "CreateContext")
	defer timer.Stop()

	if atomID == "" {
		return "", validationErr("atom_id", "must not be empty")
	}
	if contextType == "" {
		return "", validationErr("context_type", "must not be empty")
	}
	if math.IsNaN(initialWeight) || math.IsInf(initialWeight, 0) {
		return "", validationErr("initial_weight", "must be a finite number")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.atomExists(atomID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", notFoundErr("atom", atomID)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO context_atoms (id, atom_id, context_type, adjusted_weight, confidence_score, access_count)
		 VALUES (?, ?, ?, ?, 1.0, 0)`,
		id, atomID, contextType, initialWeight,
	)
	if err != nil {
		logging.Get(logging.CategoryContext).Error("Failed to create context for atom %s: %v", atomID, err)
		return "", storageErr("CreateContext", err)
	}

	logging.ContextDebug("Context created: id=%s atom=%s type=%s weight=%.2f", id, atomID, contextType, initialWeight)
	return id, nil
}

// Adjust appends an audit row, then applies the multiplicative weight
// update. Multiplication composes successive confidence changes (two 1.5x
// boosts yield 2.25x) while the audit trail preserves how the current
// weight was reached.
func (s *Store) Adjust(contextID, adjustmentType string, value float64, reason string) error {
	timer := logging.StartTimer(logging.CategoryContext, "Adjust")
	defer timer.Stop()

	if contextID == "" {
		return validationErr("context_id", "must not be empty")
	}
	if adjustmentType == "" {
		return validationErr("adjustment_type", "must not be empty")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return validationErr("value", "must be a finite number")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("Adjust", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow("SELECT 1 FROM context_atoms WHERE id = ?", contextID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr("context", contextID)
	}
	if err != nil {
		return storageErr("Adjust", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO context_adjustments (context_id, adjustment_type, value, reason) VALUES (?, ?, ?, ?)`,
		contextID, adjustmentType, value, reason,
	); err != nil {
		return storageErr("Adjust", err)
	}

	if _, err := tx.Exec(
		`UPDATE context_atoms
		 SET adjusted_weight = adjusted_weight * ?,
		     access_count = access_count + 1,
		     last_accessed = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		value, contextID,
	); err != nil {
		return storageErr("Adjust", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("Adjust", err)
	}

	logging.ContextDebug("Context adjusted: id=%s type=%s value=%.3f", contextID, adjustmentType, value)
	return nil
}

// GetContext fetches a single annotation with its adjustment history.
func (s *Store) GetContext(contextID string) (*ContextAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c ContextAnnotation
	err := s.db.QueryRow(
		`SELECT id, atom_id, context_type, adjusted_weight, confidence_score, access_count, last_accessed, decay_factor
		 FROM context_atoms WHERE id = ?`,
		contextID,
	).Scan(&c.ID, &c.AtomID, &c.ContextType, &c.AdjustedWeight, &c.Confidence, &c.AccessCount, &c.LastAccessed, &c.DecayFactor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErr("context", contextID)
	}
	if err != nil {
		return nil, storageErr("GetContext", err)
	}

	adjustments, err := s.adjustmentsFor(contextID)
	if err != nil {
		return nil, err
	}
	c.Adjustments = adjustments
	return &c, nil
}

// ContextsForAtom returns every annotation on an atom, with adjustment
// history attached.
func (s *Store) ContextsForAtom(atomID string) ([]ContextAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextsForAtomLocked(atomID)
}

func (s *Store) contextsForAtomLocked(atomID string) ([]ContextAnnotation, error) {
	rows, err := s.db.Query(
		`SELECT id, atom_id, context_type, adjusted_weight, confidence_score, access_count, last_accessed, decay_factor
		 FROM context_atoms WHERE atom_id = ? ORDER BY created_at`,
		atomID,
	)
	if err != nil {
		return nil, storageErr("ContextsForAtom", err)
	}
	defer rows.Close()

	var contexts []ContextAnnotation
	for rows.Next() {
		var c ContextAnnotation
		if err := rows.Scan(&c.ID, &c.AtomID, &c.ContextType, &c.AdjustedWeight, &c.Confidence, &c.AccessCount, &c.LastAccessed, &c.DecayFactor); err != nil {
			logging.Get(logging.CategoryContext).Warn("Skipping unreadable context row for atom %s: %v", atomID, err)
			continue
		}
		contexts = append(contexts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ContextsForAtom", err)
	}

	for i := range contexts {
		adjustments, err := s.adjustmentsFor(contexts[i].ID)
		if err != nil {
			return nil, err
		}
		contexts[i].Adjustments = adjustments
	}
	return contexts, nil
}

func (s *Store) adjustmentsFor(contextID string) ([]ContextAdjustment, error) {
	rows, err := s.db.Query(
		`SELECT id, context_id, adjustment_type, value, COALESCE(reason, ''), applied_at
		 FROM context_adjustments WHERE context_id = ? ORDER BY id`,
		contextID,
	)
	if err != nil {
		return nil, storageErr("adjustmentsFor", err)
	}
	defer rows.Close()

	var adjustments []ContextAdjustment
	for rows.Next() {
		var a ContextAdjustment
		if err := rows.Scan(&a.ID, &a.ContextID, &a.Type, &a.Value, &a.Reason, &a.AppliedAt); err != nil {
			logging.Get(logging.CategoryContext).Warn("Skipping unreadable adjustment row for context %s: %v", contextID, err)
			continue
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}
