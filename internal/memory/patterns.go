package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"wingmem/internal/logging"
)

// =============================================================================
// LAYER 3: PATTERN CHAINS
// =============================================================================

// Member roles, assigned by position at chain creation.
const (
	RoleSource       = "source"
	RoleIntermediate = "intermediate"
	RoleTarget       = "target"
)

// RefTypePattern is the reference edge type that links adjacent chain
// members; coherence scoring looks for these edges.
const RefTypePattern = "pattern"

// Refactor kinds.
const (
	RefactorOptimize   = "optimize"
	RefactorReorganize = "reorganize"
	RefactorMerge      = "merge"
)

// minConnectionStrength is the cutoff below which optimize drops members.
const minConnectionStrength = 0.3

// coherencePenalty is applied per adjacent pair lacking a pattern edge.
const coherencePenalty = 0.8

// defaultMemberConfidence stands in for members with no context annotation
// when computing accuracy.
const defaultMemberConfidence = 0.8

// validatedThreshold marks a chain as trustworthy enough to surface in
// query results.
const validatedThreshold = 0.7

// PatternChain is a named, ordered collection of atoms declared related,
// with a computed validation score.
type PatternChain struct {
	ID              string
	Name            string
	Type            string
	ValidationScore float64
	CreatedAt       time.Time
}

// ChainMember is one atom's membership in a chain. The (chain, atom) pair is
// unique; re-adding an atom rewrites its position and role.
type ChainMember struct {
	ChainID            string  `json:"chain_id"`
	AtomID             string  `json:"atom_id"`
	Position           int     `json:"position"`
	Role               string  `json:"role"`
	ConnectionStrength float64 `json:"connection_strength"`
}

// ChainValidation is the scored breakdown persisted on every validate call.
// The overall score is always the mean of the three sub-scores, each in
// [0, 1].
type ChainValidation struct {
	ChainID      string
	Coherence    float64
	Completeness float64
	Accuracy     float64
	MemberCount  int
}

// Score returns the composite validation score.
func (v ChainValidation) Score() float64 {
	return (v.Coherence + v.Completeness + v.Accuracy) / 3.0
}

// RefactorRecord is the before/after snapshot written by every refactor
// call, with a re-validated improvement delta.
type RefactorRecord struct {
	ChainID     string
	Kind        string
	Before      []ChainMember
	After       []ChainMember
	ScoreBefore float64
	ScoreAfter  float64
	Improvement float64
}

// CreateChain creates a pattern chain over existing atoms. Roles follow
// position: first member is the source, last the target, the rest
// intermediate. If an atom id appears more than once only the latest
// occurrence's position and role are kept; duplicates never create a second
// membership row.
func (s *Store) CreateChain(name, chainType string, memberIDs []string) (string, error) {
	timer := logging.StartTimer(logging.CategoryPattern, "CreateChain")
	defer timer.Stop()

	if name == "" {
		return "", validationErr("name", "must not be empty")
	}
	if chainType == "" {
		return "", validationErr("chain_type", "must not be empty")
	}
	if len(memberIDs) == 0 {
		return "", validationErr("member_ids", "chain requires at least one member")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, atomID := range memberIDs {
		exists, err := s.atomExists(atomID)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", notFoundErr("atom", atomID)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", storageErr("CreateChain", err)
	}
	defer tx.Rollback()

	chainID := uuid.NewString()
	if _, err := tx.Exec(
		`INSERT INTO pattern_chains (id, name, chain_type, validation_score) VALUES (?, ?, ?, 0.0)`,
		chainID, name, chainType,
	); err != nil {
		return "", storageErr("CreateChain", err)
	}

	for i, atomID := range memberIDs {
		role := roleForPosition(i, len(memberIDs))
		if _, err := tx.Exec(
			`INSERT INTO chain_members (chain_id, atom_id, position, role, connection_strength)
			 VALUES (?, ?, ?, ?, 1.0)
			 ON CONFLICT(chain_id, atom_id) DO UPDATE SET
			   position = excluded.position,
			   role = excluded.role`,
			chainID, atomID, i, role,
		); err != nil {
			return "", storageErr("CreateChain", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("CreateChain", err)
	}

	logging.Pattern("Chain created: id=%s name=%q type=%s members=%d", chainID, name, chainType, len(memberIDs))
	return chainID, nil
}

// ValidateChain recomputes the chain's validation breakdown, persists an
// audit row, and updates the chain's stored score. The score is the mean of
// coherence, completeness, and accuracy.
func (s *Store) ValidateChain(chainID string) (ChainValidation, error) {
	timer := logging.StartTimer(logging.CategoryPattern, "ValidateChain")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.chainExists(chainID)
	if err != nil {
		return ChainValidation{}, err
	}
	if !exists {
		return ChainValidation{}, notFoundErr("chain", chainID)
	}

	v, err := s.computeValidationLocked(chainID)
	if err != nil {
		return ChainValidation{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ChainValidation{}, storageErr("ValidateChain", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO pattern_validations (chain_id, coherence, completeness, accuracy, member_count)
		 VALUES (?, ?, ?, ?, ?)`,
		chainID, v.Coherence, v.Completeness, v.Accuracy, v.MemberCount,
	); err != nil {
		return ChainValidation{}, storageErr("ValidateChain", err)
	}

	if _, err := tx.Exec(
		`UPDATE pattern_chains SET validation_score = ? WHERE id = ?`,
		v.Score(), chainID,
	); err != nil {
		return ChainValidation{}, storageErr("ValidateChain", err)
	}

	if err := tx.Commit(); err != nil {
		return ChainValidation{}, storageErr("ValidateChain", err)
	}

	logging.Pattern("Chain validated: id=%s score=%.3f (coherence=%.3f completeness=%.1f accuracy=%.3f)",
		chainID, v.Score(), v.Coherence, v.Completeness, v.Accuracy)
	return v, nil
}

// RefactorChain rewrites a chain's membership and records a before/after
// snapshot. The improvement delta is a genuine re-validation difference,
// not a placeholder; both raw scores land in the history row.
//
//	optimize:   drop members with connection strength below 0.3
//	reorganize: reorder members by descending strength (roles untouched)
//	merge:      recorded no-op; reserved for cross-chain consolidation
func (s *Store) RefactorChain(chainID, kind string) (RefactorRecord, error) {
	timer := logging.StartTimer(logging.CategoryPattern, "RefactorChain")
	defer timer.Stop()

	switch kind {
	case RefactorOptimize, RefactorReorganize, RefactorMerge:
	default:
		return RefactorRecord{}, validationErr("kind", "must be optimize, reorganize, or merge")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.chainExists(chainID)
	if err != nil {
		return RefactorRecord{}, err
	}
	if !exists {
		return RefactorRecord{}, notFoundErr("chain", chainID)
	}

	before, err := s.chainMembersLocked(chainID)
	if err != nil {
		return RefactorRecord{}, err
	}
	beforeVal, err := s.computeValidationLocked(chainID)
	if err != nil {
		return RefactorRecord{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return RefactorRecord{}, storageErr("RefactorChain", err)
	}
	defer tx.Rollback()

	switch kind {
	case RefactorOptimize:
		if _, err := tx.Exec(
			`DELETE FROM chain_members WHERE chain_id = ? AND connection_strength < ?`,
			chainID, minConnectionStrength,
		); err != nil {
			return RefactorRecord{}, storageErr("RefactorChain", err)
		}
	case RefactorReorganize:
		rows, err := tx.Query(
			`SELECT atom_id FROM chain_members WHERE chain_id = ?
			 ORDER BY connection_strength DESC, position`,
			chainID,
		)
		if err != nil {
			return RefactorRecord{}, storageErr("RefactorChain", err)
		}
		var ordered []string
		for rows.Next() {
			var atomID string
			if err := rows.Scan(&atomID); err != nil {
				logging.Get(logging.CategoryPattern).Warn("Skipping unreadable member row for chain %s: %v", chainID, err)
				continue
			}
			ordered = append(ordered, atomID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return RefactorRecord{}, storageErr("RefactorChain", err)
		}
		for i, atomID := range ordered {
			if _, err := tx.Exec(
				`UPDATE chain_members SET position = ? WHERE chain_id = ? AND atom_id = ?`,
				i, chainID, atomID,
			); err != nil {
				return RefactorRecord{}, storageErr("RefactorChain", err)
			}
		}
	case RefactorMerge:
		// Declared but not implemented; the history row still documents the
		// attempt.
		logging.Pattern("Refactor merge requested for chain %s: no-op", chainID)
	}

	if err := tx.Commit(); err != nil {
		return RefactorRecord{}, storageErr("RefactorChain", err)
	}

	after, err := s.chainMembersLocked(chainID)
	if err != nil {
		return RefactorRecord{}, err
	}
	afterVal, err := s.computeValidationLocked(chainID)
	if err != nil {
		return RefactorRecord{}, err
	}

	record := RefactorRecord{
		ChainID:     chainID,
		Kind:        kind,
		Before:      before,
		After:       after,
		ScoreBefore: beforeVal.Score(),
		ScoreAfter:  afterVal.Score(),
		Improvement: afterVal.Score() - beforeVal.Score(),
	}

	beforeJSON, err := json.Marshal(record.Before)
	if err != nil {
		return RefactorRecord{}, storageErr("RefactorChain", err)
	}
	afterJSON, err := json.Marshal(record.After)
	if err != nil {
		return RefactorRecord{}, storageErr("RefactorChain", err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO refactoring_history (chain_id, kind, before_snapshot, after_snapshot, score_before, score_after, improvement)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chainID, kind, string(beforeJSON), string(afterJSON),
		record.ScoreBefore, record.ScoreAfter, record.Improvement,
	); err != nil {
		return RefactorRecord{}, storageErr("RefactorChain", err)
	}

	logging.Pattern("Chain refactored: id=%s kind=%s members %d -> %d improvement=%.3f",
		chainID, kind, len(before), len(after), record.Improvement)
	return record, nil
}

// GetChain fetches chain metadata.
func (s *Store) GetChain(chainID string) (*PatternChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c PatternChain
	err := s.db.QueryRow(
		`SELECT id, name, chain_type, validation_score, created_at FROM pattern_chains WHERE id = ?`,
		chainID,
	).Scan(&c.ID, &c.Name, &c.Type, &c.ValidationScore, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundErr("chain", chainID)
	}
	if err != nil {
		return nil, storageErr("GetChain", err)
	}
	return &c, nil
}

// ChainMembers returns a chain's members in position order.
func (s *Store) ChainMembers(chainID string) ([]ChainMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainMembersLocked(chainID)
}

// SetConnectionStrength updates one membership's connection strength.
// Refactor decisions key off this value.
func (s *Store) SetConnectionStrength(chainID, atomID string, strength float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE chain_members SET connection_strength = ? WHERE chain_id = ? AND atom_id = ?`,
		strength, chainID, atomID,
	)
	if err != nil {
		return storageErr("SetConnectionStrength", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("SetConnectionStrength", err)
	}
	if affected == 0 {
		return notFoundErr("chain member", chainID+"/"+atomID)
	}
	return nil
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

func roleForPosition(i, total int) string {
	switch {
	case i == 0:
		return RoleSource
	case i == total-1:
		return RoleTarget
	default:
		return RoleIntermediate
	}
}

// chainExists mirrors atomExists for pattern chains: a missing row is a
// clean false, anything else is a storage failure.
func (s *Store) chainExists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM pattern_chains WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("chainExists", err)
	}
	return true, nil
}

func (s *Store) chainMembersLocked(chainID string) ([]ChainMember, error) {
	rows, err := s.db.Query(
		`SELECT chain_id, atom_id, position, role, connection_strength
		 FROM chain_members WHERE chain_id = ? ORDER BY position`,
		chainID,
	)
	if err != nil {
		return nil, storageErr("ChainMembers", err)
	}
	defer rows.Close()

	var members []ChainMember
	for rows.Next() {
		var m ChainMember
		if err := rows.Scan(&m.ChainID, &m.AtomID, &m.Position, &m.Role, &m.ConnectionStrength); err != nil {
			logging.Get(logging.CategoryPattern).Warn("Skipping unreadable member row for chain %s: %v", chainID, err)
			continue
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// computeValidationLocked scores a chain without persisting anything.
// Refactor uses it for both sides of the improvement delta.
func (s *Store) computeValidationLocked(chainID string) (ChainValidation, error) {
	members, err := s.chainMembersLocked(chainID)
	if err != nil {
		return ChainValidation{}, err
	}

	v := ChainValidation{
		ChainID:     chainID,
		MemberCount: len(members),
	}

	// Completeness: a chain with no members left carries no information.
	if len(members) >= 1 {
		v.Completeness = 1.0
	}

	// Coherence: penalize each adjacent pair lacking a directed pattern edge
	// from the earlier to the later atom.
	v.Coherence = 1.0
	for i := 0; i+1 < len(members); i++ {
		linked, err := s.patternEdgeExists(members[i].AtomID, members[i+1].AtomID)
		if err != nil {
			return ChainValidation{}, err
		}
		if !linked {
			v.Coherence *= coherencePenalty
		}
	}
	if len(members) == 0 {
		v.Coherence = 0.0
	}

	// Accuracy: mean of each member's context confidence; members without
	// any context fall back to the default.
	if len(members) > 0 {
		var sum float64
		for _, m := range members {
			var conf sql.NullFloat64
			err := s.db.QueryRow(
				`SELECT AVG(confidence_score) FROM context_atoms WHERE atom_id = ?`,
				m.AtomID,
			).Scan(&conf)
			if err != nil {
				return ChainValidation{}, storageErr("computeValidation", err)
			}
			if conf.Valid {
				sum += conf.Float64
			} else {
				sum += defaultMemberConfidence
			}
		}
		v.Accuracy = sum / float64(len(members))
	}

	return v, nil
}

func (s *Store) patternEdgeExists(fromAtom, toAtom string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM atom_references WHERE atom_id = ? AND ref_type = ? AND target = ?`,
		fromAtom, RefTypePattern, toAtom,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("patternEdgeExists", err)
	}
	return true, nil
}
