package memory

import (
	"database/sql"
	"errors"
	"time"

	"wingmem/internal/logging"
)

// =============================================================================
// ACCESS-HEAT TRACKING
// =============================================================================

// Heat follows a decay-then-boost update on every access:
//
//	heat' = heat*heatDecay + heatBoost
//
// A single access never decreases heat; under constant access the score
// approaches but never exceeds heatBoost/(1-heatDecay) = 20.
const (
	heatDecay = 0.95
	heatBoost = 1.0
)

// HeatEntry is the access-frequency record for one atom.
type HeatEntry struct {
	AtomID     string
	Score      float64
	Frequency  int64
	LastUpdate time.Time
}

// TouchAtom registers an access for an atom, upserting its heat entry.
// Every retrieval that returns the atom calls this, including read-only
// queries.
func (s *Store) TouchAtom(atomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchAtomLocked(atomID)
}

func (s *Store) touchAtomLocked(atomID string) error {
	_, err := s.db.Exec(
		`INSERT INTO heat_map (atom_id, heat_score, access_frequency, last_update)
		 VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT(atom_id) DO UPDATE SET
		   heat_score = heat_score * ? + ?,
		   access_frequency = access_frequency + 1,
		   last_update = CURRENT_TIMESTAMP`,
		atomID, heatBoost, heatDecay, heatBoost,
	)
	if err != nil {
		return storageErr("TouchAtom", err)
	}
	logging.HeatDebug("Heat bumped for atom %s", atomID)
	return nil
}

// Heat returns the heat entry for an atom. Atoms that were never accessed
// have a zero entry rather than an error.
func (s *Store) Heat(atomID string) (HeatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e HeatEntry
	err := s.db.QueryRow(
		`SELECT atom_id, heat_score, access_frequency, last_update FROM heat_map WHERE atom_id = ?`,
		atomID,
	).Scan(&e.AtomID, &e.Score, &e.Frequency, &e.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return HeatEntry{AtomID: atomID}, nil
	}
	if err != nil {
		return HeatEntry{}, storageErr("Heat", err)
	}
	return e, nil
}

// HotAtomCount counts atoms whose heat is at or above the threshold.
func (s *Store) HotAtomCount(threshold float64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM heat_map WHERE heat_score >= ?`,
		threshold,
	).Scan(&count)
	if err != nil {
		return 0, storageErr("HotAtomCount", err)
	}
	return count, nil
}
