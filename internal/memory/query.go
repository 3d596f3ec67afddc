package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wingmem/internal/logging"
)

// =============================================================================
// CROSS-LAYER QUERY ORCHESTRATION
// =============================================================================

// Query layers.
const (
	LayerBase       = "base"
	LayerContext    = "context"
	LayerValidation = "validation"
)

// DefaultQueryLimit bounds result sets when the caller does not.
const DefaultQueryLimit = 20

// QueryOptions selects which layers join into the result set.
type QueryOptions struct {
	// Layers defaults to all three: base, context, validation.
	Layers []string
	// Limit defaults to DefaultQueryLimit.
	Limit int
}

// ChainMembership is a chain member row joined with its parent chain, as
// surfaced by the validation layer.
type ChainMembership struct {
	ChainID         string
	ChainName       string
	ChainType       string
	ValidationScore float64
	Position        int
	Role            string
}

// QueryResult is one matched atom with its requested overlays.
type QueryResult struct {
	Atom        Atom
	Contexts    []ContextAnnotation
	Memberships []ChainMembership
}

// QueryRecord is one query_log audit row.
type QueryRecord struct {
	ID          int64
	Text        string
	Layers      []string
	DurationMS  float64
	ResultCount int
	ExecutedAt  time.Time
}

// Query runs a case-insensitive substring match against tag values, atom
// type, and wing path, then joins the requested layers onto each hit.
// Results follow the base match's natural order, bounded by limit; no
// relevance scoring is applied. Every atom in the result set receives a
// heat bump, even though the query itself is read-only, and an audit row
// records the call.
func (s *Store) Query(text string, opts QueryOptions) ([]QueryResult, error) {
	timer := logging.StartTimer(logging.CategoryQuery, "Query")
	defer timer.Stop()

	layers := opts.Layers
	if len(layers) == 0 {
		layers = []string{LayerBase, LayerContext, LayerValidation}
	}
	for _, layer := range layers {
		switch layer {
		case LayerBase, LayerContext, LayerValidation:
		default:
			return nil, validationErr("layers", "unknown layer: "+layer)
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.baseMatchLocked(text, limit)
	if err != nil {
		return nil, err
	}

	withContext := containsLayer(layers, LayerContext)
	withValidation := containsLayer(layers, LayerValidation)

	results := make([]QueryResult, 0, len(ids))
	for _, id := range ids {
		atom, err := s.readAtom(id)
		if err != nil {
			return nil, err
		}
		result := QueryResult{Atom: *atom}

		if withContext {
			contexts, err := s.contextsForAtomLocked(id)
			if err != nil {
				return nil, err
			}
			result.Contexts = contexts
		}

		if withValidation {
			memberships, err := s.validatedMembershipsLocked(id)
			if err != nil {
				return nil, err
			}
			result.Memberships = memberships
		}

		results = append(results, result)
	}

	// Retrieval is an access: every returned atom heats up.
	for _, r := range results {
		if err := s.touchAtomLocked(r.Atom.ID); err != nil {
			logging.Get(logging.CategoryHeat).Warn("Heat update failed for %s: %v", r.Atom.ID, err)
		}
	}

	elapsed := time.Since(start)
	if err := s.recordQueryLocked(text, layers, elapsed, len(results)); err != nil {
		logging.Get(logging.CategoryQuery).Warn("Query log write failed: %v", err)
	}

	logging.QueryDebug("Query %q layers=%v returned %d results in %v", text, layers, len(results), elapsed)
	return results, nil
}

// RecentQueries returns query_log rows newer than the window.
func (s *Store) RecentQueries(window time.Duration) ([]QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// CURRENT_TIMESTAMP columns hold sqlite's own datetime text, so the
	// cutoff is computed in sqlite too rather than bound as a Go time.
	modifier := fmt.Sprintf("-%d seconds", int64(window.Seconds()))
	rows, err := s.db.Query(
		`SELECT id, query_text, layers, duration_ms, result_count, executed_at
		 FROM query_log WHERE executed_at >= datetime('now', ?) ORDER BY id DESC`,
		modifier,
	)
	if err != nil {
		return nil, storageErr("RecentQueries", err)
	}
	defer rows.Close()

	var records []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var layersJSON string
		if err := rows.Scan(&r.ID, &r.Text, &layersJSON, &r.DurationMS, &r.ResultCount, &r.ExecutedAt); err != nil {
			logging.Get(logging.CategoryQuery).Warn("Skipping unreadable query_log row: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(layersJSON), &r.Layers); err != nil {
			r.Layers = nil
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

// baseMatchLocked finds atoms whose tags, type, or wing path contain the
// query text, case-insensitively. The text is a literal substring, so
// LIKE metacharacters in it are escaped.
func (s *Store) baseMatchLocked(text string, limit int) ([]string, error) {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	rows, err := s.db.Query(
		`SELECT DISTINCT a.id FROM atoms a
		 LEFT JOIN atom_tags t ON t.atom_id = a.id
		 WHERE lower(t.tag) LIKE ? ESCAPE '\'
		    OR lower(a.atom_type) LIKE ? ESCAPE '\'
		    OR lower(a.wing_path) LIKE ? ESCAPE '\'
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, storageErr("Query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logging.Get(logging.CategoryQuery).Warn("Skipping unreadable match row: %v", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// validatedMembershipsLocked returns the atom's memberships in chains whose
// stored validation score clears the trust threshold.
func (s *Store) validatedMembershipsLocked(atomID string) ([]ChainMembership, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.name, c.chain_type, c.validation_score, m.position, m.role
		 FROM chain_members m
		 JOIN pattern_chains c ON c.id = m.chain_id
		 WHERE m.atom_id = ? AND c.validation_score > ?
		 ORDER BY c.validation_score DESC`,
		atomID, validatedThreshold,
	)
	if err != nil {
		return nil, storageErr("Query", err)
	}
	defer rows.Close()

	var memberships []ChainMembership
	for rows.Next() {
		var m ChainMembership
		if err := rows.Scan(&m.ChainID, &m.ChainName, &m.ChainType, &m.ValidationScore, &m.Position, &m.Role); err != nil {
			logging.Get(logging.CategoryQuery).Warn("Skipping unreadable membership row for %s: %v", atomID, err)
			continue
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (s *Store) recordQueryLocked(text string, layers []string, elapsed time.Duration, resultCount int) error {
	layersJSON, err := json.Marshal(layers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO query_log (query_text, layers, duration_ms, result_count) VALUES (?, ?, ?, ?)`,
		text, string(layersJSON), float64(elapsed.Microseconds())/1000.0, resultCount,
	)
	return err
}

// likeEscaper backslash-escapes LIKE metacharacters so query text matches
// literally under an ESCAPE '\' clause.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func containsLayer(layers []string, layer string) bool {
	for _, l := range layers {
		if l == layer {
			return true
		}
	}
	return false
}
