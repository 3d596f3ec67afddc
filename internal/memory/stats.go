package memory

import (
	"fmt"
	"time"

	"wingmem/internal/logging"
)

// TagCount is one entry of the most-used tags list.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// EngineStats is the aggregate view served by the read-only HTTP wrapper.
type EngineStats struct {
	TotalAtoms             int64            `json:"total_atoms"`
	TotalContexts          int64            `json:"total_contexts"`
	TotalChains            int64            `json:"total_chains"`
	AtomsByType            map[string]int64 `json:"atoms_by_type"`
	ChainsByType           map[string]int64 `json:"chains_by_type"`
	ValidatedChainFraction float64          `json:"validated_chain_fraction"`
	AvgQueryMillis         float64          `json:"avg_query_millis"`
	TopTags                []TagCount       `json:"top_tags"`
}

// EngineStats aggregates counts by type, the validated-chain fraction,
// average query time, and the most-used tags.
func (s *Store) EngineStats(topTagLimit int) (*EngineStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "EngineStats")
	defer timer.Stop()

	if topTagLimit <= 0 {
		topTagLimit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &EngineStats{
		AtomsByType:  make(map[string]int64),
		ChainsByType: make(map[string]int64),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM atoms").Scan(&stats.TotalAtoms); err != nil {
		return nil, storageErr("EngineStats", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM context_atoms").Scan(&stats.TotalContexts); err != nil {
		return nil, storageErr("EngineStats", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pattern_chains").Scan(&stats.TotalChains); err != nil {
		return nil, storageErr("EngineStats", err)
	}

	if err := s.groupCount("SELECT atom_type, COUNT(*) FROM atoms GROUP BY atom_type", stats.AtomsByType); err != nil {
		return nil, err
	}
	if err := s.groupCount("SELECT chain_type, COUNT(*) FROM pattern_chains GROUP BY chain_type", stats.ChainsByType); err != nil {
		return nil, err
	}

	if stats.TotalChains > 0 {
		var validated int64
		if err := s.db.QueryRow(
			"SELECT COUNT(*) FROM pattern_chains WHERE validation_score > ?", validatedThreshold,
		).Scan(&validated); err != nil {
			return nil, storageErr("EngineStats", err)
		}
		stats.ValidatedChainFraction = float64(validated) / float64(stats.TotalChains)
	}

	var avg float64
	if err := s.db.QueryRow("SELECT COALESCE(AVG(duration_ms), 0) FROM query_log").Scan(&avg); err != nil {
		return nil, storageErr("EngineStats", err)
	}
	stats.AvgQueryMillis = avg

	rows, err := s.db.Query(
		`SELECT tag, COUNT(*) AS n FROM atom_tags GROUP BY tag ORDER BY n DESC, tag LIMIT ?`,
		topTagLimit,
	)
	if err != nil {
		return nil, storageErr("EngineStats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable tag count row: %v", err)
			continue
		}
		stats.TopTags = append(stats.TopTags, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("EngineStats", err)
	}

	return stats, nil
}

// RecentQueryCount counts query_log rows newer than the window.
func (s *Store) RecentQueryCount(window time.Duration) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modifier := fmt.Sprintf("-%d seconds", int64(window.Seconds()))
	var count int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM query_log WHERE executed_at >= datetime('now', ?)`,
		modifier,
	).Scan(&count)
	if err != nil {
		return 0, storageErr("RecentQueryCount", err)
	}
	return count, nil
}

func (s *Store) groupCount(query string, into map[string]int64) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return storageErr("EngineStats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable group count row: %v", err)
			continue
		}
		into[key] = count
	}
	return rows.Err()
}
