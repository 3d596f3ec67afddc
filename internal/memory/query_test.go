package memory

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestQueryBaseMatch(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{
		WingPath: []string{"languages", "elixir", "genserver"},
		Type:     "code_pattern",
		Tags:     []string{"elixir", "otp"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	if _, err := store.StoreAtom(AtomInput{
		WingPath: []string{"languages", "go"},
		Type:     "code_pattern",
		Tags:     []string{"golang"},
		Weight:   1.0,
	}); err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	results, err := store.Query("elixir", QueryOptions{Layers: []string{LayerBase}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Atom.ID != id {
		t.Errorf("Wrong atom matched: %s", results[0].Atom.ID)
	}
	if results[0].Contexts != nil || results[0].Memberships != nil {
		t.Error("Base-only query must not join overlays")
	}
}

func TestQueryCaseInsensitive(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.StoreAtom(AtomInput{
		WingPath: []string{"p"},
		Type:     "Fact",
		Tags:     []string{"Elixir"},
		Weight:   1.0,
	}); err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	for _, q := range []string{"ELIXIR", "elixir", "Eli"} {
		results, err := store.Query(q, QueryOptions{Layers: []string{LayerBase}})
		if err != nil {
			t.Fatalf("Query %q failed: %v", q, err)
		}
		if len(results) != 1 {
			t.Errorf("Query %q: expected 1 result, got %d", q, len(results))
		}
	}
}

func TestQueryUnknownLayer(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Query("x", QueryOptions{Layers: []string{"telepathy"}})
	if !IsValidation(err) {
		t.Errorf("Unknown layer should fail validation, got %v", err)
	}
}

func TestQueryLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.StoreAtom(AtomInput{
			WingPath: []string{"bulk", string(rune('a' + i))},
			Type:     "fact",
			Tags:     []string{"bulk"},
			Weight:   1.0,
		}); err != nil {
			t.Fatalf("StoreAtom failed: %v", err)
		}
	}

	results, err := store.Query("bulk", QueryOptions{Layers: []string{LayerBase}, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected limit to cap results at 2, got %d", len(results))
	}
}

func TestQueryJoinsAllLayers(t *testing.T) {
	store := newTestStore(t)

	// Atoms for a small elixir workflow.
	a, err := store.StoreAtom(AtomInput{
		WingPath: []string{"elixir", "supervision"},
		Type:     "code_pattern",
		Tags:     []string{"elixir", "otp"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	b, err := store.StoreAtom(AtomInput{
		WingPath: []string{"elixir", "genserver"},
		Type:     "code_pattern",
		Tags:     []string{"elixir"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	// Overlay: one confidence annotation on the first atom.
	ctxID, err := store.CreateContext(a, "debugging", 1.5)
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	if err := store.Adjust(ctxID, "boost", 1.2, "verified"); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	// A fully linked chain validates above the trust threshold.
	if err := store.AddReference(a, RefTypePattern, b, 1.0); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	chainID, err := store.CreateChain("otp setup", "workflow", []string{a, b})
	if err != nil {
		t.Fatalf("CreateChain failed: %v", err)
	}
	v, err := store.ValidateChain(chainID)
	if err != nil {
		t.Fatalf("ValidateChain failed: %v", err)
	}
	if v.Score() <= validatedThreshold {
		t.Fatalf("Test setup expects a validated chain, score %v", v.Score())
	}

	results, err := store.Query("elixir", QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	byID := make(map[string]QueryResult, len(results))
	for _, r := range results {
		byID[r.Atom.ID] = r
	}

	first, ok := byID[a]
	if !ok {
		t.Fatal("First atom missing from results")
	}
	if len(first.Contexts) != 1 {
		t.Fatalf("Expected 1 context on first atom, got %d", len(first.Contexts))
	}
	if first.Contexts[0].AdjustedWeight != 1.8 {
		t.Errorf("Expected adjusted weight 1.8, got %v", first.Contexts[0].AdjustedWeight)
	}

	wantMembership := ChainMembership{
		ChainID:         chainID,
		ChainName:       "otp setup",
		ChainType:       "workflow",
		ValidationScore: v.Score(),
		Position:        0,
		Role:            RoleSource,
	}
	if len(first.Memberships) != 1 {
		t.Fatalf("Expected 1 membership on first atom, got %d", len(first.Memberships))
	}
	if diff := cmp.Diff(wantMembership, first.Memberships[0]); diff != "" {
		t.Errorf("Membership mismatch (-want +got):\n%s", diff)
	}

	second, ok := byID[b]
	if !ok {
		t.Fatal("Second atom missing from results")
	}
	if len(second.Contexts) != 0 {
		t.Errorf("Second atom has no annotations, got %d", len(second.Contexts))
	}
	if len(second.Memberships) != 1 || second.Memberships[0].Role != RoleTarget {
		t.Errorf("Second atom should be the chain target: %+v", second.Memberships)
	}
}

func TestQueryExcludesUnvalidatedChains(t *testing.T) {
	store := newTestStore(t)

	// Seven members with no pattern edges push coherence to 0.8^6, which
	// drags the overall score under the trust threshold.
	ids := make([]string, 7)
	for i := range ids {
		id, err := store.StoreAtom(AtomInput{
			WingPath: []string{"weak", string(rune('a' + i))},
			Type:     "fact",
			Tags:     []string{"weak"},
			Weight:   1.0,
		})
		if err != nil {
			t.Fatalf("StoreAtom failed: %v", err)
		}
		ids[i] = id
	}

	// No pattern edges, so coherence decays below the threshold.
	chainID, err := store.CreateChain("untrusted", "workflow", ids)
	if err != nil {
		t.Fatalf("CreateChain failed: %v", err)
	}
	v, err := store.ValidateChain(chainID)
	if err != nil {
		t.Fatalf("ValidateChain failed: %v", err)
	}
	if v.Score() > validatedThreshold {
		t.Fatalf("Test setup expects an unvalidated chain, score %v", v.Score())
	}

	results, err := store.Query("weak", QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, r := range results {
		if len(r.Memberships) != 0 {
			t.Errorf("Unvalidated chain leaked into results: %+v", r.Memberships)
		}
	}
}

func TestQueryBumpsHeatAndLogs(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{
		WingPath: []string{"hot", "path"},
		Type:     "fact",
		Tags:     []string{"hotpath"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	if _, err := store.Query("hotpath", QueryOptions{Layers: []string{LayerBase}}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	entry, err := store.Heat(id)
	if err != nil {
		t.Fatalf("Heat failed: %v", err)
	}
	if entry.Frequency != 1 {
		t.Errorf("Query should bump heat for each result, got frequency %d", entry.Frequency)
	}

	records, err := store.RecentQueries(time.Minute)
	if err != nil {
		t.Fatalf("RecentQueries failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 logged query, got %d", len(records))
	}
	if records[0].Text != "hotpath" || records[0].ResultCount != 1 {
		t.Errorf("Query log row wrong: %+v", records[0])
	}
	if len(records[0].Layers) != 1 || records[0].Layers[0] != LayerBase {
		t.Errorf("Layers not recorded: %+v", records[0].Layers)
	}
}

func TestQueryWildcardsMatchLiterally(t *testing.T) {
	store := newTestStore(t)

	underscore, err := store.StoreAtom(AtomInput{
		WingPath: []string{"w1"},
		Type:     "fact",
		Tags:     []string{"snake_case"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	if _, err := store.StoreAtom(AtomInput{
		WingPath: []string{"w2"},
		Type:     "fact",
		Tags:     []string{"snakeXcase"},
		Weight:   1.0,
	}); err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	// An underscore in the query text is a literal character, not a
	// single-character wildcard.
	results, err := store.Query("snake_case", QueryOptions{Layers: []string{LayerBase}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Atom.ID != underscore {
		t.Fatalf("Expected only the literal underscore match, got %d results", len(results))
	}

	// Same for percent: it must not widen into match-anything.
	percent, err := store.StoreAtom(AtomInput{
		WingPath: []string{"w3"},
		Type:     "fact",
		Tags:     []string{"100%"},
		Weight:   1.0,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	results, err = store.Query("100%", QueryOptions{Layers: []string{LayerBase}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Atom.ID != percent {
		t.Fatalf("Expected only the literal percent match, got %d results", len(results))
	}
}

func TestQueryEmptyTextMatchesEverything(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := store.StoreAtom(AtomInput{
			WingPath: []string{"all", string(rune('a' + i))},
			Type:     "fact",
			Weight:   1.0,
		}); err != nil {
			t.Fatalf("StoreAtom failed: %v", err)
		}
	}

	results, err := store.Query("", QueryOptions{Layers: []string{LayerBase}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Empty text should match all atoms, got %d", len(results))
	}
}
