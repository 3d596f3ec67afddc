package memory

import (
	"math"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestStoreAtomDedup(t *testing.T) {
	store := newTestStore(t)

	in := AtomInput{
		WingPath: []string{"project", "auth", "jwt"},
		Type:     "code_pattern",
		Tags:     []string{"jwt", "auth"},
		Weight:   1.0,
	}

	id1, err := store.StoreAtom(in)
	if err != nil {
		t.Fatalf("First store failed: %v", err)
	}
	id2, err := store.StoreAtom(in)
	if err != nil {
		t.Fatalf("Duplicate store failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Duplicate content produced different ids: %s vs %s", id1, id2)
	}

	counts, err := store.TableCounts()
	if err != nil {
		t.Fatalf("TableCounts failed: %v", err)
	}
	if counts["atoms"] != 1 {
		t.Errorf("Expected exactly 1 atom row, got %d", counts["atoms"])
	}
}

func TestStoreAtomTagOrderDedups(t *testing.T) {
	store := newTestStore(t)

	id1, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Tags: []string{"a", "b"}, Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	id2, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Tags: []string{"b", "a"}, Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	if id1 != id2 {
		t.Error("Reordered tags should deduplicate to the same atom")
	}
}

func TestStoreAtomWeightNotPartOfIdentity(t *testing.T) {
	store := newTestStore(t)

	id1, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	id2, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Weight: 9.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	if id1 != id2 {
		t.Error("Weight should not contribute to content identity")
	}

	// First write wins on the stored weight.
	atom, err := store.GetAtom(id1)
	if err != nil {
		t.Fatalf("GetAtom failed: %v", err)
	}
	if atom.Weight != 1.0 {
		t.Errorf("Expected original weight 1.0, got %v", atom.Weight)
	}
}

func TestStoreAtomValidation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		in   AtomInput
	}{
		{"EmptyWing", AtomInput{Type: "fact", Weight: 1.0}},
		{"EmptySegment", AtomInput{WingPath: []string{"a", ""}, Type: "fact", Weight: 1.0}},
		{"EmptyType", AtomInput{WingPath: []string{"a"}, Weight: 1.0}},
		{"EmptyTag", AtomInput{WingPath: []string{"a"}, Type: "fact", Tags: []string{""}, Weight: 1.0}},
		{"NaNWeight", AtomInput{WingPath: []string{"a"}, Type: "fact", Weight: math.NaN()}},
		{"InfWeight", AtomInput{WingPath: []string{"a"}, Type: "fact", Weight: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.StoreAtom(tt.in)
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	counts, _ := store.TableCounts()
	if counts["atoms"] != 0 {
		t.Errorf("Rejected payloads must not write rows, found %d", counts["atoms"])
	}
}

func TestBatchStoreAtoms(t *testing.T) {
	store := newTestStore(t)

	items := []AtomInput{
		{WingPath: []string{"a"}, Type: "fact", Tags: []string{"x"}, Weight: 1.0},
		{WingPath: []string{"b"}, Type: "fact", Tags: []string{"y"}, Weight: 1.0},
		{WingPath: []string{"a"}, Type: "fact", Tags: []string{"x"}, Weight: 1.0},
	}

	ids, err := store.BatchStoreAtoms(items)
	if err != nil {
		t.Fatalf("BatchStoreAtoms failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("Expected 3 ids, got %d", len(ids))
	}
	if ids[0] != ids[2] {
		t.Error("Intra-batch duplicates should share an id")
	}
	if ids[0] == ids[1] {
		t.Error("Distinct payloads should get distinct ids")
	}

	counts, _ := store.TableCounts()
	if counts["atoms"] != 2 {
		t.Errorf("Expected 2 atom rows, got %d", counts["atoms"])
	}
}

func TestBatchStoreAtomsAllOrNothing(t *testing.T) {
	store := newTestStore(t)

	items := []AtomInput{
		{WingPath: []string{"a"}, Type: "fact", Weight: 1.0},
		{WingPath: []string{""}, Type: "fact", Weight: 1.0},
	}

	if _, err := store.BatchStoreAtoms(items); !IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}

	counts, _ := store.TableCounts()
	if counts["atoms"] != 0 {
		t.Errorf("Failed batch must write nothing, found %d rows", counts["atoms"])
	}
}

func TestBatchStoreMatchesSequentialStores(t *testing.T) {
	store := newTestStore(t)

	in := AtomInput{WingPath: []string{"shared"}, Type: "fact", Tags: []string{"t"}, Weight: 1.0}

	single, err := store.StoreAtom(in)
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	ids, err := store.BatchStoreAtoms([]AtomInput{in})
	if err != nil {
		t.Fatalf("BatchStoreAtoms failed: %v", err)
	}
	if ids[0] != single {
		t.Error("Batch store should deduplicate against previously stored atoms")
	}
}

func TestConcurrentStoreDedup(t *testing.T) {
	store := newTestStore(t)

	in := AtomInput{WingPath: []string{"race"}, Type: "fact", Tags: []string{"t"}, Weight: 1.0}

	var g errgroup.Group
	ids := make([]string, 16)
	for i := 0; i < 16; i++ {
		i := i
		g.Go(func() error {
			id, err := store.StoreAtom(in)
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Concurrent store failed: %v", err)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Concurrent stores diverged: %s vs %s", ids[i], ids[0])
		}
	}

	counts, _ := store.TableCounts()
	if counts["atoms"] != 1 {
		t.Errorf("Expected 1 atom row after concurrent stores, got %d", counts["atoms"])
	}
}

func TestAddReferenceUpsert(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	if err := store.AddReference(id, "related", "target-1", 0.5); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	if err := store.AddReference(id, "related", "target-1", 0.9); err != nil {
		t.Fatalf("Re-adding reference failed: %v", err)
	}

	refs, err := store.References(id)
	if err != nil {
		t.Fatalf("References failed: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("Expected 1 edge after upsert, got %d", len(refs))
	}
	if refs[0].Strength != 0.9 {
		t.Errorf("Later write should win on strength, got %v", refs[0].Strength)
	}
}

func TestAddReferenceMissingAtom(t *testing.T) {
	store := newTestStore(t)

	err := store.AddReference("no-such-atom", "related", "target", 1.0)
	if !IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestAddReferenceStorageFailureIsNotNotFound(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	store.Close()

	err = store.AddReference(id, "related", "target", 1.0)
	if !IsStorage(err) {
		t.Errorf("Failed lookup should surface as storage error, got %v", err)
	}
	if IsNotFound(err) {
		t.Error("A broken store must not masquerade as a missing atom")
	}
}

func TestReferencesSkipsUnreadableRows(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{WingPath: []string{"p"}, Type: "fact", Weight: 1.0})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}
	if err := store.AddReference(id, "related", "good", 0.5); err != nil {
		t.Fatalf("AddReference failed: %v", err)
	}
	// A NULL strength cannot scan into a float64.
	if _, err := store.DB().Exec(
		`INSERT INTO atom_references (atom_id, ref_type, target, strength) VALUES (?, 'related', 'bad', NULL)`,
		id,
	); err != nil {
		t.Fatalf("Failed to plant corrupt row: %v", err)
	}

	refs, err := store.References(id)
	if err != nil {
		t.Fatalf("References failed: %v", err)
	}
	if len(refs) != 1 || refs[0].Target != "good" {
		t.Errorf("Expected only the readable edge to survive, got %+v", refs)
	}
}

func TestGetAtomRoundTrip(t *testing.T) {
	store := newTestStore(t)

	id, err := store.StoreAtom(AtomInput{
		WingPath: []string{"project", "auth"},
		Type:     "code_pattern",
		Tags:     []string{"beta", "alpha"},
		Weight:   2.5,
	})
	if err != nil {
		t.Fatalf("StoreAtom failed: %v", err)
	}

	atom, err := store.GetAtom(id)
	if err != nil {
		t.Fatalf("GetAtom failed: %v", err)
	}
	if atom.ID != id {
		t.Errorf("ID mismatch: %s vs %s", atom.ID, id)
	}
	if len(atom.WingPath) != 2 || atom.WingPath[0] != "project" || atom.WingPath[1] != "auth" {
		t.Errorf("Wing path mismatch: %v", atom.WingPath)
	}
	// Tags come back sorted.
	if len(atom.Tags) != 2 || atom.Tags[0] != "alpha" || atom.Tags[1] != "beta" {
		t.Errorf("Tag mismatch: %v", atom.Tags)
	}
	if atom.Weight != 2.5 {
		t.Errorf("Weight mismatch: %v", atom.Weight)
	}
	if atom.ContentHash == "" {
		t.Error("Content hash missing")
	}
}

func TestGetAtomNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAtom("missing")
	if !IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}
