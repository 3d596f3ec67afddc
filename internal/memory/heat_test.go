package memory

import (
	"math"
	"testing"
)

func TestTouchAtomFormula(t *testing.T) {
	store := newTestStore(t)
	id := storeTestAtom(t, store, "heat")

	if err := store.TouchAtom(id); err != nil {
		t.Fatalf("TouchAtom failed: %v", err)
	}
	entry, err := store.Heat(id)
	if err != nil {
		t.Fatalf("Heat failed: %v", err)
	}
	if entry.Score != heatBoost {
		t.Errorf("First touch should set heat to %v, got %v", heatBoost, entry.Score)
	}
	if entry.Frequency != 1 {
		t.Errorf("Expected frequency 1, got %d", entry.Frequency)
	}

	if err := store.TouchAtom(id); err != nil {
		t.Fatalf("TouchAtom failed: %v", err)
	}
	entry, err = store.Heat(id)
	if err != nil {
		t.Fatalf("Heat failed: %v", err)
	}
	want := heatBoost*heatDecay + heatBoost
	if math.Abs(entry.Score-want) > 1e-9 {
		t.Errorf("Second touch should yield %v, got %v", want, entry.Score)
	}
	if entry.Frequency != 2 {
		t.Errorf("Expected frequency 2, got %d", entry.Frequency)
	}
}

func TestTouchAtomNeverDecreasesHeat(t *testing.T) {
	store := newTestStore(t)
	id := storeTestAtom(t, store, "mono")

	prev := 0.0
	for i := 0; i < 50; i++ {
		if err := store.TouchAtom(id); err != nil {
			t.Fatalf("TouchAtom failed: %v", err)
		}
		entry, err := store.Heat(id)
		if err != nil {
			t.Fatalf("Heat failed: %v", err)
		}
		if entry.Score < prev {
			t.Fatalf("Heat decreased on access %d: %v -> %v", i, prev, entry.Score)
		}
		prev = entry.Score
	}

	// Under constant access heat converges below boost/(1-decay).
	bound := heatBoost / (1 - heatDecay)
	if prev >= bound {
		t.Errorf("Heat %v should stay below the bound %v", prev, bound)
	}
}

func TestHeatNeverAccessed(t *testing.T) {
	store := newTestStore(t)
	id := storeTestAtom(t, store, "cold")

	entry, err := store.Heat(id)
	if err != nil {
		t.Fatalf("Heat failed: %v", err)
	}
	if entry.Score != 0 || entry.Frequency != 0 {
		t.Errorf("Never-accessed atom should have a zero entry: %+v", entry)
	}
}

func TestGetAtomBumpsHeat(t *testing.T) {
	store := newTestStore(t)
	id := storeTestAtom(t, store, "fetch")

	if _, err := store.GetAtom(id); err != nil {
		t.Fatalf("GetAtom failed: %v", err)
	}

	entry, err := store.Heat(id)
	if err != nil {
		t.Fatalf("Heat failed: %v", err)
	}
	if entry.Frequency != 1 {
		t.Errorf("Direct fetch should count as one access, got %d", entry.Frequency)
	}
}

func TestHotAtomCount(t *testing.T) {
	store := newTestStore(t)
	hot := storeTestAtom(t, store, "hot")
	cold := storeTestAtom(t, store, "coldish")

	for i := 0; i < 5; i++ {
		if err := store.TouchAtom(hot); err != nil {
			t.Fatalf("TouchAtom failed: %v", err)
		}
	}
	if err := store.TouchAtom(cold); err != nil {
		t.Fatalf("TouchAtom failed: %v", err)
	}

	count, err := store.HotAtomCount(2.0)
	if err != nil {
		t.Fatalf("HotAtomCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 hot atom, got %d", count)
	}
}
