package memory

import (
	"testing"
)

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]string{"project", "auth", "jwt"}, "code_pattern", []string{"jwt", "auth"})
	b := ContentHash([]string{"project", "auth", "jwt"}, "code_pattern", []string{"jwt", "auth"})
	if a != b {
		t.Errorf("Same input produced different hashes: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(a))
	}
}

func TestContentHashTagOrderInsensitive(t *testing.T) {
	a := ContentHash([]string{"p"}, "fact", []string{"alpha", "beta", "gamma"})
	b := ContentHash([]string{"p"}, "fact", []string{"gamma", "alpha", "beta"})
	if a != b {
		t.Error("Tag order changed the hash; tags must be canonicalized")
	}
}

func TestContentHashWingOrderSignificant(t *testing.T) {
	a := ContentHash([]string{"a", "b"}, "fact", nil)
	b := ContentHash([]string{"b", "a"}, "fact", nil)
	if a == b {
		t.Error("Wing path order should be significant")
	}
}

func TestContentHashSeparatorAmbiguity(t *testing.T) {
	// Joining segments naively would make these collide.
	a := ContentHash([]string{"ab", "c"}, "fact", nil)
	b := ContentHash([]string{"a", "bc"}, "fact", nil)
	if a == b {
		t.Error("Different segmentations must not collide")
	}
}

func TestContentHashFieldsDistinct(t *testing.T) {
	base := ContentHash([]string{"p"}, "fact", []string{"x"})
	if ContentHash([]string{"p"}, "rule", []string{"x"}) == base {
		t.Error("Type change should change the hash")
	}
	if ContentHash([]string{"p"}, "fact", []string{"y"}) == base {
		t.Error("Tag change should change the hash")
	}
	if ContentHash([]string{"q"}, "fact", []string{"x"}) == base {
		t.Error("Wing path change should change the hash")
	}
}

func TestContentHashDoesNotMutateTags(t *testing.T) {
	tags := []string{"zeta", "alpha"}
	ContentHash([]string{"p"}, "fact", tags)
	if tags[0] != "zeta" || tags[1] != "alpha" {
		t.Errorf("Caller's tag slice was mutated: %v", tags)
	}
}
