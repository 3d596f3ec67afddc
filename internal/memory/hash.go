package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// hashEncodingVersion is baked into every hash input. Changing the canonical
// encoding requires bumping this so old and new databases never silently
// disagree about which payloads are duplicates.
const hashEncodingVersion = "v1"

// fieldSep separates encoded fields and path segments. A unit separator
// cannot appear in practice, so ["ab","c"] and ["a","bc"] hash differently.
const fieldSep = "\x1f"

// ContentHash computes the canonical SHA256 hash of an atom payload.
// Wing path order is significant (it is an ordered classification); tags are
// a set, so they are sorted before encoding.
func ContentHash(wingPath []string, atomType string, tags []string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(hashEncodingVersion)
	b.WriteString("\n")
	b.WriteString(strings.Join(wingPath, fieldSep))
	b.WriteString("\n")
	b.WriteString(atomType)
	b.WriteString("\n")
	b.WriteString(strings.Join(sorted, fieldSep))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
