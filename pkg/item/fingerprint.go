package item

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent produces the canonical form of content used for
// fingerprinting: lowercased with whitespace runs collapsed to single
// spaces. Two observations that differ only in casing or spacing share a
// fingerprint and are exact-duplicate merge candidates.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// ComputeFingerprint returns the hex-encoded SHA-256 digest of the
// normalized content. The fingerprint is deterministic: identical content
// always maps to the same key, which is what lets the consolidation lock
// scope mutual exclusion per duplicate group.
func ComputeFingerprint(content string) string {
	h := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(h[:])
}
