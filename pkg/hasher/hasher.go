// Package hasher computes the two content identifiers the pool is keyed
// by: the function hash (over normalized source) and the mapping hash
// (over a mapping's canonical JSON representation).
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// FunctionHash returns the lowercase hex SHA-256 digest of normalized
// source code's UTF-8 bytes. Two functions that normalize to the same
// code always produce the same hash, regardless of original identifier
// names, import aliases, or docstring text.
func FunctionHash(normalizedCode string) string {
	sum := sha256.Sum256([]byte(normalizedCode))
	return hex.EncodeToString(sum[:])
}

// MappingHash returns the lowercase hex SHA-256 digest of v's RFC 8785
// canonical JSON representation. v is first marshaled with the standard
// library (so struct field tags and nested types behave normally), then
// passed through jcs.Transform to obtain the sorted-key, non-HTML-escaped
// canonical form spec.md's "canonical_json" requirement names.
func MappingHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("mapping hash: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("mapping hash: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
