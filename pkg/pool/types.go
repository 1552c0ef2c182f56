package pool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autonomous-bits/codepool/internal/config"
)

// ObjectMetadata carries the author-supplied annotations set once at
// object creation and treated as immutable thereafter: re-adding the
// same function never overwrites it (spec.md §3 Lifecycle). Tags and
// Dependencies are ordered sets — duplicates are removed on write,
// insertion order of the remainder is preserved.
type ObjectMetadata struct {
	Created      time.Time `json:"created"`
	Author       string    `json:"author"`
	Tags         []string  `json:"tags,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
}

// dedupe removes duplicate entries from a string slice, preserving the
// order of first occurrence.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Object is the language-independent NormalizedFunction record
// (spec.md §3), stored exactly once per function hash at
// objects/<h0h1>/<rest>/object.json (spec.md §4.4). It is never mutated
// after creation.
type Object struct {
	SchemaVersion  int                  `json:"schema_version"`
	Hash           string               `json:"hash"`
	HashAlgorithm  config.HashAlgorithm `json:"hash_algorithm"`
	NormalizedCode string               `json:"normalized_code"`
	Metadata       ObjectMetadata       `json:"metadata"`
}

// NameBinding is one canonical-id -> original-id pair.
type NameBinding struct {
	Canonical string
	Original  string
}

// NameMapping is the ordered canonical-id -> original-id table spec.md
// §3 describes ("insertion-order = canonical-id order"). It marshals as
// a JSON object with keys in slice order and unmarshals preserving
// whatever key order the source bytes held, so a mapping.json round-
// trips byte-for-byte through Go structs. mapping_hash never depends on
// this order: jcs.Transform sorts object keys regardless (spec.md §3
// invariant 2), so this type exists purely so mapping.json stays
// readable in canonical-id order rather than whatever order Go's
// built-in map would pick.
type NameMapping []NameBinding

// Get returns the original identifier bound to canon, if any.
func (nm NameMapping) Get(canon string) (string, bool) {
	for _, b := range nm {
		if b.Canonical == canon {
			return b.Original, true
		}
	}
	return "", false
}

// Canonicals returns every canonical identifier in nm, in order.
func (nm NameMapping) Canonicals() []string {
	out := make([]string, len(nm))
	for i, b := range nm {
		out[i] = b.Canonical
	}
	return out
}

func (nm NameMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range nm {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(b.Canonical)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(b.Original)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (nm *NameMapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("name_mapping: expected JSON object")
	}
	var out NameMapping
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("name_mapping: expected string key")
		}
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		out = append(out, NameBinding{Canonical: key, Original: val})
	}
	*nm = out
	return nil
}

// Mapping is one human-language variant of an Object (spec.md §3): the
// author's docstring, the canonical-id -> original-id bijection, the
// pool-import alias bindings, and a free-form variant label.
// mapping_hash = SHA256(canonical_json(mapping)) (invariant 2) is
// computed over exactly these four fields via HashFields,
// nothing else — a Mapping carries no identity of its own beyond its
// content.
type Mapping struct {
	Docstring    string            `json:"docstring"`
	NameMapping  NameMapping       `json:"name_mapping"`
	AliasMapping map[string]string `json:"alias_mapping,omitempty"`
	Comment      string            `json:"comment,omitempty"`
}

// HashFields returns the exact value hashed to produce this mapping's
// mapping_hash: a plain struct with the four spec.md §3 fields and no
// extras, so adding bookkeeping fields to Mapping in the future can
// never silently change mapping_hash.
func (m Mapping) HashFields() any {
	return struct {
		Docstring    string            `json:"docstring"`
		NameMapping  NameMapping       `json:"name_mapping"`
		AliasMapping map[string]string `json:"alias_mapping"`
		Comment      string            `json:"comment"`
	}{
		Docstring:    m.Docstring,
		NameMapping:  m.NameMapping,
		AliasMapping: nonNilStringMap(m.AliasMapping),
		Comment:      m.Comment,
	}
}

func nonNilStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
