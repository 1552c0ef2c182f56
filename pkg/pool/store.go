// Package pool implements the content-addressed, deduplicating,
// multi-variant filesystem storage engine: schema v1 objects and
// mappings, sharded by hash prefix, written atomically so a crash never
// leaves a half-written file visible to another reader (spec.md §4.4,
// §5).
package pool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/renameio/v2"

	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/internal/shard"
	"github.com/autonomous-bits/codepool/pkg/hasher"
)

var languagePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// ValidateLanguage reports whether lang is a well-formed language code:
// 1-256 characters drawn from letters, digits, "-", "_" (spec.md §3).
func ValidateLanguage(lang string) error {
	if !languagePattern.MatchString(lang) {
		return &ErrInvalidLanguageCode{Language: lang}
	}
	return nil
}

// ValidateHash reports whether hash is a 64-character lowercase hex
// SHA-256 digest.
func ValidateHash(hash string) error {
	if _, _, err := shard.Split(hash); err != nil {
		return &ErrInvalidHashFormat{Hash: hash}
	}
	return nil
}

// Store is a filesystem-backed pool rooted at Root. It is safe for
// concurrent use across processes: writes go through write-temp-then-
// rename, and reads never observe a partially written file (spec.md
// §5).
type Store struct {
	Root string
}

// NewStore creates a Store rooted at root. Its objects/ directory is
// created on first write if it does not already exist.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) objectsRoot() string { return filepath.Join(s.Root, "objects") }

// functionDir returns the v1 function directory for hash:
// objects/<h0h1>/<rest>/ (spec.md §4.4).
func (s *Store) functionDir(hash string) (string, error) {
	p, err := shard.Path(s.objectsRoot(), hash)
	if err != nil {
		return "", &ErrInvalidHashFormat{Hash: hash}
	}
	return p, nil
}

func (s *Store) languageDir(hash, lang string) (string, error) {
	dir, err := s.functionDir(hash)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, lang), nil
}

// mappingDir returns the mapping directory for (hash, lang,
// mappingHash): <languageDir>/<m0m1>/<mrest>/.
func (s *Store) mappingDir(hash, lang, mappingHash string) (string, error) {
	langDir, err := s.languageDir(hash, lang)
	if err != nil {
		return "", err
	}
	p, err := shard.Path(langDir, mappingHash)
	if err != nil {
		return "", &ErrInvalidHashFormat{Hash: mappingHash}
	}
	return p, nil
}

// SaveFunction writes obj's object.json if the function directory does
// not yet exist (spec.md §4.4 write path step 1). A function directory
// that already exists is left untouched: an Object is immutable once
// created (spec.md §3 Lifecycle) — re-adding the same function never
// overwrites its metadata.
func (s *Store) SaveFunction(obj Object) error {
	if err := ValidateHash(obj.Hash); err != nil {
		return err
	}
	obj.Metadata.Tags = dedupe(obj.Metadata.Tags)
	obj.Metadata.Dependencies = dedupe(obj.Metadata.Dependencies)
	if obj.SchemaVersion == 0 {
		obj.SchemaVersion = 1
	}
	if obj.HashAlgorithm == "" {
		obj.HashAlgorithm = config.SHA256
	}
	if obj.Metadata.Created.IsZero() {
		obj.Metadata.Created = time.Now().UTC()
	}

	dir, err := s.functionDir(obj.Hash)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(dir); statErr == nil {
		return nil
	} else if !os.IsNotExist(statErr) {
		return &ErrIOFailure{Op: "stat", Err: statErr}
	}

	return writeJSONAtomic(filepath.Join(dir, "object.json"), obj)
}

// FunctionLoad reads the stored object for hash and verifies its
// directory-path consistency: object.json's own hash field must equal
// hash (spec.md §4.4 Integrity).
func (s *Store) FunctionLoad(hash string) (*Object, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	dir, err := s.functionDir(hash)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "object.json")
	raw, err := os.ReadFile(path) //nolint:gosec // path built from validated hash
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrFunctionNotFound{Hash: hash}
		}
		return nil, &ErrIOFailure{Op: "read", Err: err}
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &ErrCorruption{Path: path, Reason: err.Error()}
	}
	if obj.Hash != hash {
		return nil, &ErrCorruption{Path: path, Reason: "stored hash does not match directory"}
	}
	return &obj, nil
}

// AllHashes enumerates every v1 function hash stored under the pool,
// sorted. Used by the CLI's `validate` (no-argument form) to sweep the
// whole pool.
func (s *Store) AllHashes() ([]string, error) {
	shards, err := os.ReadDir(s.objectsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ErrIOFailure{Op: "readdir", Err: err}
	}
	var out []string
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		rests, err := os.ReadDir(filepath.Join(s.objectsRoot(), sh.Name()))
		if err != nil {
			return nil, &ErrIOFailure{Op: "readdir", Err: err}
		}
		for _, r := range rests {
			if r.IsDir() {
				out = append(out, sh.Name()+r.Name())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Languages enumerates every language subdirectory stored for hash,
// sorted (spec.md §4.4 read path).
func (s *Store) Languages(hash string) ([]string, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	dir, err := s.functionDir(hash)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrFunctionNotFound{Hash: hash}
		}
		return nil, &ErrIOFailure{Op: "readdir", Err: err}
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ValidateLanguage(e.Name()) != nil {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// SaveMapping computes m's mapping hash and writes it under (hash,
// lang) unless a mapping with that hash is already stored there
// (spec.md §4.4 write path steps 2-3; invariant 6: writing the same
// mapping twice creates exactly one mapping.json). Returns the mapping
// hash.
func (s *Store) SaveMapping(hash, lang string, m Mapping) (string, error) {
	if err := ValidateHash(hash); err != nil {
		return "", err
	}
	if err := ValidateLanguage(lang); err != nil {
		return "", err
	}
	mappingHash, err := hasher.MappingHash(m.HashFields())
	if err != nil {
		return "", err
	}
	dir, err := s.mappingDir(hash, lang, mappingHash)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(dir); statErr == nil {
		return mappingHash, nil
	} else if !os.IsNotExist(statErr) {
		return "", &ErrIOFailure{Op: "stat", Err: statErr}
	}
	if err := writeJSONAtomic(filepath.Join(dir, "mapping.json"), m); err != nil {
		return "", err
	}
	return mappingHash, nil
}

// MappingLoad reads one specific mapping by hash and verifies it
// rehashes to mappingHash (spec.md §4.4 Integrity, extended to
// mappings per the validator in spec.md §4.6).
func (s *Store) MappingLoad(hash, lang, mappingHash string) (*Mapping, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	if err := ValidateLanguage(lang); err != nil {
		return nil, err
	}
	if err := ValidateHash(mappingHash); err != nil {
		return nil, err
	}
	dir, err := s.mappingDir(hash, lang, mappingHash)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "mapping.json")
	raw, err := os.ReadFile(path) //nolint:gosec // path built from validated hashes
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrMappingNotFound{Hash: hash, MappingHash: mappingHash}
		}
		return nil, &ErrIOFailure{Op: "read", Err: err}
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ErrCorruption{Path: path, Reason: err.Error()}
	}
	gotHash, err := hasher.MappingHash(m.HashFields())
	if err != nil {
		return nil, err
	}
	if gotHash != mappingHash {
		return nil, &ErrCorruption{Path: path, Reason: "stored mapping does not rehash to its own path"}
	}
	return &m, nil
}

// Mappings lists every mapping hash stored for (hash, lang), sorted.
func (s *Store) Mappings(hash, lang string) ([]string, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	if err := ValidateLanguage(lang); err != nil {
		return nil, err
	}
	langDir, err := s.languageDir(hash, lang)
	if err != nil {
		return nil, err
	}
	shards, err := os.ReadDir(langDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrLanguageNotFound{Hash: hash, Language: lang}
		}
		return nil, &ErrIOFailure{Op: "readdir", Err: err}
	}
	var out []string
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		rests, err := os.ReadDir(filepath.Join(langDir, sh.Name()))
		if err != nil {
			return nil, &ErrIOFailure{Op: "readdir", Err: err}
		}
		for _, r := range rests {
			if r.IsDir() {
				out = append(out, sh.Name()+r.Name())
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// LatestMapping returns the most recently written mapping for (hash,
// lang), tie-broken by the lexicographically larger mapping hash when
// two mappings share a modification time (spec.md §4.4).
func (s *Store) LatestMapping(hash, lang string) (*Mapping, string, error) {
	hashes, err := s.Mappings(hash, lang)
	if err != nil {
		return nil, "", err
	}
	if len(hashes) == 0 {
		return nil, "", &ErrMappingNotFound{Hash: hash}
	}
	var bestHash string
	var bestMod time.Time
	for _, mh := range hashes {
		dir, err := s.mappingDir(hash, lang, mh)
		if err != nil {
			return nil, "", err
		}
		info, err := os.Stat(filepath.Join(dir, "mapping.json"))
		if err != nil {
			return nil, "", &ErrIOFailure{Op: "stat", Err: err}
		}
		mod := info.ModTime()
		switch {
		case bestHash == "":
			bestHash, bestMod = mh, mod
		case mod.After(bestMod):
			bestHash, bestMod = mh, mod
		case mod.Equal(bestMod) && mh > bestHash:
			bestHash, bestMod = mh, mod
		}
	}
	m, err := s.MappingLoad(hash, lang, bestHash)
	if err != nil {
		return nil, "", err
	}
	return m, bestHash, nil
}

// DetectVersion reports which schema version is stored for hash under
// root: "v1" if objects/<h0h1>/<rest>/ exists, "v0" if
// objects/<h0h1>/<rest>.json exists, *ErrFunctionNotFound otherwise
// (spec.md §4.4 Schema detection).
func DetectVersion(root, hash string) (string, error) {
	if err := ValidateHash(hash); err != nil {
		return "", err
	}
	v1Dir, err := shard.Path(filepath.Join(root, "objects"), hash)
	if err != nil {
		return "", &ErrInvalidHashFormat{Hash: hash}
	}
	if info, statErr := os.Stat(v1Dir); statErr == nil && info.IsDir() {
		return config.SchemaVersionV1, nil
	}
	if _, statErr := os.Stat(v1Dir + ".json"); statErr == nil {
		return config.SchemaVersionV0, nil
	}
	return "", &ErrFunctionNotFound{Hash: hash}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ErrIOFailure{Op: "mkdir", Err: err}
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &ErrIOFailure{Op: "marshal", Err: err}
	}
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return &ErrIOFailure{Op: "create temp file", Err: err}
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := t.Write(raw); err != nil {
		return &ErrIOFailure{Op: "write", Err: err}
	}
	if err := t.Chmod(0o644); err != nil {
		return &ErrIOFailure{Op: "chmod", Err: err}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return &ErrIOFailure{Op: "atomic replace", Err: err}
	}
	return nil
}
