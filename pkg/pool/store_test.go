package pool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testHash = "1111111111111111111111111111111111111111111111111111111111111111"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestSaveAndLoadFunction(t *testing.T) {
	s := newTestStore(t)
	obj := Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}
	if err := s.SaveFunction(obj); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	got, err := s.FunctionLoad(testHash)
	if err != nil {
		t.Fatalf("FunctionLoad returned error: %v", err)
	}
	if got.NormalizedCode != obj.NormalizedCode {
		t.Errorf("FunctionLoad().NormalizedCode = %q, want %q", got.NormalizedCode, obj.NormalizedCode)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("FunctionLoad().SchemaVersion = %d, want 1 (defaulted on write)", got.SchemaVersion)
	}
}

func TestSaveFunctionIsImmutableOnceWritten(t *testing.T) {
	s := newTestStore(t)
	first := Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n", Metadata: ObjectMetadata{Author: "alice"}}
	if err := s.SaveFunction(first); err != nil {
		t.Fatalf("SaveFunction(first) returned error: %v", err)
	}
	second := Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n", Metadata: ObjectMetadata{Author: "bob"}}
	if err := s.SaveFunction(second); err != nil {
		t.Fatalf("SaveFunction(second) returned error: %v", err)
	}
	got, err := s.FunctionLoad(testHash)
	if err != nil {
		t.Fatalf("FunctionLoad returned error: %v", err)
	}
	if got.Metadata.Author != "alice" {
		t.Errorf("re-adding the same function overwrote metadata: Author = %q, want %q", got.Metadata.Author, "alice")
	}
}

func TestFunctionLoadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.FunctionLoad(testHash); err == nil {
		t.Fatal("FunctionLoad on empty store returned nil error")
	} else if _, ok := err.(*ErrFunctionNotFound); !ok {
		t.Errorf("FunctionLoad returned %T, want *ErrFunctionNotFound", err)
	}
}

func TestSaveMappingDedupesIdenticalContent(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveFunction(Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	m := Mapping{Docstring: "does nothing", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "noop"}}}

	h1, err := s.SaveMapping(testHash, "python", m)
	if err != nil {
		t.Fatalf("SaveMapping (first) returned error: %v", err)
	}
	h2, err := s.SaveMapping(testHash, "python", m)
	if err != nil {
		t.Fatalf("SaveMapping (second, identical) returned error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("SaveMapping hash changed across identical writes: %q vs %q", h1, h2)
	}
	hashes, err := s.Mappings(testHash, "python")
	if err != nil {
		t.Fatalf("Mappings returned error: %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("writing the same mapping twice created %d mapping.json files, want exactly 1", len(hashes))
	}
}

func TestSaveMappingCreatesDistinctEntriesForDistinctLanguages(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveFunction(Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	english := Mapping{Docstring: "does nothing", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "noop"}}}
	french := Mapping{Docstring: "ne fait rien", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "ne_rien_faire"}}}

	if _, err := s.SaveMapping(testHash, "english", english); err != nil {
		t.Fatalf("SaveMapping(english) returned error: %v", err)
	}
	if _, err := s.SaveMapping(testHash, "french", french); err != nil {
		t.Fatalf("SaveMapping(french) returned error: %v", err)
	}

	langs, err := s.Languages(testHash)
	if err != nil {
		t.Fatalf("Languages returned error: %v", err)
	}
	if len(langs) != 2 {
		t.Fatalf("Languages() = %v, want 2 entries", langs)
	}
}

func TestMappingLoadDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveFunction(Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	m := Mapping{Docstring: "does nothing", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "noop"}}}
	mh, err := s.SaveMapping(testHash, "python", m)
	if err != nil {
		t.Fatalf("SaveMapping returned error: %v", err)
	}
	dir, err := s.mappingDir(testHash, "python", mh)
	if err != nil {
		t.Fatalf("mappingDir returned error: %v", err)
	}
	path := filepath.Join(dir, "mapping.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	tampered := strings.Replace(string(raw), "does nothing", "does something", 1) // content changes, mapping_hash no longer matches
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	if _, err := s.MappingLoad(testHash, "python", mh); err == nil {
		t.Fatal("MappingLoad on tampered mapping returned nil error")
	} else if _, ok := err.(*ErrCorruption); !ok {
		t.Errorf("MappingLoad returned %T, want *ErrCorruption", err)
	}
}

func TestLatestMappingTieBreaksOnLargerHash(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveFunction(Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	a := Mapping{Docstring: "a", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "a"}}}
	b := Mapping{Docstring: "b", NameMapping: NameMapping{{Canonical: "_cp_v_0", Original: "b"}}}

	ha, err := s.SaveMapping(testHash, "python", a)
	if err != nil {
		t.Fatalf("SaveMapping(a) returned error: %v", err)
	}
	hb, err := s.SaveMapping(testHash, "python", b)
	if err != nil {
		t.Fatalf("SaveMapping(b) returned error: %v", err)
	}

	// Force an identical modification time on both mapping.json files so
	// LatestMapping must fall back to the lexicographic tie-break rule.
	dirA, err := s.mappingDir(testHash, "python", ha)
	if err != nil {
		t.Fatalf("mappingDir(a) returned error: %v", err)
	}
	dirB, err := s.mappingDir(testHash, "python", hb)
	if err != nil {
		t.Fatalf("mappingDir(b) returned error: %v", err)
	}
	same := time.Now()
	if err := os.Chtimes(filepath.Join(dirA, "mapping.json"), same, same); err != nil {
		t.Fatalf("Chtimes(a) returned error: %v", err)
	}
	if err := os.Chtimes(filepath.Join(dirB, "mapping.json"), same, same); err != nil {
		t.Fatalf("Chtimes(b) returned error: %v", err)
	}

	want := ha
	if hb > ha {
		want = hb
	}
	_, gotHash, err := s.LatestMapping(testHash, "python")
	if err != nil {
		t.Fatalf("LatestMapping returned error: %v", err)
	}
	if gotHash != want {
		t.Errorf("LatestMapping tie-break = %q, want the lexicographically larger hash %q", gotHash, want)
	}
}

func TestDetectVersionDistinguishesV0AndV1(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.SaveFunction(Object{Hash: testHash, NormalizedCode: "def _cp_v_0():\n    pass\n"}); err != nil {
		t.Fatalf("SaveFunction returned error: %v", err)
	}
	if v, err := DetectVersion(root, testHash); err != nil {
		t.Fatalf("DetectVersion returned error: %v", err)
	} else if v != "v1" {
		t.Errorf("DetectVersion() = %q, want v1", v)
	}

	v0Hash := "2222222222222222222222222222222222222222222222222222222222222222"
	v0Dir, err := s.functionDir(v0Hash)
	if err != nil {
		t.Fatalf("functionDir returned error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(v0Dir), 0o755); err != nil {
		t.Fatalf("MkdirAll returned error: %v", err)
	}
	if err := os.WriteFile(v0Dir+".json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	if v, err := DetectVersion(root, v0Hash); err != nil {
		t.Fatalf("DetectVersion returned error: %v", err)
	} else if v != "v0" {
		t.Errorf("DetectVersion() = %q, want v0", v)
	}
}

func TestValidateHashRejectsMixedCase(t *testing.T) {
	upper := testHash[:len(testHash)-1] + "A"
	if err := ValidateHash(upper); err == nil {
		t.Fatal("ValidateHash(mixed-case) returned nil error")
	}
}

func TestValidateLanguageRejectsEmpty(t *testing.T) {
	if err := ValidateLanguage(""); err == nil {
		t.Fatal("ValidateLanguage(\"\") returned nil error")
	}
}
