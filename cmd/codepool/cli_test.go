package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI executes rootCmd with args against poolRoot as POOL_ROOT.
// t.Setenv restores the environment when the test ends; flag values
// parsed by an earlier call stay set on the shared rootCmd.
func runCLI(t *testing.T, poolRoot string, args ...string) error {
	t.Helper()
	t.Setenv("POOL_ROOT", poolRoot)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	return path
}

const sumListSource = `def sum_list(items):
    """Sum a list"""
    total = 0
    for item in items:
        total += item
    return total
`

func TestAddWritesObjectToPool(t *testing.T) {
	src := writeSource(t, t.TempDir(), "sum_list.py", sumListSource)
	poolRoot := t.TempDir()

	if err := runCLI(t, poolRoot, "add", src+"@english"); err != nil {
		t.Fatalf("add returned error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(poolRoot, "objects"))
	if err != nil {
		t.Fatalf("expected objects/ to exist after add, ReadDir returned error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("add did not write any shard directories under objects/")
	}
}

func TestAddRejectsMultipleFunctionDefinitions(t *testing.T) {
	src := writeSource(t, t.TempDir(), "two_defs.py", "def a():\n    pass\n\ndef b():\n    pass\n")
	poolRoot := t.TempDir()

	err := runCLI(t, poolRoot, "add", src+"@english")
	if err == nil {
		t.Fatal("add on a file with two function definitions returned nil error")
	}

	if _, statErr := os.Stat(filepath.Join(poolRoot, "objects")); !os.IsNotExist(statErr) {
		t.Error("add wrote to objects/ despite rejecting the input")
	}
}

func TestAddRejectsMissingFile(t *testing.T) {
	poolRoot := t.TempDir()
	err := runCLI(t, poolRoot, "add", filepath.Join(t.TempDir(), "missing.py")+"@english")
	if err == nil {
		t.Fatal("add on a nonexistent file returned nil error")
	}
}

func TestGetRejectsMalformedHash(t *testing.T) {
	poolRoot := t.TempDir()
	err := runCLI(t, poolRoot, "get", "not-a-hash@english")
	if err == nil {
		t.Fatal("get with a malformed hash returned nil error")
	}
}

func TestValidateSweepReportsNoFailuresOnEmptyPool(t *testing.T) {
	poolRoot := t.TempDir()
	if err := runCLI(t, poolRoot, "validate"); err != nil {
		t.Errorf("validate on an empty pool returned error: %v", err)
	}
}

func TestTranslateDerivesNewLanguageFromSource(t *testing.T) {
	src := writeSource(t, t.TempDir(), "sum_list.py", sumListSource)
	poolRoot := t.TempDir()

	if err := runCLI(t, poolRoot, "add", src+"@english"); err != nil {
		t.Fatalf("add returned error: %v", err)
	}

	var hash string
	shards, err := os.ReadDir(filepath.Join(poolRoot, "objects"))
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	for _, sh := range shards {
		rests, err := os.ReadDir(filepath.Join(poolRoot, "objects", sh.Name()))
		if err != nil {
			t.Fatalf("ReadDir returned error: %v", err)
		}
		for _, r := range rests {
			hash = sh.Name() + r.Name()
		}
	}
	if hash == "" {
		t.Fatal("no function directory found after add")
	}

	if err := runCLI(t, poolRoot, "translate", hash+"@english", "french",
		"--docstring", "Additionne une liste",
		"--name", "_cp_v_0=additionner_liste",
	); err != nil {
		t.Fatalf("translate returned error: %v", err)
	}

	if _, err := os.ReadDir(filepath.Join(poolRoot, "objects", hash[:2], hash[2:], "french")); err != nil {
		t.Fatalf("translate did not create a french mapping directory: %v", err)
	}
}

func TestAddSameFunctionTwiceDeduplicates(t *testing.T) {
	dir := t.TempDir()
	srcEnglish := writeSource(t, dir, "sum_list_en.py", sumListSource)
	srcFrench := writeSource(t, dir, "sum_list_fr.py", strings.ReplaceAll(strings.ReplaceAll(
		sumListSource, "sum_list", "additionner_liste"), "Sum a list", "Additionne une liste"))
	poolRoot := t.TempDir()

	if err := runCLI(t, poolRoot, "add", srcEnglish+"@english"); err != nil {
		t.Fatalf("add(english) returned error: %v", err)
	}
	if err := runCLI(t, poolRoot, "add", srcFrench+"@french"); err != nil {
		t.Fatalf("add(french) returned error: %v", err)
	}

	shards, err := os.ReadDir(filepath.Join(poolRoot, "objects"))
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	total := 0
	for _, sh := range shards {
		rests, err := os.ReadDir(filepath.Join(poolRoot, "objects", sh.Name()))
		if err != nil {
			t.Fatalf("ReadDir returned error: %v", err)
		}
		total += len(rests)
	}
	if total != 1 {
		t.Errorf("two logically-identical functions in different languages created %d function directories, want 1", total)
	}
}
