package denormalize

import (
	"strings"
	"testing"

	"github.com/autonomous-bits/codepool/pkg/hasher"
	"github.com/autonomous-bits/codepool/pkg/langparse"
	"github.com/autonomous-bits/codepool/pkg/normalize"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

const sumList = `def sum_list(items):
    """Sum a list"""
    total = 0
    for item in items:
        total += item
    return total
`

func mustNormalize(t *testing.T, src string) *normalize.Result {
	t.Helper()
	mod, err := langparse.Parse(strings.NewReader(src), "<test>")
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", src, err)
	}
	res, err := normalize.Normalize(mod)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	return res
}

func objectAndMapping(res *normalize.Result) (*pool.Object, *pool.Mapping) {
	obj := &pool.Object{
		NormalizedCode: res.NormalizedCode,
		Hash:           hasher.FunctionHash(res.NormalizedCodeNoDocstring),
	}
	m := &pool.Mapping{
		Docstring:    res.Docstring,
		NameMapping:  res.NameMapping,
		AliasMapping: res.AliasMapping,
	}
	return obj, m
}

func TestDenormalizeRestoresOriginalNamesAndDocstring(t *testing.T) {
	res := mustNormalize(t, sumList)
	obj, m := objectAndMapping(res)

	out, err := Denormalize(obj, m)
	if err != nil {
		t.Fatalf("Denormalize returned error: %v", err)
	}
	if !strings.Contains(out, "def sum_list(items):") {
		t.Errorf("denormalized code lost the original function signature, got:\n%s", out)
	}
	if !strings.Contains(out, `'Sum a list'`) {
		t.Errorf("denormalized code did not restore the original docstring, got:\n%s", out)
	}
	if !strings.Contains(out, "total") || !strings.Contains(out, "item") {
		t.Errorf("denormalized code did not restore original identifiers, got:\n%s", out)
	}
}

func TestDenormalizeRoundTripLaw(t *testing.T) {
	// normalize -> denormalize -> re-normalize must hash identically:
	// the denormalizer's output, fed back through the normalizer, is
	// indistinguishable from the original (spec.md §4.5).
	res := mustNormalize(t, sumList)
	obj, m := objectAndMapping(res)

	restored, err := Denormalize(obj, m)
	if err != nil {
		t.Fatalf("Denormalize returned error: %v", err)
	}

	again := mustNormalize(t, restored)
	h1 := hasher.FunctionHash(res.NormalizedCodeNoDocstring)
	h2 := hasher.FunctionHash(again.NormalizedCodeNoDocstring)
	if h1 != h2 {
		t.Errorf("round trip did not preserve function hash: %q vs %q", h1, h2)
	}
	if again.Docstring != res.Docstring {
		t.Errorf("round trip did not preserve docstring: %q vs %q", again.Docstring, res.Docstring)
	}
}

func TestDenormalizeRoundTripLawSingleElementTuple(t *testing.T) {
	// (x,) must keep its trailing comma through normalize/denormalize,
	// or it silently degrades to the scalar x and the round trip fails.
	src := "def one_tuple(x):\n    \"\"\"wrap a value\"\"\"\n    return (x,)\n"
	res := mustNormalize(t, src)
	obj, m := objectAndMapping(res)

	restored, err := Denormalize(obj, m)
	if err != nil {
		t.Fatalf("Denormalize returned error: %v", err)
	}
	if !strings.Contains(restored, "(x,)") {
		t.Errorf("denormalized code dropped the single-element tuple's trailing comma, got:\n%s", restored)
	}

	again := mustNormalize(t, restored)
	h1 := hasher.FunctionHash(res.NormalizedCodeNoDocstring)
	h2 := hasher.FunctionHash(again.NormalizedCodeNoDocstring)
	if h1 != h2 {
		t.Errorf("round trip did not preserve function hash for a single-element tuple: %q vs %q", h1, h2)
	}
}

func TestDenormalizeRestoresPoolImportAlias(t *testing.T) {
	src := `from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111 as helper

def uses_helper(x):
    """calls a pooled function"""
    return helper(x)
`
	res := mustNormalize(t, src)
	obj, m := objectAndMapping(res)

	out, err := Denormalize(obj, m)
	if err != nil {
		t.Fatalf("Denormalize returned error: %v", err)
	}
	if !strings.Contains(out, "as helper") {
		t.Errorf("denormalized code did not restore the pool-import alias, got:\n%s", out)
	}
	if !strings.Contains(out, "helper(x)") {
		t.Errorf("denormalized call site was not restored to the alias form, got:\n%s", out)
	}
	if strings.Contains(out, "_cp_v_0") {
		t.Errorf("denormalized code leaked a canonical identifier, got:\n%s", out)
	}
}

func TestDenormalizeDropsDocstringWhenAuthorHadNone(t *testing.T) {
	src := "def f(x):\n    return x\n"
	res := mustNormalize(t, src)
	obj, m := objectAndMapping(res)

	out, err := Denormalize(obj, m)
	if err != nil {
		t.Fatalf("Denormalize returned error: %v", err)
	}
	if strings.Contains(out, `'`) {
		t.Errorf("denormalized code introduced a docstring the author never wrote, got:\n%s", out)
	}
}

func TestDenormalizeRejectsIncompleteMapping(t *testing.T) {
	res := mustNormalize(t, sumList)
	obj, m := objectAndMapping(res)
	m.NameMapping = m.NameMapping[:1] // drop a binding the code still references

	if _, err := Denormalize(obj, m); err == nil {
		t.Fatal("Denormalize with an incomplete mapping returned nil error")
	} else if _, ok := err.(*ErrMappingIncomplete); !ok {
		t.Errorf("Denormalize returned %T, want *ErrMappingIncomplete", err)
	}
}

func TestDenormalizeRejectsMalformedCode(t *testing.T) {
	obj := &pool.Object{NormalizedCode: "def a():\n    pass\n\ndef b():\n    pass\n"}
	m := &pool.Mapping{}
	if _, err := Denormalize(obj, m); err == nil {
		t.Fatal("Denormalize with two function definitions returned nil error")
	} else if _, ok := err.(*ErrMalformedCode); !ok {
		t.Errorf("Denormalize returned %T, want *ErrMalformedCode", err)
	}
}
