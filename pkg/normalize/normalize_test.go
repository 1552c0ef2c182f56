package normalize

import (
	"strings"
	"testing"

	"github.com/autonomous-bits/codepool/pkg/hasher"
	"github.com/autonomous-bits/codepool/pkg/langparse"
)

func mustNormalize(t *testing.T, src string) *Result {
	t.Helper()
	mod, err := langparse.Parse(strings.NewReader(src), "<test>")
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", src, err)
	}
	res, err := Normalize(mod)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	return res
}

const sumList = `def sum_list(items):
    """Sum a list"""
    total = 0
    for item in items:
        total += item
    return total
`

func TestNormalizeAssignsCanonicalNamesInScenarioOrder(t *testing.T) {
	res := mustNormalize(t, sumList)
	want := []string{"sum_list", "items", "total", "item"}
	got := res.NameMapping
	if len(got) != len(want) {
		t.Fatalf("NameMapping has %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Original != w {
			t.Errorf("NameMapping[%d].Original = %q, want %q", i, got[i].Original, w)
		}
	}
	if got[0].Canonical != "_cp_v_0" {
		t.Errorf("function's own canonical name = %q, want _cp_v_0", got[0].Canonical)
	}
	if got[1].Canonical != "_cp_v_1" {
		t.Errorf("first parameter's canonical name = %q, want _cp_v_1", got[1].Canonical)
	}
}

func TestNormalizeSentinelizesDocstring(t *testing.T) {
	res := mustNormalize(t, sumList)
	if !res.HasDocstring {
		t.Fatal("HasDocstring = false, want true")
	}
	if res.Docstring != "Sum a list" {
		t.Errorf("Docstring = %q, want %q", res.Docstring, "Sum a list")
	}
	if strings.Contains(res.NormalizedCode, "Sum a list") {
		t.Error("NormalizedCode leaks the author's docstring text")
	}
	if strings.Contains(res.NormalizedCodeNoDocstring, "canonical function body") {
		t.Error("NormalizedCodeNoDocstring should have no docstring statement at all")
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	a := mustNormalize(t, sumList)
	b := mustNormalize(t, sumList)
	if a.NormalizedCode != b.NormalizedCode {
		t.Errorf("NormalizedCode differs across runs:\n%q\nvs\n%q", a.NormalizedCode, b.NormalizedCode)
	}
	if a.NormalizedCodeNoDocstring != b.NormalizedCodeNoDocstring {
		t.Error("NormalizedCodeNoDocstring differs across runs")
	}
	if hasher.FunctionHash(a.NormalizedCodeNoDocstring) != hasher.FunctionHash(b.NormalizedCodeNoDocstring) {
		t.Error("function hash is not stable across runs")
	}
}

func TestFunctionHashIsDocstringIndependent(t *testing.T) {
	other := `def sum_list(items):
    """Additionne une liste"""
    total = 0
    for item in items:
        total += item
    return total
`
	a := mustNormalize(t, sumList)
	b := mustNormalize(t, other)
	ha := hasher.FunctionHash(a.NormalizedCodeNoDocstring)
	hb := hasher.FunctionHash(b.NormalizedCodeNoDocstring)
	if ha != hb {
		t.Errorf("function hash depends on docstring content: %q vs %q", ha, hb)
	}
}

func TestFunctionHashIsIdentifierIndependent(t *testing.T) {
	translated := `def additionner_liste(elements):
    """Sum a list"""
    somme = 0
    for element in elements:
        somme += element
    return somme
`
	a := mustNormalize(t, sumList)
	b := mustNormalize(t, translated)
	ha := hasher.FunctionHash(a.NormalizedCodeNoDocstring)
	hb := hasher.FunctionHash(b.NormalizedCodeNoDocstring)
	if ha != hb {
		t.Errorf("function hash depends on author identifier choice: %q vs %q", ha, hb)
	}
}

func TestFunctionHashIsImportAliasIndependent(t *testing.T) {
	withAlias := `from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111 as helper

def uses_helper(x):
    """calls a pooled function"""
    return helper(x)
`
	withoutAlias := `from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111

def uses_helper(x):
    """calls a pooled function"""
    return object_1111111111111111111111111111111111111111111111111111111111111111(x)
`
	a := mustNormalize(t, withAlias)
	b := mustNormalize(t, withoutAlias)
	ha := hasher.FunctionHash(a.NormalizedCodeNoDocstring)
	hb := hasher.FunctionHash(b.NormalizedCodeNoDocstring)
	if ha != hb {
		t.Errorf("function hash depends on import alias choice: %q vs %q", ha, hb)
	}
}

func TestNormalizeRewritesPoolImportCallSites(t *testing.T) {
	src := `from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111 as helper

def uses_helper(x):
    return helper(x)
`
	res := mustNormalize(t, src)
	if !strings.Contains(res.NormalizedCode, "from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111\n") {
		t.Errorf("canonical code should import the bare object_<hash> with no alias, got:\n%s", res.NormalizedCode)
	}
	if !strings.Contains(res.NormalizedCode, "object_1111111111111111111111111111111111111111111111111111111111111111._cp_v_0(") {
		t.Errorf("call site was not rewritten to the canonical object_<hash>._cp_v_0(...) form, got:\n%s", res.NormalizedCode)
	}
	if res.AliasMapping["1111111111111111111111111111111111111111111111111111111111111111"] != "helper" {
		t.Errorf("AliasMapping = %+v, want hash mapped to %q", res.AliasMapping, "helper")
	}
}

func TestNormalizeExcludesStandardImportBindings(t *testing.T) {
	src := `import math as m

def circle_area(radius):
    return m.pi * radius * radius
`
	res := mustNormalize(t, src)
	for _, b := range res.NameMapping {
		if b.Original == "m" {
			t.Fatalf("standard import binding %q was renamed to %q, want excluded from renaming", b.Original, b.Canonical)
		}
	}
	if !strings.Contains(res.NormalizedCode, "import math\n") {
		t.Errorf("canonical code should drop the \"as m\" alias, got:\n%s", res.NormalizedCode)
	}
	if strings.Contains(res.NormalizedCode, "import math as m") {
		t.Error("canonical code retained the import alias")
	}
}

func TestNormalizeRejectsZeroOrMultipleDefinitions(t *testing.T) {
	none := "import math\n"
	mod, err := langparse.Parse(strings.NewReader(none), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, err := Normalize(mod); err == nil {
		t.Fatal("Normalize(zero functions) returned nil error")
	} else if _, ok := err.(*ErrMultipleDefinitions); !ok {
		t.Errorf("Normalize(zero functions) returned %T, want *ErrMultipleDefinitions", err)
	}

	two := "def a():\n    pass\n\ndef b():\n    pass\n"
	mod2, err := langparse.Parse(strings.NewReader(two), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, err := Normalize(mod2); err == nil {
		t.Fatal("Normalize(two functions) returned nil error")
	} else if merr, ok := err.(*ErrMultipleDefinitions); !ok {
		t.Errorf("Normalize(two functions) returned %T, want *ErrMultipleDefinitions", err)
	} else if merr.Count != 2 {
		t.Errorf("ErrMultipleDefinitions.Count = %d, want 2", merr.Count)
	}
}

func TestNormalizeMultiLanguageLaw(t *testing.T) {
	english := sumList
	french := `def additionner_liste(elements):
    """Additionne les elements d'une liste"""
    somme = 0
    for element in elements:
        somme += element
    return somme
`
	spanish := `def sumar_lista(elementos):
    """Suma los elementos de una lista"""
    suma = 0
    for elemento in elementos:
        suma += elemento
    return suma
`
	he := hasher.FunctionHash(mustNormalize(t, english).NormalizedCodeNoDocstring)
	hf := hasher.FunctionHash(mustNormalize(t, french).NormalizedCodeNoDocstring)
	hs := hasher.FunctionHash(mustNormalize(t, spanish).NormalizedCodeNoDocstring)
	if he != hf || hf != hs {
		t.Errorf("three logically-identical translations hashed differently: %q, %q, %q", he, hf, hs)
	}
}
