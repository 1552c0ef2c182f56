package imports

import (
	"strings"
	"testing"

	"github.com/autonomous-bits/codepool/pkg/ast"
	"github.com/autonomous-bits/codepool/pkg/langparse"
)

func parseModule(t *testing.T, src string) (*ast.Module, *ast.FunctionDef) {
	t.Helper()
	mod, err := langparse.Parse(strings.NewReader(src), "<test>")
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", src, err)
	}
	fns := mod.Functions()
	if len(fns) != 1 {
		t.Fatalf("expected exactly one function, got %d", len(fns))
	}
	return mod, fns[0]
}

func TestClassifyPlainImport(t *testing.T) {
	mod, fn := parseModule(t, "import math as m\n\ndef f(x):\n    return m.pi * x\n")
	classified, err := Classify(mod, fn.Body)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if len(classified) != 1 {
		t.Fatalf("Classify() = %d entries, want 1", len(classified))
	}
	c := classified[0]
	if c.Kind != Plain {
		t.Errorf("Kind = %v, want Plain", c.Kind)
	}
	if c.BoundName != "m" {
		t.Errorf("BoundName = %q, want %q", c.BoundName, "m")
	}
	if c.Canonical() != "import math" {
		t.Errorf("Canonical() = %q, want %q (alias stripped)", c.Canonical(), "import math")
	}
}

func TestClassifyPoolImport(t *testing.T) {
	src := "from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111 as helper\n\ndef f(x):\n    return helper(x)\n"
	mod, fn := parseModule(t, src)
	classified, err := Classify(mod, fn.Body)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if len(classified) != 1 {
		t.Fatalf("Classify() = %d entries, want 1", len(classified))
	}
	c := classified[0]
	if c.Kind != PoolImport {
		t.Errorf("Kind = %v, want PoolImport", c.Kind)
	}
	if c.Hash != "1111111111111111111111111111111111111111111111111111111111111111" {
		t.Errorf("Hash = %q, unexpected", c.Hash)
	}
	if c.BoundName != "helper" {
		t.Errorf("BoundName = %q, want %q", c.BoundName, "helper")
	}
}

func TestClassifyRejectsMalformedPoolImportName(t *testing.T) {
	src := "from pool.objects import not_an_object as helper\n\ndef f(x):\n    return helper(x)\n"
	mod, fn := parseModule(t, src)
	if _, err := Classify(mod, fn.Body); err == nil {
		t.Fatal("Classify accepted a pool import whose name has no object_ prefix")
	}
}

func TestCanonicalPreambleSortsAndMergesImports(t *testing.T) {
	mod, fn := parseModule(t, "import sys\nimport os\n\ndef f():\n    return os.getcwd()\n")
	classified, err := Classify(mod, fn.Body)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	preamble := CanonicalPreamble(classified)
	if len(preamble) != 1 {
		t.Fatalf("CanonicalPreamble() = %d statements, want 1 (merged)", len(preamble))
	}
	stmt, ok := preamble[0].(*ast.ImportStmt)
	if !ok {
		t.Fatalf("preamble[0] is %T, want *ast.ImportStmt", preamble[0])
	}
	if len(stmt.Names) != 2 || stmt.Names[0].Name != "os" || stmt.Names[1].Name != "sys" {
		t.Errorf("merged import names = %+v, want sorted [os sys]", stmt.Names)
	}
}

func TestRewriteCallSitesUsesCanonicalForm(t *testing.T) {
	src := "from pool.objects import object_1111111111111111111111111111111111111111111111111111111111111111 as helper\n\ndef f(x):\n    return helper(x)\n"
	mod, fn := parseModule(t, src)
	classified, err := Classify(mod, fn.Body)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	body := StripFromBody(fn.Body)
	rewritten := RewriteCallSites(body, classified)

	ret, ok := rewritten[0].(*ast.ReturnStmt)
	if !ok {
		t.Fatalf("rewritten[0] is %T, want *ast.ReturnStmt", rewritten[0])
	}
	call, ok := ret.Value.(*ast.Call)
	if !ok {
		t.Fatalf("return value is %T, want *ast.Call", ret.Value)
	}
	attr, ok := call.Func.(*ast.Attribute)
	if !ok {
		t.Fatalf("call.Func is %T, want *ast.Attribute", call.Func)
	}
	if attr.Attr != "_cp_v_0" {
		t.Errorf("call.Func.Attr = %q, want _cp_v_0", attr.Attr)
	}
	name, ok := attr.Value.(*ast.Name)
	if !ok || name.Id != "object_1111111111111111111111111111111111111111111111111111111111111111" {
		t.Errorf("call.Func.Value = %+v, want object_<hash> name", attr.Value)
	}
}

func TestStripFromBodyRemovesOnlyImports(t *testing.T) {
	mod, fn := parseModule(t, "import math\n\ndef f(x):\n    import os\n    return x\n")
	_ = mod
	stripped := StripFromBody(fn.Body)
	for _, s := range stripped {
		switch s.(type) {
		case *ast.ImportStmt, *ast.ImportFromStmt:
			t.Fatalf("StripFromBody left an import statement: %#v", s)
		}
	}
	if len(stripped) != 1 {
		t.Fatalf("StripFromBody() = %d statements, want 1 (the return)", len(stripped))
	}
}
