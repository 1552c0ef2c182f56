package langparse

import (
	"strings"
	"testing"

	"github.com/autonomous-bits/codepool/pkg/ast"
)

func TestParseSimpleFunction(t *testing.T) {
	mod, err := Parse(strings.NewReader("def f(x):\n    return x\n"), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	fns := mod.Functions()
	if len(fns) != 1 {
		t.Fatalf("Functions() = %d, want 1", len(fns))
	}
	if fns[0].Name != "f" {
		t.Errorf("function name = %q, want %q", fns[0].Name, "f")
	}
}

func TestParseCollectsImportsSeparateFromFunctions(t *testing.T) {
	mod, err := Parse(strings.NewReader("import os\nfrom sys import argv\n\ndef f():\n    pass\n"), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(mod.Imports()) != 2 {
		t.Fatalf("Imports() = %d, want 2", len(mod.Imports()))
	}
	if len(mod.Functions()) != 1 {
		t.Fatalf("Functions() = %d, want 1", len(mod.Functions()))
	}
}

func TestParseDocstring(t *testing.T) {
	mod, err := Parse(strings.NewReader("def f():\n    \"\"\"does nothing\"\"\"\n    pass\n"), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	fn := mod.Functions()[0]
	exprStmt, ok := fn.Body[0].(*ast.ExprStmt)
	if !ok {
		t.Fatalf("fn.Body[0] is %T, want *ast.ExprStmt", fn.Body[0])
	}
	cst, ok := exprStmt.Value.(*ast.Constant)
	if !ok || cst.Kind != ast.ConstString {
		t.Fatalf("fn.Body[0].Value is %#v, want a string constant", exprStmt.Value)
	}
	if cst.Value != "does nothing" {
		t.Errorf("docstring = %q, want %q", cst.Value, "does nothing")
	}
}

func TestParseControlFlowAndComprehensions(t *testing.T) {
	src := `def f(items):
    total = 0
    for item in items:
        if item > 0:
            total += item
        else:
            continue
    squares = [x * x for x in items if x > 0]
    return total, squares
`
	mod, err := Parse(strings.NewReader(src), "<test>")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	fn := mod.Functions()[0]
	if _, ok := fn.Body[1].(*ast.ForStmt); !ok {
		t.Fatalf("fn.Body[1] is %T, want *ast.ForStmt", fn.Body[1])
	}
	ret, ok := fn.Body[3].(*ast.ReturnStmt)
	if !ok {
		t.Fatalf("fn.Body[3] is %T, want *ast.ReturnStmt", fn.Body[3])
	}
	if _, ok := ret.Value.(*ast.TupleExpr); !ok {
		t.Errorf("return value is %T, want *ast.TupleExpr", ret.Value)
	}
}

func TestParseRejectsMalformedSource(t *testing.T) {
	if _, err := Parse(strings.NewReader("def f(x:\n    return x\n"), "<test>"); err == nil {
		t.Fatal("Parse on malformed source returned nil error")
	} else if pe, ok := err.(*ParseError); !ok {
		t.Errorf("Parse returned %T, want *ParseError", err)
	} else if pe.Kind() != SyntaxError {
		t.Errorf("ParseError.Kind() = %v, want SyntaxError", pe.Kind())
	}
}

func TestParseRejectsUnsupportedConstructs(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"class definition", "class Foo:\n    pass\n"},
		{"nested class definition", "def f():\n    class Foo:\n        pass\n    return 1\n"},
		{"yield statement", "def f():\n    yield 1\n"},
		{"yield expression", "def f():\n    x = yield\n    return x\n"},
		{"async for", "def f():\n    async for x in y:\n        pass\n"},
		{"async with", "def f():\n    async with x:\n        pass\n"},
		{"walrus assignment", "def f():\n    (n := 10)\n    return n\n"},
		{"match statement", "def f(x):\n    match x:\n        pass\n"},
		{"f-string", "def f():\n    y = f'hello'\n    return y\n"},
		{"decorator call with arguments", "@deco(1)\ndef f():\n    pass\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.src), "<test>")
			if err == nil {
				t.Fatalf("Parse(%q) returned nil error, want UnsupportedConstruct", tc.src)
			}
			pe, ok := err.(*ParseError)
			if !ok {
				t.Fatalf("Parse returned %T, want *ParseError", err)
			}
			if pe.Kind() != UnsupportedConstruct {
				t.Errorf("ParseError.Kind() = %v, want UnsupportedConstruct", pe.Kind())
			}
		})
	}
}

func TestParseReportsSourceLocation(t *testing.T) {
	_, err := Parse(strings.NewReader("def f(x):\n    return x +\n"), "<test.py>")
	if err == nil {
		t.Fatal("Parse on malformed source returned nil error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("Parse returned %T, want *ParseError", err)
	}
	if pe.Filename() != "<test.py>" {
		t.Errorf("ParseError.Filename() = %q, want %q", pe.Filename(), "<test.py>")
	}
	if pe.Line() == 0 {
		t.Error("ParseError.Line() = 0, want a positive line number")
	}
}
