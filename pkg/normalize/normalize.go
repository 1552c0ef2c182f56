// Package normalize implements the AST normalization pipeline: given a
// parsed source module containing exactly one function definition, it
// produces a canonical, pretty-printed form whose bytes are stable
// across choice of identifier names, import aliases, and docstring
// text. pkg/hasher hashes the result; pkg/denormalize reverses it.
package normalize

import (
	"github.com/autonomous-bits/codepool/internal/allocator"
	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/internal/imports"
	"github.com/autonomous-bits/codepool/internal/rename"
	"github.com/autonomous-bits/codepool/pkg/ast"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

// Result is the output of Normalize: the canonical code used for
// hashing plus the side information the denormalizer needs to rebuild
// author-visible source (spec.md §4.2).
type Result struct {
	// NormalizedCode is the deterministic, pretty-printed canonical
	// source with a placeholder sentinel docstring: the form stored in
	// Object.NormalizedCode (spec.md §3).
	NormalizedCode string
	// NormalizedCodeNoDocstring has no docstring statement at all. This
	// is the exact byte sequence pkg/hasher.FunctionHash hashes
	// (spec.md §3 invariant 1) — never stored, computed only to feed
	// the hasher.
	NormalizedCodeNoDocstring string
	// HasDocstring reports whether the original function body opened
	// with a string-literal expression statement.
	HasDocstring bool
	// Docstring is the original docstring text (empty if HasDocstring
	// is false). It never affects either normalized form.
	Docstring string
	// NameMapping is the canonical-id -> original-id bijection assigned
	// during this run, in first-occurrence (canonical-index) order.
	NameMapping pool.NameMapping
	// AliasMapping maps each referenced pool-object hash to the local
	// alias name the author bound it to (spec.md §3).
	AliasMapping map[string]string
}

// Normalize runs the full pipeline on mod. It fails with
// *ErrMultipleDefinitions if mod does not contain exactly one function
// definition, or *ErrMalformedInput if the import preamble cannot be
// classified (e.g. a malformed pool-import name).
func Normalize(mod *ast.Module) (*Result, error) {
	fns := mod.Functions()
	if len(fns) != 1 {
		return nil, &ErrMultipleDefinitions{Count: len(fns)}
	}
	fn := fns[0]

	classified, err := imports.Classify(mod, fn.Body)
	if err != nil {
		return nil, &ErrMalformedInput{Reason: err.Error()}
	}
	preamble := imports.CanonicalPreamble(classified)

	fn.Body = imports.StripFromBody(fn.Body)
	fn.Body = imports.RewriteCallSites(fn.Body, classified)

	docstring, hasDoc, body := extractDocstring(fn.Body)
	fn.Body = body

	alloc := allocator.New()
	for _, c := range classified {
		alloc.Exclude(c.BoundName)
	}
	rename.Rename(fn, alloc)

	noDoc := *fn
	codeNoDocstring := ast.Print(moduleOf(preamble, &noDoc))

	withDoc := *fn
	withDoc.Body = append([]ast.Stmt{sentinelDocstringStmt()}, fn.Body...)
	code := ast.Print(moduleOf(preamble, &withDoc))

	return &Result{
		NormalizedCode:            code,
		NormalizedCodeNoDocstring: codeNoDocstring,
		HasDocstring:              hasDoc,
		Docstring:                 docstring,
		NameMapping:               nameMappingOf(alloc),
		AliasMapping:              aliasMappingOf(classified),
	}, nil
}

func moduleOf(preamble []ast.Stmt, fn *ast.FunctionDef) *ast.Module {
	stmts := make([]ast.Stmt, 0, len(preamble)+1)
	stmts = append(stmts, preamble...)
	stmts = append(stmts, fn)
	return &ast.Module{Statements: stmts}
}

func sentinelDocstringStmt() ast.Stmt {
	return &ast.ExprStmt{Value: &ast.Constant{Kind: ast.ConstString, Value: config.DocstringSentinel}}
}

func nameMappingOf(alloc *allocator.Allocator) pool.NameMapping {
	bindings := alloc.Bindings()
	out := make(pool.NameMapping, len(bindings))
	for i, b := range bindings {
		out[i] = pool.NameBinding{Canonical: b.Canonical, Original: b.Original}
	}
	return out
}

func aliasMappingOf(classified []imports.Classified) map[string]string {
	out := map[string]string{}
	for _, c := range classified {
		if c.Kind == imports.PoolImport {
			out[c.Hash] = c.BoundName
		}
	}
	return out
}

// extractDocstring removes a leading string-literal expression
// statement from body, if present, and returns its text. Docstrings
// never participate in the function hash: this is the
// docstring-independence invariant.
func extractDocstring(body []ast.Stmt) (text string, present bool, rest []ast.Stmt) {
	if len(body) == 0 {
		return "", false, body
	}
	exprStmt, ok := body[0].(*ast.ExprStmt)
	if !ok {
		return "", false, body
	}
	cst, ok := exprStmt.Value.(*ast.Constant)
	if !ok || cst.Kind != ast.ConstString {
		return "", false, body
	}
	return cst.Value, true, body[1:]
}
