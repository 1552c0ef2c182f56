// Package rename implements the identifier-rewriting pass of the
// normalizer: every non-builtin name bound inside the function (its
// parameters, local assignment/for/with targets, lambda parameters, and
// comprehension targets) is replaced by its canonical allocator name,
// and every reference to one of those names is resolved to match.
package rename

import (
	"github.com/autonomous-bits/codepool/internal/allocator"
	"github.com/autonomous-bits/codepool/pkg/ast"
)

// Rename rewrites fn in place using alloc, which the caller has already
// primed with the module's import bindings (see pkg/normalize). The
// function's own name is bound first, claiming canonical index 0
// (spec.md §4.1: "Index 0 is reserved for the function's own name"),
// before its parameters claim indices 1..k.
func Rename(fn *ast.FunctionDef, alloc *allocator.Allocator) {
	r := &renamer{alloc: alloc}
	fn.Name = alloc.Bind(fn.Name)
	r.bindParams(fn.Params)
	for i, d := range fn.Decorators {
		fn.Decorators[i] = r.expr(d)
	}
	fn.Body = r.stmts(fn.Body)
}

type renamer struct{ alloc *allocator.Allocator }

func (r *renamer) bindParams(a *ast.Arguments) {
	if a == nil {
		return
	}
	// Arguments.All() returns copies, so bind by walking each slice
	// directly in traversal order: positional-only, positional-or-
	// keyword, vararg, keyword-only, kwarg.
	rebind := func(params []ast.Param) {
		for i := range params {
			params[i].Name = r.alloc.Bind(params[i].Name)
			if params[i].Default != nil {
				params[i].Default = r.expr(params[i].Default)
			}
		}
	}
	rebind(a.PositionalOnly)
	rebind(a.PositionalOrKeyword)
	if a.Vararg != nil {
		a.Vararg.Name = r.alloc.Bind(a.Vararg.Name)
	}
	rebind(a.KeywordOnly)
	if a.Kwarg != nil {
		a.Kwarg.Name = r.alloc.Bind(a.Kwarg.Name)
	}
}

func (r *renamer) stmts(stmts []ast.Stmt) []ast.Stmt {
	for i, s := range stmts {
		stmts[i] = r.stmt(s)
	}
	return stmts
}

func (r *renamer) stmt(s ast.Stmt) ast.Stmt {
	switch st := s.(type) {
	case *ast.ExprStmt:
		st.Value = r.expr(st.Value)
	case *ast.Assign:
		for i, t := range st.Targets {
			st.Targets[i] = r.target(t)
		}
		st.Value = r.expr(st.Value)
	case *ast.AugAssign:
		st.Target = r.target(st.Target)
		st.Value = r.expr(st.Value)
	case *ast.ReturnStmt:
		if st.Value != nil {
			st.Value = r.expr(st.Value)
		}
	case *ast.GlobalStmt:
		for i, n := range st.Names {
			st.Names[i] = r.alloc.Resolve(n)
		}
	case *ast.NonlocalStmt:
		for i, n := range st.Names {
			st.Names[i] = r.alloc.Resolve(n)
		}
	case *ast.RaiseStmt:
		if st.Exc != nil {
			st.Exc = r.expr(st.Exc)
		}
		if st.Cause != nil {
			st.Cause = r.expr(st.Cause)
		}
	case *ast.IfStmt:
		st.Test = r.expr(st.Test)
		st.Body = r.stmts(st.Body)
		st.Orelse = r.stmts(st.Orelse)
	case *ast.ForStmt:
		st.Iter = r.expr(st.Iter)
		st.Target = r.target(st.Target)
		st.Body = r.stmts(st.Body)
		st.Orelse = r.stmts(st.Orelse)
	case *ast.WhileStmt:
		st.Test = r.expr(st.Test)
		st.Body = r.stmts(st.Body)
		st.Orelse = r.stmts(st.Orelse)
	case *ast.WithStmt:
		for i := range st.Items {
			st.Items[i].ContextExpr = r.expr(st.Items[i].ContextExpr)
			if st.Items[i].OptionalVars != nil {
				st.Items[i].OptionalVars = r.target(st.Items[i].OptionalVars)
			}
		}
		st.Body = r.stmts(st.Body)
	case *ast.FunctionDef:
		// A nested function definition is renamed in a scope of its own;
		// its name is bound inside that scope, not in the enclosing one.
		r.alloc.PushScope()
		Rename(st, r.alloc)
		r.alloc.PopScope()
	}
	return s
}

// target renames an assignment/for/with-as/comprehension target,
// binding any Name it contains in the current scope.
func (r *renamer) target(e ast.Expr) ast.Expr {
	switch ex := e.(type) {
	case *ast.Name:
		ex.Id = r.alloc.Bind(ex.Id)
		return ex
	case *ast.TupleExpr:
		for i, el := range ex.Elts {
			ex.Elts[i] = r.target(el)
		}
		return ex
	case *ast.ListExpr:
		for i, el := range ex.Elts {
			ex.Elts[i] = r.target(el)
		}
		return ex
	case *ast.Starred:
		ex.Value = r.target(ex.Value)
		return ex
	case *ast.Attribute:
		ex.Value = r.expr(ex.Value)
		return ex
	case *ast.Subscript:
		ex.Value = r.expr(ex.Value)
		ex.Index = r.expr(ex.Index)
		return ex
	default:
		return e
	}
}

func (r *renamer) expr(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	switch ex := e.(type) {
	case *ast.Name:
		ex.Id = r.alloc.Resolve(ex.Id)
		return ex
	case *ast.Attribute:
		ex.Value = r.expr(ex.Value)
		return ex
	case *ast.Call:
		ex.Func = r.expr(ex.Func)
		for i, a := range ex.Args {
			ex.Args[i] = r.expr(a)
		}
		for i, kw := range ex.Keywords {
			ex.Keywords[i].Value = r.expr(kw.Value)
		}
		return ex
	case *ast.Starred:
		ex.Value = r.expr(ex.Value)
		return ex
	case *ast.BinOp:
		ex.Left = r.expr(ex.Left)
		ex.Right = r.expr(ex.Right)
		return ex
	case *ast.UnaryOp:
		ex.Operand = r.expr(ex.Operand)
		return ex
	case *ast.BoolOp:
		for i, v := range ex.Values {
			ex.Values[i] = r.expr(v)
		}
		return ex
	case *ast.Compare:
		ex.Left = r.expr(ex.Left)
		for i, c := range ex.Comparators {
			ex.Comparators[i] = r.expr(c)
		}
		return ex
	case *ast.IfExp:
		ex.Test = r.expr(ex.Test)
		ex.Body = r.expr(ex.Body)
		ex.Orelse = r.expr(ex.Orelse)
		return ex
	case *ast.Lambda:
		r.alloc.PushScope()
		r.bindParams(ex.Params)
		ex.Body = r.expr(ex.Body)
		r.alloc.PopScope()
		return ex
	case *ast.ListComp:
		r.alloc.PushScope()
		r.generators(ex.Generators)
		ex.Elt = r.expr(ex.Elt)
		r.alloc.PopScope()
		return ex
	case *ast.SetComp:
		r.alloc.PushScope()
		r.generators(ex.Generators)
		ex.Elt = r.expr(ex.Elt)
		r.alloc.PopScope()
		return ex
	case *ast.GeneratorExp:
		r.alloc.PushScope()
		r.generators(ex.Generators)
		ex.Elt = r.expr(ex.Elt)
		r.alloc.PopScope()
		return ex
	case *ast.DictComp:
		r.alloc.PushScope()
		r.generators(ex.Generators)
		ex.Key = r.expr(ex.Key)
		ex.Value = r.expr(ex.Value)
		r.alloc.PopScope()
		return ex
	case *ast.ListExpr:
		r.exprs(ex.Elts)
		return ex
	case *ast.TupleExpr:
		r.exprs(ex.Elts)
		return ex
	case *ast.SetExpr:
		r.exprs(ex.Elts)
		return ex
	case *ast.DictExpr:
		for i, v := range ex.Values {
			ex.Values[i] = r.expr(v)
			if ex.Keys[i] != nil {
				ex.Keys[i] = r.expr(ex.Keys[i])
			}
		}
		return ex
	case *ast.Subscript:
		ex.Value = r.expr(ex.Value)
		ex.Index = r.expr(ex.Index)
		return ex
	default:
		return e
	}
}

func (r *renamer) exprs(elts []ast.Expr) {
	for i, e := range elts {
		elts[i] = r.expr(e)
	}
}

// generators binds each comprehension's target in the (already pushed)
// current scope in source order — the iterable of the first clause is
// resolved in the enclosing scope per Python semantics, but subsequent
// clauses and conditions see earlier targets, so the straightforward
// left-to-right walk here is correct for the comprehensions
// pkg/langparse accepts: one or more for clauses, each with any number
// of if conditions.
func (r *renamer) generators(gens []ast.Comprehension) {
	for i := range gens {
		gens[i].Iter = r.expr(gens[i].Iter)
		gens[i].Target = r.target(gens[i].Target)
		for j, c := range gens[i].Ifs {
			gens[i].Ifs[j] = r.expr(c)
		}
	}
}
