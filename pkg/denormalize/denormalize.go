// Package denormalize inverts pkg/normalize: given a stored function's
// normalized code and one chosen mapping, it reconstructs author-visible
// source in that mapping's human language (spec.md §4.5). It shares
// pkg/ast's printer with the normalizer so round-trip formatting is one
// piece of code, not two that can drift apart.
package denormalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/pkg/ast"
	"github.com/autonomous-bits/codepool/pkg/langparse"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

var canonicalPattern = regexp.MustCompile(`^_` + config.PREFIX + `_v_[0-9]+$`)

// Denormalize reconstructs author-visible source for obj in m's human
// language: canonical identifiers are replaced by their original names,
// pool-import aliases and call sites are reattached, and the placeholder
// docstring is replaced (or removed) per spec.md §4.5.
func Denormalize(obj *pool.Object, m *pool.Mapping) (string, error) {
	mod, err := langparse.Parse(strings.NewReader(obj.NormalizedCode), "<normalized>")
	if err != nil {
		return "", &ErrMalformedCode{Reason: err.Error()}
	}
	fns := mod.Functions()
	if len(fns) != 1 {
		return "", &ErrMalformedCode{Reason: fmt.Sprintf("expected exactly one function definition, found %d", len(fns))}
	}
	fn := fns[0]

	d := &derenamer{mapping: m.NameMapping, aliases: m.AliasMapping}

	fn.Name, err = d.resolve(fn.Name)
	if err != nil {
		return "", err
	}
	if err := d.bindParams(fn.Params); err != nil {
		return "", err
	}
	for i, dec := range fn.Decorators {
		fn.Decorators[i], err = d.expr(dec)
		if err != nil {
			return "", err
		}
	}
	fn.Body, err = d.stmts(fn.Body)
	if err != nil {
		return "", err
	}

	fn.Body = restoreDocstring(fn.Body, m.Docstring)

	preamble := restoreAliases(mod.Imports(), m.AliasMapping)
	stmts := make([]ast.Stmt, 0, len(preamble)+1)
	stmts = append(stmts, preamble...)
	stmts = append(stmts, fn)

	return ast.Print(&ast.Module{Statements: stmts}), nil
}

// restoreDocstring replaces the normalizer's sentinel docstring
// expression statement, if present, with the author's original
// docstring, or drops it entirely if the author had none (spec.md §4.5
// step 5: "docstring: string (author's docstring, possibly empty)" — an
// empty string means the author never wrote one).
func restoreDocstring(body []ast.Stmt, docstring string) []ast.Stmt {
	if len(body) == 0 {
		return body
	}
	exprStmt, ok := body[0].(*ast.ExprStmt)
	if !ok {
		return body
	}
	cst, ok := exprStmt.Value.(*ast.Constant)
	if !ok || cst.Kind != ast.ConstString || cst.Value != config.DocstringSentinel {
		return body
	}
	if docstring == "" {
		return body[1:]
	}
	cst.Value = docstring
	return body
}

// restoreAliases walks the canonical import preamble and reattaches an
// "as <alias>" clause to every pool-import whose hash appears in
// aliases (spec.md §4.5 step 3). Non-pool imports and hashes with no
// recorded alias are left unaliased, using their canonical
// `object_<hash>` name directly.
func restoreAliases(stmts []ast.Stmt, aliases map[string]string) []ast.Stmt {
	out := make([]ast.Stmt, len(stmts))
	for i, s := range stmts {
		from, ok := s.(*ast.ImportFromStmt)
		if !ok || from.Module != config.PoolImportModule {
			out[i] = s
			continue
		}
		for j, alias := range from.Names {
			hash := strings.TrimPrefix(alias.Name, config.PoolObjectPrefix)
			if local, ok := aliases[hash]; ok {
				from.Names[j].AsName = local
			}
		}
		out[i] = from
	}
	return out
}

// derenamer replaces every canonical identifier with its original name
// via mapping (the inverse of internal/rename's forward pass), and
// rewrites canonical pool-import call sites `object_<H>._PREFIX_v_0(…)`
// back to `alias_mapping[H](…)` (spec.md §4.5 step 4). Because the
// allocator hands out a single globally unique canonical name per
// identifier (internal/allocator), the reverse lookup needs no scope
// tracking: one flat table covers the whole function.
type derenamer struct {
	mapping pool.NameMapping
	aliases map[string]string
}

// resolve returns the original identifier for a canonical name. Names
// the normalizer never renamed (builtins, import-bound names) pass
// through unchanged. A name shaped like a canonical identifier with no
// recorded mapping entry is a corrupt or incomplete mapping.
func (d *derenamer) resolve(name string) (string, error) {
	if config.BuiltinNames[name] {
		return name, nil
	}
	if orig, ok := d.mapping.Get(name); ok {
		return orig, nil
	}
	if canonicalPattern.MatchString(name) {
		return "", &ErrMappingIncomplete{Canonical: name}
	}
	return name, nil
}

func (d *derenamer) bindParams(a *ast.Arguments) error {
	if a == nil {
		return nil
	}
	rebind := func(params []ast.Param) error {
		for i := range params {
			orig, err := d.resolve(params[i].Name)
			if err != nil {
				return err
			}
			params[i].Name = orig
			if params[i].Default != nil {
				params[i].Default, err = d.expr(params[i].Default)
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := rebind(a.PositionalOnly); err != nil {
		return err
	}
	if err := rebind(a.PositionalOrKeyword); err != nil {
		return err
	}
	if a.Vararg != nil {
		orig, err := d.resolve(a.Vararg.Name)
		if err != nil {
			return err
		}
		a.Vararg.Name = orig
	}
	if err := rebind(a.KeywordOnly); err != nil {
		return err
	}
	if a.Kwarg != nil {
		orig, err := d.resolve(a.Kwarg.Name)
		if err != nil {
			return err
		}
		a.Kwarg.Name = orig
	}
	return nil
}

func (d *derenamer) stmts(stmts []ast.Stmt) ([]ast.Stmt, error) {
	for i, s := range stmts {
		rewritten, err := d.stmt(s)
		if err != nil {
			return nil, err
		}
		stmts[i] = rewritten
	}
	return stmts, nil
}

func (d *derenamer) stmt(s ast.Stmt) (ast.Stmt, error) {
	var err error
	switch st := s.(type) {
	case *ast.ExprStmt:
		st.Value, err = d.expr(st.Value)
	case *ast.Assign:
		for i, t := range st.Targets {
			st.Targets[i], err = d.target(t)
			if err != nil {
				return nil, err
			}
		}
		st.Value, err = d.expr(st.Value)
	case *ast.AugAssign:
		st.Target, err = d.target(st.Target)
		if err != nil {
			return nil, err
		}
		st.Value, err = d.expr(st.Value)
	case *ast.ReturnStmt:
		if st.Value != nil {
			st.Value, err = d.expr(st.Value)
		}
	case *ast.GlobalStmt:
		for i, n := range st.Names {
			st.Names[i], err = d.resolve(n)
			if err != nil {
				return nil, err
			}
		}
	case *ast.NonlocalStmt:
		for i, n := range st.Names {
			st.Names[i], err = d.resolve(n)
			if err != nil {
				return nil, err
			}
		}
	case *ast.RaiseStmt:
		if st.Exc != nil {
			st.Exc, err = d.expr(st.Exc)
			if err != nil {
				return nil, err
			}
		}
		if st.Cause != nil {
			st.Cause, err = d.expr(st.Cause)
		}
	case *ast.IfStmt:
		st.Test, err = d.expr(st.Test)
		if err != nil {
			return nil, err
		}
		st.Body, err = d.stmts(st.Body)
		if err != nil {
			return nil, err
		}
		st.Orelse, err = d.stmts(st.Orelse)
	case *ast.ForStmt:
		st.Target, err = d.target(st.Target)
		if err != nil {
			return nil, err
		}
		st.Iter, err = d.expr(st.Iter)
		if err != nil {
			return nil, err
		}
		st.Body, err = d.stmts(st.Body)
		if err != nil {
			return nil, err
		}
		st.Orelse, err = d.stmts(st.Orelse)
	case *ast.WhileStmt:
		st.Test, err = d.expr(st.Test)
		if err != nil {
			return nil, err
		}
		st.Body, err = d.stmts(st.Body)
		if err != nil {
			return nil, err
		}
		st.Orelse, err = d.stmts(st.Orelse)
	case *ast.WithStmt:
		for i := range st.Items {
			st.Items[i].ContextExpr, err = d.expr(st.Items[i].ContextExpr)
			if err != nil {
				return nil, err
			}
			if st.Items[i].OptionalVars != nil {
				st.Items[i].OptionalVars, err = d.target(st.Items[i].OptionalVars)
				if err != nil {
					return nil, err
				}
			}
		}
		st.Body, err = d.stmts(st.Body)
	case *ast.FunctionDef:
		st.Name, err = d.resolve(st.Name)
		if err != nil {
			return nil, err
		}
		if err = d.bindParams(st.Params); err != nil {
			return nil, err
		}
		st.Body, err = d.stmts(st.Body)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *derenamer) target(e ast.Expr) (ast.Expr, error) {
	switch ex := e.(type) {
	case *ast.Name:
		orig, err := d.resolve(ex.Id)
		if err != nil {
			return nil, err
		}
		ex.Id = orig
		return ex, nil
	case *ast.TupleExpr:
		for i, el := range ex.Elts {
			rewritten, err := d.target(el)
			if err != nil {
				return nil, err
			}
			ex.Elts[i] = rewritten
		}
		return ex, nil
	case *ast.ListExpr:
		for i, el := range ex.Elts {
			rewritten, err := d.target(el)
			if err != nil {
				return nil, err
			}
			ex.Elts[i] = rewritten
		}
		return ex, nil
	case *ast.Starred:
		rewritten, err := d.target(ex.Value)
		if err != nil {
			return nil, err
		}
		ex.Value = rewritten
		return ex, nil
	case *ast.Attribute:
		rewritten, err := d.expr(ex.Value)
		if err != nil {
			return nil, err
		}
		ex.Value = rewritten
		return ex, nil
	case *ast.Subscript:
		var err error
		ex.Value, err = d.expr(ex.Value)
		if err != nil {
			return nil, err
		}
		ex.Index, err = d.expr(ex.Index)
		if err != nil {
			return nil, err
		}
		return ex, nil
	default:
		return e, nil
	}
}

// poolCallHash reports whether call is the canonical form of a
// pool-import invocation `object_<H>._PREFIX_v_0(…)`, returning H.
func poolCallHash(call *ast.Call) (string, bool) {
	attr, ok := call.Func.(*ast.Attribute)
	if !ok || attr.Attr != "_"+config.PREFIX+"_v_0" {
		return "", false
	}
	name, ok := attr.Value.(*ast.Name)
	if !ok || !strings.HasPrefix(name.Id, config.PoolObjectPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name.Id, config.PoolObjectPrefix), true
}

func (d *derenamer) expr(e ast.Expr) (ast.Expr, error) {
	if e == nil {
		return nil, nil
	}
	var err error
	switch ex := e.(type) {
	case *ast.Name:
		ex.Id, err = d.resolve(ex.Id)
		return ex, err
	case *ast.Attribute:
		ex.Value, err = d.expr(ex.Value)
		return ex, err
	case *ast.Call:
		if hash, ok := poolCallHash(ex); ok {
			if alias, ok := d.aliases[hash]; ok {
				ex.Func = &ast.Name{Id: alias, Ctx: ast.Load, SourceSpan: ex.Func.Span()}
			}
		} else {
			ex.Func, err = d.expr(ex.Func)
			if err != nil {
				return nil, err
			}
		}
		for i, a := range ex.Args {
			ex.Args[i], err = d.expr(a)
			if err != nil {
				return nil, err
			}
		}
		for i, kw := range ex.Keywords {
			ex.Keywords[i].Value, err = d.expr(kw.Value)
			if err != nil {
				return nil, err
			}
		}
		return ex, nil
	case *ast.Starred:
		ex.Value, err = d.expr(ex.Value)
		return ex, err
	case *ast.BinOp:
		ex.Left, err = d.expr(ex.Left)
		if err != nil {
			return nil, err
		}
		ex.Right, err = d.expr(ex.Right)
		return ex, err
	case *ast.UnaryOp:
		ex.Operand, err = d.expr(ex.Operand)
		return ex, err
	case *ast.BoolOp:
		for i, v := range ex.Values {
			ex.Values[i], err = d.expr(v)
			if err != nil {
				return nil, err
			}
		}
		return ex, nil
	case *ast.Compare:
		ex.Left, err = d.expr(ex.Left)
		if err != nil {
			return nil, err
		}
		for i, c := range ex.Comparators {
			ex.Comparators[i], err = d.expr(c)
			if err != nil {
				return nil, err
			}
		}
		return ex, nil
	case *ast.IfExp:
		ex.Test, err = d.expr(ex.Test)
		if err != nil {
			return nil, err
		}
		ex.Body, err = d.expr(ex.Body)
		if err != nil {
			return nil, err
		}
		ex.Orelse, err = d.expr(ex.Orelse)
		return ex, err
	case *ast.Lambda:
		if err := d.bindParams(ex.Params); err != nil {
			return nil, err
		}
		ex.Body, err = d.expr(ex.Body)
		return ex, err
	case *ast.ListComp:
		if err := d.generators(ex.Generators); err != nil {
			return nil, err
		}
		ex.Elt, err = d.expr(ex.Elt)
		return ex, err
	case *ast.SetComp:
		if err := d.generators(ex.Generators); err != nil {
			return nil, err
		}
		ex.Elt, err = d.expr(ex.Elt)
		return ex, err
	case *ast.GeneratorExp:
		if err := d.generators(ex.Generators); err != nil {
			return nil, err
		}
		ex.Elt, err = d.expr(ex.Elt)
		return ex, err
	case *ast.DictComp:
		if err := d.generators(ex.Generators); err != nil {
			return nil, err
		}
		ex.Key, err = d.expr(ex.Key)
		if err != nil {
			return nil, err
		}
		ex.Value, err = d.expr(ex.Value)
		return ex, err
	case *ast.ListExpr:
		return ex, d.exprs(ex.Elts)
	case *ast.TupleExpr:
		return ex, d.exprs(ex.Elts)
	case *ast.SetExpr:
		return ex, d.exprs(ex.Elts)
	case *ast.DictExpr:
		for i, v := range ex.Values {
			ex.Values[i], err = d.expr(v)
			if err != nil {
				return nil, err
			}
			if ex.Keys[i] != nil {
				ex.Keys[i], err = d.expr(ex.Keys[i])
				if err != nil {
					return nil, err
				}
			}
		}
		return ex, nil
	case *ast.Subscript:
		ex.Value, err = d.expr(ex.Value)
		if err != nil {
			return nil, err
		}
		ex.Index, err = d.expr(ex.Index)
		return ex, err
	default:
		return e, nil
	}
}

func (d *derenamer) exprs(elts []ast.Expr) error {
	for i, e := range elts {
		rewritten, err := d.expr(e)
		if err != nil {
			return err
		}
		elts[i] = rewritten
	}
	return nil
}

func (d *derenamer) generators(gens []ast.Comprehension) error {
	for i := range gens {
		iter, err := d.expr(gens[i].Iter)
		if err != nil {
			return err
		}
		gens[i].Iter = iter
		target, err := d.target(gens[i].Target)
		if err != nil {
			return err
		}
		gens[i].Target = target
		for j, c := range gens[i].Ifs {
			rewritten, err := d.expr(c)
			if err != nil {
				return err
			}
			gens[i].Ifs[j] = rewritten
		}
	}
	return nil
}
