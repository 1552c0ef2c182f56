// Package imports classifies a module's import preamble and rewrites
// pool-import call sites into their canonical, alias-independent form so
// that two functions that import the same pool object under different
// local aliases hash identically.
package imports

import (
	"fmt"
	"sort"
	"strings"

	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/pkg/ast"
)

// Kind classifies one import binding.
type Kind int

const (
	// Plain is an ordinary `import X` / `from M import N` binding.
	Plain Kind = iota
	// PoolImport is `from pool.objects import object_<hash> as alias`.
	PoolImport
)

// Classified is one name bound by an import statement, retaining enough
// structure to both rewrite call sites and reconstruct the statement's
// canonical (alias-stripped) form.
type Classified struct {
	Kind Kind
	// IsFrom reports whether the binding came from a `from M import N`
	// statement (true) or a plain `import X` statement (false). Pool
	// imports are always IsFrom.
	IsFrom bool
	// FromModule is M for a `from M import N` statement; empty for a
	// plain `import X`.
	FromModule string
	// ImportName is the name actually imported: X for `import X`, N for
	// `from M import N` (including `object_<hash>` for pool imports).
	// It never includes an "as" alias — aliases are canonical-form noise.
	ImportName string
	Hash       string // set only for PoolImport, parsed out of ImportName
	BoundName  string // the local name the function body refers to
}

// Canonical returns the statement text this binding contributes to the
// canonical import preamble, with any "as" alias stripped (spec.md
// §4.2 step 3: "as Y aliases are removed in canonical form").
func (c Classified) Canonical() string {
	if c.IsFrom {
		return fmt.Sprintf("from %s import %s", c.FromModule, c.ImportName)
	}
	return fmt.Sprintf("import %s", c.ImportName)
}

// Classify walks every import statement in the module's top-level
// preamble and directly inside the function body (spec.md §4.1: "Any
// identifier bound by any import ... statement present in the
// function's enclosing module (both the top-level imports and ones
// inside the function)"), returning one Classified entry per bound
// name in source order.
func Classify(mod *ast.Module, fnBody []ast.Stmt) ([]Classified, error) {
	var out []Classified
	for _, stmt := range mod.Imports() {
		c, err := classifyStmt(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	for _, stmt := range fnBody {
		switch stmt.(type) {
		case *ast.ImportStmt, *ast.ImportFromStmt:
			c, err := classifyStmt(stmt)
			if err != nil {
				return nil, err
			}
			out = append(out, c...)
		}
	}
	return out, nil
}

func classifyStmt(stmt ast.Stmt) ([]Classified, error) {
	var out []Classified
	switch s := stmt.(type) {
	case *ast.ImportStmt:
		for _, alias := range s.Names {
			out = append(out, Classified{Kind: Plain, ImportName: alias.Name, BoundName: alias.BoundName()})
		}
	case *ast.ImportFromStmt:
		if s.Module == config.PoolImportModule {
			for _, alias := range s.Names {
				hash, ok := poolObjectHash(alias.Name)
				if !ok {
					return nil, fmt.Errorf("malformed pool import name %q", alias.Name)
				}
				out = append(out, Classified{
					Kind: PoolImport, IsFrom: true, FromModule: s.Module,
					ImportName: alias.Name, Hash: hash, BoundName: alias.BoundName(),
				})
			}
			return out, nil
		}
		for _, alias := range s.Names {
			out = append(out, Classified{
				Kind: Plain, IsFrom: true, FromModule: s.Module,
				ImportName: alias.Name, BoundName: alias.BoundName(),
			})
		}
	}
	return out, nil
}

// StripFromBody removes every top-level import statement from body,
// since classified imports are reconstructed separately as the
// function's canonical preamble (spec.md §4.2 step 1).
func StripFromBody(body []ast.Stmt) []ast.Stmt {
	out := body[:0:0]
	for _, s := range body {
		switch s.(type) {
		case *ast.ImportStmt, *ast.ImportFromStmt:
			continue
		}
		out = append(out, s)
	}
	return out
}

// CanonicalPreamble builds the sorted, alias-stripped import statements
// that precede the function in canonical form (spec.md §4.2 step 7:
// "Sort imports lexicographically by canonical form"). Multiple names
// sharing one canonical statement text are merged onto a single
// statement when they share a kind/module, matching how the source
// would have written `from M import A, B`.
func CanonicalPreamble(classified []Classified) []ast.Stmt {
	type group struct {
		isFrom bool
		module string
		names  []string
	}
	groups := map[string]*group{}
	var order []string
	for _, c := range classified {
		key := fmt.Sprintf("%v\x00%s", c.IsFrom, c.FromModule)
		g, ok := groups[key]
		if !ok {
			g = &group{isFrom: c.IsFrom, module: c.FromModule}
			groups[key] = g
			order = append(order, key)
		}
		g.names = append(g.names, c.ImportName)
	}
	type rendered struct {
		text string
		stmt ast.Stmt
	}
	var stmts []rendered
	for _, key := range order {
		g := groups[key]
		sorted := append([]string(nil), g.names...)
		sort.Strings(sorted)
		aliases := make([]ast.ImportAlias, len(sorted))
		for i, n := range sorted {
			aliases[i] = ast.ImportAlias{Name: n}
		}
		if g.isFrom {
			stmt := &ast.ImportFromStmt{Module: g.module, Names: aliases}
			stmts = append(stmts, rendered{text: fmt.Sprintf("from %s import %s", g.module, strings.Join(sorted, ", ")), stmt: stmt})
		} else {
			stmt := &ast.ImportStmt{Names: aliases}
			stmts = append(stmts, rendered{text: fmt.Sprintf("import %s", strings.Join(sorted, ", ")), stmt: stmt})
		}
	}
	sort.Slice(stmts, func(i, j int) bool { return stmts[i].text < stmts[j].text })
	out := make([]ast.Stmt, len(stmts))
	for i, r := range stmts {
		out[i] = r.stmt
	}
	return out
}

func poolObjectHash(name string) (string, bool) {
	if !strings.HasPrefix(name, config.PoolObjectPrefix) {
		return "", false
	}
	hash := strings.TrimPrefix(name, config.PoolObjectPrefix)
	if hash == "" {
		return "", false
	}
	return hash, true
}

// poolAliasSet returns the set of bound names that refer to a pool
// import, each mapped to its hash.
func poolAliasSet(classified []Classified) map[string]string {
	out := map[string]string{}
	for _, c := range classified {
		if c.Kind == PoolImport {
			out[c.BoundName] = c.Hash
		}
	}
	return out
}

// RewriteCallSites replaces every call `alias(args...)` where alias
// refers to a pool import with the canonical, alias-independent form
// `object_<hash>._<PREFIX>_v_0(args...)`, so the chosen local alias never
// affects the function's identity hash.
func RewriteCallSites(body []ast.Stmt, classified []Classified) []ast.Stmt {
	aliases := poolAliasSet(classified)
	if len(aliases) == 0 {
		return body
	}
	r := &callRewriter{aliases: aliases}
	for i, s := range body {
		body[i] = r.stmt(s)
	}
	return body
}

type callRewriter struct{ aliases map[string]string }

func (r *callRewriter) stmt(s ast.Stmt) ast.Stmt {
	switch st := s.(type) {
	case *ast.ExprStmt:
		st.Value = r.expr(st.Value)
	case *ast.Assign:
		st.Value = r.expr(st.Value)
	case *ast.AugAssign:
		st.Value = r.expr(st.Value)
	case *ast.ReturnStmt:
		if st.Value != nil {
			st.Value = r.expr(st.Value)
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
		st.Body = r.stmts(st.Body)
		st.Orelse = r.stmts(st.Orelse)
	case *ast.WhileStmt:
		st.Test = r.expr(st.Test)
		st.Body = r.stmts(st.Body)
		st.Orelse = r.stmts(st.Orelse)
	case *ast.WithStmt:
		for i := range st.Items {
			st.Items[i].ContextExpr = r.expr(st.Items[i].ContextExpr)
		}
		st.Body = r.stmts(st.Body)
	case *ast.FunctionDef:
		st.Body = r.stmts(st.Body)
	}
	return s
}

func (r *callRewriter) stmts(stmts []ast.Stmt) []ast.Stmt {
	for i, s := range stmts {
		stmts[i] = r.stmt(s)
	}
	return stmts
}

func (r *callRewriter) expr(e ast.Expr) ast.Expr {
	if e == nil {
		return nil
	}
	switch ex := e.(type) {
	case *ast.Call:
		if name, ok := ex.Func.(*ast.Name); ok {
			if hash, isPool := r.aliases[name.Id]; isPool {
				ex.Func = &ast.Attribute{
					Value:      &ast.Name{Id: config.PoolObjectPrefix + hash, Ctx: ast.Load, SourceSpan: name.SourceSpan},
					Attr:       "_" + config.PREFIX + "_v_0",
					SourceSpan: name.SourceSpan,
				}
			}
		} else {
			ex.Func = r.expr(ex.Func)
		}
		for i, a := range ex.Args {
			ex.Args[i] = r.expr(a)
		}
		for i, kw := range ex.Keywords {
			ex.Keywords[i].Value = r.expr(kw.Value)
		}
		return ex
	case *ast.Attribute:
		ex.Value = r.expr(ex.Value)
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
		ex.Body = r.expr(ex.Body)
		return ex
	case *ast.ListComp:
		ex.Elt = r.expr(ex.Elt)
		r.generators(ex.Generators)
		return ex
	case *ast.SetComp:
		ex.Elt = r.expr(ex.Elt)
		r.generators(ex.Generators)
		return ex
	case *ast.GeneratorExp:
		ex.Elt = r.expr(ex.Elt)
		r.generators(ex.Generators)
		return ex
	case *ast.DictComp:
		ex.Key = r.expr(ex.Key)
		ex.Value = r.expr(ex.Value)
		r.generators(ex.Generators)
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

func (r *callRewriter) exprs(elts []ast.Expr) {
	for i, e := range elts {
		elts[i] = r.expr(e)
	}
}

func (r *callRewriter) generators(gens []ast.Comprehension) {
	for i := range gens {
		gens[i].Iter = r.expr(gens[i].Iter)
		for j, c := range gens[i].Ifs {
			gens[i].Ifs[j] = r.expr(c)
		}
	}
}
