package ast

import "strings"

// Print renders a Module deterministically: stable whitespace, no
// trailing whitespace, UNIX line endings, UTF-8. Two invocations on an
// unchanged tree always produce byte-identical output, which is the
// property both the normalizer (for hashing) and the denormalizer (for
// the round-trip law) depend on.
func Print(m *Module) string {
	p := &printer{}
	p.printModule(m)
	out := p.b.String()
	return strings.TrimRight(out, "\n") + "\n"
}

type printer struct {
	b     strings.Builder
	depth int
}

func (p *printer) indent() string { return strings.Repeat("    ", p.depth) }

func (p *printer) line(s string) {
	if s == "" {
		p.b.WriteString("\n")
		return
	}
	p.b.WriteString(p.indent())
	p.b.WriteString(s)
	p.b.WriteString("\n")
}

func (p *printer) printModule(m *Module) {
	sawImport := false
	for i, stmt := range m.Statements {
		switch s := stmt.(type) {
		case *ImportStmt, *ImportFromStmt:
			p.printStmt(stmt)
			sawImport = true
		case *FunctionDef:
			if sawImport && i > 0 {
				p.line("")
				sawImport = false
			}
			p.printFunc(s)
		default:
			p.printStmt(stmt)
		}
	}
}

func (p *printer) printFunc(f *FunctionDef) {
	for _, d := range f.Decorators {
		p.line("@" + p.expr(d))
	}
	kw := "def"
	if f.Async {
		kw = "async def"
	}
	p.line(kw + " " + f.Name + "(" + p.params(f.Params) + "):")
	p.depth++
	p.printBody(f.Body)
	p.depth--
}

func (p *printer) printBody(stmts []Stmt) {
	if len(stmts) == 0 {
		p.line("pass")
		return
	}
	for _, s := range stmts {
		p.printStmt(s)
	}
}

func (p *printer) params(a *Arguments) string {
	if a == nil {
		return ""
	}
	var parts []string
	for _, pr := range a.PositionalOnly {
		parts = append(parts, p.param(pr))
	}
	if len(a.PositionalOnly) > 0 {
		parts = append(parts, "/")
	}
	for _, pr := range a.PositionalOrKeyword {
		parts = append(parts, p.param(pr))
	}
	if a.Vararg != nil {
		parts = append(parts, "*"+p.param(*a.Vararg))
	} else if len(a.KeywordOnly) > 0 {
		parts = append(parts, "*")
	}
	for _, pr := range a.KeywordOnly {
		parts = append(parts, p.param(pr))
	}
	if a.Kwarg != nil {
		parts = append(parts, "**"+p.param(*a.Kwarg))
	}
	return strings.Join(parts, ", ")
}

func (p *printer) param(pr Param) string {
	if pr.Default != nil {
		return pr.Name + "=" + p.expr(pr.Default)
	}
	return pr.Name
}

func (p *printer) printStmt(s Stmt) {
	switch st := s.(type) {
	case *ImportStmt:
		p.line("import " + joinAliases(st.Names))
	case *ImportFromStmt:
		p.line("from " + st.Module + " import " + joinAliases(st.Names))
	case *ExprStmt:
		p.line(p.expr(st.Value))
	case *Assign:
		targets := make([]string, len(st.Targets))
		for i, t := range st.Targets {
			targets[i] = p.expr(t)
		}
		p.line(strings.Join(targets, " = ") + " = " + p.expr(st.Value))
	case *AugAssign:
		p.line(p.expr(st.Target) + " " + st.Op + "= " + p.expr(st.Value))
	case *ReturnStmt:
		if st.Value == nil {
			p.line("return")
		} else {
			p.line("return " + p.expr(st.Value))
		}
	case *PassStmt:
		p.line("pass")
	case *BreakStmt:
		p.line("break")
	case *ContinueStmt:
		p.line("continue")
	case *GlobalStmt:
		p.line("global " + strings.Join(st.Names, ", "))
	case *NonlocalStmt:
		p.line("nonlocal " + strings.Join(st.Names, ", "))
	case *RaiseStmt:
		switch {
		case st.Exc == nil:
			p.line("raise")
		case st.Cause != nil:
			p.line("raise " + p.expr(st.Exc) + " from " + p.expr(st.Cause))
		default:
			p.line("raise " + p.expr(st.Exc))
		}
	case *IfStmt:
		p.line("if " + p.expr(st.Test) + ":")
		p.depth++
		p.printBody(st.Body)
		p.depth--
		if len(st.Orelse) > 0 {
			p.line("else:")
			p.depth++
			p.printBody(st.Orelse)
			p.depth--
		}
	case *ForStmt:
		p.line("for " + p.expr(st.Target) + " in " + p.expr(st.Iter) + ":")
		p.depth++
		p.printBody(st.Body)
		p.depth--
		if len(st.Orelse) > 0 {
			p.line("else:")
			p.depth++
			p.printBody(st.Orelse)
			p.depth--
		}
	case *WhileStmt:
		p.line("while " + p.expr(st.Test) + ":")
		p.depth++
		p.printBody(st.Body)
		p.depth--
		if len(st.Orelse) > 0 {
			p.line("else:")
			p.depth++
			p.printBody(st.Orelse)
			p.depth--
		}
	case *WithStmt:
		items := make([]string, len(st.Items))
		for i, it := range st.Items {
			if it.OptionalVars != nil {
				items[i] = p.expr(it.ContextExpr) + " as " + p.expr(it.OptionalVars)
			} else {
				items[i] = p.expr(it.ContextExpr)
			}
		}
		p.line("with " + strings.Join(items, ", ") + ":")
		p.depth++
		p.printBody(st.Body)
		p.depth--
	case *FunctionDef:
		p.printFunc(st)
	default:
		p.line("<unknown-stmt>")
	}
}

func joinAliases(names []ImportAlias) string {
	parts := make([]string, len(names))
	for i, n := range names {
		if n.AsName != "" {
			parts[i] = n.Name + " as " + n.AsName
		} else {
			parts[i] = n.Name
		}
	}
	return strings.Join(parts, ", ")
}

func (p *printer) expr(e Expr) string {
	switch ex := e.(type) {
	case *Name:
		return ex.Id
	case *Attribute:
		return p.expr(ex.Value) + "." + ex.Attr
	case *Call:
		args := make([]string, 0, len(ex.Args)+len(ex.Keywords))
		for _, a := range ex.Args {
			args = append(args, p.expr(a))
		}
		for _, kw := range ex.Keywords {
			if kw.Arg == "" {
				args = append(args, "**"+p.expr(kw.Value))
			} else {
				args = append(args, kw.Arg+"="+p.expr(kw.Value))
			}
		}
		return p.expr(ex.Func) + "(" + strings.Join(args, ", ") + ")"
	case *Starred:
		return "*" + p.expr(ex.Value)
	case *BinOp:
		return p.expr(ex.Left) + " " + ex.Op + " " + p.expr(ex.Right)
	case *UnaryOp:
		return ex.Op + p.expr(ex.Operand)
	case *BoolOp:
		parts := make([]string, len(ex.Values))
		for i, v := range ex.Values {
			parts[i] = p.expr(v)
		}
		return strings.Join(parts, " "+ex.Op+" ")
	case *Compare:
		var b strings.Builder
		b.WriteString(p.expr(ex.Left))
		for i, op := range ex.Ops {
			b.WriteString(" " + op + " " + p.expr(ex.Comparators[i]))
		}
		return b.String()
	case *IfExp:
		return p.expr(ex.Body) + " if " + p.expr(ex.Test) + " else " + p.expr(ex.Orelse)
	case *Lambda:
		return "lambda " + p.params(ex.Params) + ": " + p.expr(ex.Body)
	case *ListComp:
		return "[" + p.expr(ex.Elt) + p.comprehensions(ex.Generators) + "]"
	case *SetComp:
		return "{" + p.expr(ex.Elt) + p.comprehensions(ex.Generators) + "}"
	case *GeneratorExp:
		return "(" + p.expr(ex.Elt) + p.comprehensions(ex.Generators) + ")"
	case *DictComp:
		return "{" + p.expr(ex.Key) + ": " + p.expr(ex.Value) + p.comprehensions(ex.Generators) + "}"
	case *ListExpr:
		return "[" + p.exprList(ex.Elts) + "]"
	case *TupleExpr:
		if len(ex.Elts) == 1 {
			return "(" + p.expr(ex.Elts[0]) + ",)"
		}
		return "(" + p.exprList(ex.Elts) + ")"
	case *SetExpr:
		return "{" + p.exprList(ex.Elts) + "}"
	case *DictExpr:
		parts := make([]string, len(ex.Values))
		for i, v := range ex.Values {
			if ex.Keys[i] == nil {
				parts[i] = "**" + p.expr(v)
			} else {
				parts[i] = p.expr(ex.Keys[i]) + ": " + p.expr(v)
			}
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Subscript:
		return p.expr(ex.Value) + "[" + p.expr(ex.Index) + "]"
	case *Constant:
		return p.constant(ex)
	default:
		return "<unknown-expr>"
	}
}

func (p *printer) comprehensions(gens []Comprehension) string {
	var b strings.Builder
	for _, g := range gens {
		b.WriteString(" for " + p.expr(g.Target) + " in " + p.expr(g.Iter))
		for _, ifc := range g.Ifs {
			b.WriteString(" if " + p.expr(ifc))
		}
	}
	return b.String()
}

func (p *printer) exprList(elts []Expr) string {
	parts := make([]string, len(elts))
	for i, e := range elts {
		parts[i] = p.expr(e)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) constant(c *Constant) string {
	switch c.Kind {
	case ConstString:
		return quoteString(c.Value)
	case ConstNumber:
		return c.Raw
	case ConstBool:
		return c.Value
	case ConstNone:
		return "None"
	default:
		return ""
	}
}

// quoteString renders a string literal using single quotes, escaping
// embedded quotes and backslashes. This is the one canonical quoting
// style the printer emits, so docstring/string hashing never depends on
// the author's original quote character.
func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString("\\'")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
