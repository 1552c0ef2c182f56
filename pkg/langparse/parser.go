package langparse

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/autonomous-bits/codepool/internal/scanner"
	"github.com/autonomous-bits/codepool/pkg/ast"
)

// Parser parses the function source language. Parser instances can be
// reused across multiple Parse/ParseFile calls; all per-call state lives
// in the local parseState.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser { return &Parser{} }

// ParseFile parses a source file from the filesystem.
func ParseFile(path string) (*ast.Module, error) {
	return NewParser().ParseFile(path)
}

// ParseFile parses a file using this parser instance.
func (p *Parser) ParseFile(path string) (*ast.Module, error) {
	//nolint:gosec // G304: path is controlled by caller, legitimate API surface for file parsing
	f, err := os.Open(path)
	if err != nil {
		return nil, NewParseError(IOError, path, 0, 0, fmt.Sprintf("failed to open file: %v", err))
	}
	defer func() { _ = f.Close() }()
	return p.Parse(f, path)
}

// Parse parses source from an io.Reader. filename is used for diagnostics.
func Parse(r io.Reader, filename string) (*ast.Module, error) {
	return NewParser().Parse(r, filename)
}

// Parse parses using this parser instance.
func (p *Parser) Parse(r io.Reader, filename string) (*ast.Module, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, NewParseError(IOError, filename, 0, 0, fmt.Sprintf("failed to read input: %v", err))
	}

	sc := scanner.New(string(content), filename)
	tokens, err := sc.Tokenize()
	if err != nil {
		if se, ok := err.(*scanner.Error); ok {
			return nil, NewParseError(LexError, filename, se.Line, se.Col, se.Msg)
		}
		return nil, NewParseError(LexError, filename, 0, 0, err.Error())
	}

	st := &parseState{tokens: tokens, filename: filename}
	return st.parseModule()
}

type parseState struct {
	tokens   []scanner.Token
	pos      int
	filename string
	noIn     bool // set while parsing a for/comprehension target
}

func (s *parseState) cur() scanner.Token  { return s.tokens[s.pos] }
func (s *parseState) atEOF() bool         { return s.cur().Kind == scanner.EOF }
func (s *parseState) advance() scanner.Token {
	t := s.tokens[s.pos]
	if s.pos < len(s.tokens)-1 {
		s.pos++
	}
	return t
}

func (s *parseState) errorf(t scanner.Token, format string, args ...any) error {
	return NewParseError(SyntaxError, s.filename, t.Line, t.Col, fmt.Sprintf(format, args...))
}

// errUnsupported reports a construct the grammar recognizes but the
// normalizer's contract excludes, distinct from a plain SyntaxError.
func (s *parseState) errUnsupported(t scanner.Token, construct string) error {
	return NewParseError(UnsupportedConstruct, s.filename, t.Line, t.Col, fmt.Sprintf("%s is not supported", construct))
}

func (s *parseState) peekKeyword(val string, offset int) bool {
	idx := s.pos + offset
	if idx >= len(s.tokens) {
		return false
	}
	t := s.tokens[idx]
	return t.Kind == scanner.KEYWORD && t.Value == val
}

func (s *parseState) span(start, end scanner.Token) ast.SourceSpan {
	return ast.SourceSpan{Filename: s.filename, StartLine: start.Line, StartCol: start.Col, EndLine: end.EndLn, EndCol: end.EndCol}
}

func (s *parseState) isOp(val string) bool {
	t := s.cur()
	return t.Kind == scanner.OP && t.Value == val
}

func (s *parseState) isKeyword(val string) bool {
	t := s.cur()
	return t.Kind == scanner.KEYWORD && t.Value == val
}

func (s *parseState) expectOp(val string) (scanner.Token, error) {
	if !s.isOp(val) {
		return s.cur(), s.errorf(s.cur(), "expected %q, got %q", val, s.cur().Value)
	}
	return s.advance(), nil
}

func (s *parseState) expectKeyword(val string) (scanner.Token, error) {
	if !s.isKeyword(val) {
		return s.cur(), s.errorf(s.cur(), "expected keyword %q, got %q", val, s.cur().Value)
	}
	return s.advance(), nil
}

func (s *parseState) expectIdent() (scanner.Token, error) {
	if s.cur().Kind != scanner.IDENT {
		return s.cur(), s.errorf(s.cur(), "expected identifier, got %q", s.cur().Value)
	}
	return s.advance(), nil
}

func (s *parseState) skipNewlines() {
	for s.cur().Kind == scanner.NEWLINE {
		s.advance()
	}
}

// ---- Module / top level ----

func (s *parseState) parseModule() (*ast.Module, error) {
	start := s.cur()
	var stmts []ast.Stmt
	s.skipNewlines()
	for !s.atEOF() {
		stmt, err := s.parseTopLevel()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
		s.skipNewlines()
	}
	end := s.cur()
	return &ast.Module{Statements: stmts, SourceSpan: s.span(start, end)}, nil
}

func (s *parseState) parseTopLevel() (ast.Stmt, error) {
	if s.isKeyword("class") {
		return nil, s.errUnsupported(s.cur(), "class definitions")
	}
	if s.isKeyword("async") && !s.peekKeyword("def", 1) {
		return nil, s.errUnsupported(s.cur(), "async for/with outside a function body")
	}
	if s.isOp("@") || s.isKeyword("async") || s.isKeyword("def") {
		return s.parseFuncDef()
	}
	if s.isKeyword("import") {
		return s.parseImport()
	}
	if s.isKeyword("from") {
		return s.parseImportFrom()
	}
	return nil, s.errorf(s.cur(), "unexpected top-level token %q", s.cur().Value)
}

func (s *parseState) parseDottedName() (string, error) {
	tok, err := s.expectIdent()
	if err != nil {
		return "", err
	}
	name := tok.Value
	for s.isOp(".") {
		s.advance()
		part, err := s.expectIdent()
		if err != nil {
			return "", err
		}
		name += "." + part.Value
	}
	return name, nil
}

func (s *parseState) parseImport() (ast.Stmt, error) {
	start, _ := s.expectKeyword("import")
	var names []ast.ImportAlias
	for {
		name, err := s.parseDottedName()
		if err != nil {
			return nil, err
		}
		alias := ast.ImportAlias{Name: name}
		if s.isKeyword("as") {
			s.advance()
			asTok, err := s.expectIdent()
			if err != nil {
				return nil, err
			}
			alias.AsName = asTok.Value
		}
		names = append(names, alias)
		if s.isOp(",") {
			s.advance()
			continue
		}
		break
	}
	end := s.cur()
	if err := s.expectStmtEnd(); err != nil {
		return nil, err
	}
	return &ast.ImportStmt{Names: names, SourceSpan: s.span(start, end)}, nil
}

func (s *parseState) parseImportFrom() (ast.Stmt, error) {
	start, _ := s.expectKeyword("from")
	module, err := s.parseDottedName()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectKeyword("import"); err != nil {
		return nil, err
	}
	var names []ast.ImportAlias
	paren := s.isOp("(")
	if paren {
		s.advance()
	}
	for {
		nameTok, err := s.expectIdent()
		if err != nil {
			return nil, err
		}
		alias := ast.ImportAlias{Name: nameTok.Value}
		if s.isKeyword("as") {
			s.advance()
			asTok, err := s.expectIdent()
			if err != nil {
				return nil, err
			}
			alias.AsName = asTok.Value
		}
		names = append(names, alias)
		if s.isOp(",") {
			s.advance()
			continue
		}
		break
	}
	if paren {
		if _, err := s.expectOp(")"); err != nil {
			return nil, err
		}
	}
	end := s.cur()
	if err := s.expectStmtEnd(); err != nil {
		return nil, err
	}
	return &ast.ImportFromStmt{Module: module, Names: names, SourceSpan: s.span(start, end)}, nil
}

func (s *parseState) expectStmtEnd() error {
	if s.cur().Kind == scanner.NEWLINE || s.atEOF() {
		if s.cur().Kind == scanner.NEWLINE {
			s.advance()
		}
		return nil
	}
	return s.errorf(s.cur(), "expected end of statement, got %q", s.cur().Value)
}

// ---- Function definitions ----

func (s *parseState) parseFuncDef() (*ast.FunctionDef, error) {
	start := s.cur()
	var decorators []ast.Expr
	for s.isOp("@") {
		s.advance()
		decTok := s.cur()
		nameTok, err := s.expectIdent()
		if err != nil {
			return nil, err
		}
		// A dotted decorator (@pool.marker) is built as a proper
		// Attribute chain, not a single flattened identifier: the
		// normalizer only ever renames the leftmost Name (a Load
		// reference), never an attribute access (spec.md §4.1), and
		// that requires the attribute structure to be visible here.
		var dec ast.Expr = &ast.Name{Id: nameTok.Value, Ctx: ast.Load, SourceSpan: s.span(decTok, nameTok)}
		for s.isOp(".") {
			s.advance()
			attrTok, err := s.expectIdent()
			if err != nil {
				return nil, err
			}
			dec = &ast.Attribute{Value: dec, Attr: attrTok.Value, SourceSpan: s.span(decTok, attrTok)}
		}
		if s.isOp("(") {
			return nil, s.errUnsupported(s.cur(), "decorator calls with arguments")
		}
		decorators = append(decorators, dec)
		if err := s.expectStmtEnd(); err != nil {
			return nil, err
		}
	}

	async := false
	if s.isKeyword("async") {
		async = true
		s.advance()
	}
	if _, err := s.expectKeyword("def"); err != nil {
		return nil, err
	}
	nameTok, err := s.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp("("); err != nil {
		return nil, err
	}
	params, err := s.parseParams(")")
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp(")"); err != nil {
		return nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	end := s.cur()
	return &ast.FunctionDef{
		Name:       nameTok.Value,
		Async:      async,
		Decorators: decorators,
		Params:     params,
		Body:       body,
		SourceSpan: s.span(start, end),
	}, nil
}

func (s *parseState) parseParams(closer string) (*ast.Arguments, error) {
	args := &ast.Arguments{}
	seenStar := false
	seenSlash := false
	for !s.isOp(closer) {
		if s.isOp("/") {
			s.advance()
			seenSlash = true
			args.PositionalOnly = make([]ast.Param, len(args.PositionalOrKeyword))
			for i, pr := range args.PositionalOrKeyword {
				pr.Kind = ast.ParamPositionalOnly
				args.PositionalOnly[i] = pr
			}
			args.PositionalOrKeyword = nil
			if s.isOp(",") {
				s.advance()
			}
			continue
		}
		if s.isOp("*") && !s.isOpNext("*", 1) {
			s.advance()
			seenStar = true
			if s.cur().Kind == scanner.IDENT {
				p, err := s.parseOneParam(ast.ParamVararg)
				if err != nil {
					return nil, err
				}
				args.Vararg = &p
			}
			if s.isOp(",") {
				s.advance()
			}
			continue
		}
		if s.isOp("**") {
			s.advance()
			p, err := s.parseOneParam(ast.ParamKwarg)
			if err != nil {
				return nil, err
			}
			args.Kwarg = &p
			if s.isOp(",") {
				s.advance()
			}
			continue
		}
		kind := ast.ParamPositionalOrKeyword
		if seenStar {
			kind = ast.ParamKeywordOnly
		}
		p, err := s.parseOneParam(kind)
		if err != nil {
			return nil, err
		}
		if kind == ast.ParamKeywordOnly {
			args.KeywordOnly = append(args.KeywordOnly, p)
		} else {
			args.PositionalOrKeyword = append(args.PositionalOrKeyword, p)
		}
		if s.isOp(",") {
			s.advance()
			continue
		}
		break
	}
	_ = seenSlash
	return args, nil
}

func (s *parseState) isOpNext(val string, offset int) bool {
	idx := s.pos + offset
	if idx >= len(s.tokens) {
		return false
	}
	t := s.tokens[idx]
	return t.Kind == scanner.OP && t.Value == val
}

func (s *parseState) parseOneParam(kind ast.ParamKind) (ast.Param, error) {
	tok, err := s.expectIdent()
	if err != nil {
		return ast.Param{}, err
	}
	p := ast.Param{Name: tok.Value, Kind: kind, SourceSpan: s.span(tok, tok)}
	if s.isOp("=") {
		s.advance()
		def, err := s.parseTest()
		if err != nil {
			return ast.Param{}, err
		}
		p.Default = def
	}
	return p, nil
}

// parseSuite parses either a NEWLINE INDENT stmt+ DEDENT block, or a
// single simple statement on the same line.
func (s *parseState) parseSuite() ([]ast.Stmt, error) {
	if s.cur().Kind == scanner.NEWLINE {
		s.advance()
		if s.cur().Kind != scanner.INDENT {
			return nil, s.errorf(s.cur(), "expected indented block")
		}
		s.advance()
		var stmts []ast.Stmt
		for s.cur().Kind != scanner.DEDENT && !s.atEOF() {
			stmt, err := s.parseStmt()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
		}
		if s.cur().Kind == scanner.DEDENT {
			s.advance()
		}
		return stmts, nil
	}
	stmt, err := s.parseSimpleStmt()
	if err != nil {
		return nil, err
	}
	return []ast.Stmt{stmt}, nil
}

// ---- Statements ----

func (s *parseState) parseStmt() (ast.Stmt, error) {
	switch {
	case s.isKeyword("class"):
		return nil, s.errUnsupported(s.cur(), "class definitions")
	case s.isKeyword("match"):
		return nil, s.errUnsupported(s.cur(), "match statements")
	case s.isKeyword("async") && (s.peekKeyword("for", 1) || s.peekKeyword("with", 1)):
		return nil, s.errUnsupported(s.cur(), "async for/with")
	case s.isKeyword("if"):
		return s.parseIf()
	case s.isKeyword("for"):
		return s.parseFor()
	case s.isKeyword("while"):
		return s.parseWhile()
	case s.isKeyword("with"):
		return s.parseWith()
	case s.isKeyword("def") || s.isKeyword("async") || s.isOp("@"):
		return s.parseFuncDef()
	default:
		return s.parseSimpleStmt()
	}
}

func (s *parseState) parseSimpleStmt() (ast.Stmt, error) {
	start := s.cur()
	var stmt ast.Stmt
	var err error
	switch {
	case s.isKeyword("yield"):
		return nil, s.errUnsupported(s.cur(), "yield")
	case s.isKeyword("pass"):
		s.advance()
		stmt = &ast.PassStmt{SourceSpan: s.span(start, start)}
	case s.isKeyword("break"):
		s.advance()
		stmt = &ast.BreakStmt{SourceSpan: s.span(start, start)}
	case s.isKeyword("continue"):
		s.advance()
		stmt = &ast.ContinueStmt{SourceSpan: s.span(start, start)}
	case s.isKeyword("return"):
		s.advance()
		var val ast.Expr
		if s.cur().Kind != scanner.NEWLINE && !s.atEOF() {
			val, err = s.parseTestList()
			if err != nil {
				return nil, err
			}
		}
		stmt = &ast.ReturnStmt{Value: val, SourceSpan: s.span(start, s.cur())}
	case s.isKeyword("global"):
		s.advance()
		names, e := s.parseNameList()
		if e != nil {
			return nil, e
		}
		stmt = &ast.GlobalStmt{Names: names, SourceSpan: s.span(start, s.cur())}
	case s.isKeyword("nonlocal"):
		s.advance()
		names, e := s.parseNameList()
		if e != nil {
			return nil, e
		}
		stmt = &ast.NonlocalStmt{Names: names, SourceSpan: s.span(start, s.cur())}
	case s.isKeyword("raise"):
		s.advance()
		var exc, cause ast.Expr
		if s.cur().Kind != scanner.NEWLINE && !s.atEOF() {
			exc, err = s.parseTest()
			if err != nil {
				return nil, err
			}
			if s.isKeyword("from") {
				s.advance()
				cause, err = s.parseTest()
				if err != nil {
					return nil, err
				}
			}
		}
		stmt = &ast.RaiseStmt{Exc: exc, Cause: cause, SourceSpan: s.span(start, s.cur())}
	case s.isKeyword("import"):
		return s.parseImport()
	case s.isKeyword("from"):
		return s.parseImportFrom()
	default:
		stmt, err = s.parseExprOrAssignStmt(start)
		if err != nil {
			return nil, err
		}
	}
	if err := s.expectStmtEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (s *parseState) parseNameList() ([]string, error) {
	var names []string
	tok, err := s.expectIdent()
	if err != nil {
		return nil, err
	}
	names = append(names, tok.Value)
	for s.isOp(",") {
		s.advance()
		tok, err := s.expectIdent()
		if err != nil {
			return nil, err
		}
		names = append(names, tok.Value)
	}
	return names, nil
}

var augOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "//=": "//", "%=": "%",
	"**=": "**", ">>=": ">>", "<<=": "<<", "&=": "&", "|=": "|", "^=": "^",
}

func (s *parseState) parseExprOrAssignStmt(start scanner.Token) (ast.Stmt, error) {
	first, err := s.parseTestListAsTargetOrExpr()
	if err != nil {
		return nil, err
	}
	if s.cur().Kind == scanner.OP {
		if op, ok := augOps[s.cur().Value]; ok {
			s.advance()
			val, err := s.parseTestList()
			if err != nil {
				return nil, err
			}
			return &ast.AugAssign{Target: first, Op: op, Value: val, SourceSpan: s.span(start, s.cur())}, nil
		}
		if s.isOp("=") {
			targets := []ast.Expr{toStoreCtx(first)}
			var value ast.Expr
			for s.isOp("=") {
				s.advance()
				value, err = s.parseTestListAsTargetOrExpr()
				if err != nil {
					return nil, err
				}
				if s.isOp("=") {
					targets = append(targets, toStoreCtx(value))
				}
			}
			return &ast.Assign{Targets: targets, Value: value, SourceSpan: s.span(start, s.cur())}, nil
		}
	}
	return &ast.ExprStmt{Value: first, SourceSpan: s.span(start, s.cur())}, nil
}

// toStoreCtx rewrites a Name's Ctx to Store for use as an assignment target.
func toStoreCtx(e ast.Expr) ast.Expr {
	if n, ok := e.(*ast.Name); ok {
		return &ast.Name{Id: n.Id, Ctx: ast.Store, SourceSpan: n.SourceSpan}
	}
	if t, ok := e.(*ast.TupleExpr); ok {
		elts := make([]ast.Expr, len(t.Elts))
		for i, el := range t.Elts {
			elts[i] = toStoreCtx(el)
		}
		return &ast.TupleExpr{Elts: elts, SourceSpan: t.SourceSpan}
	}
	if l, ok := e.(*ast.ListExpr); ok {
		elts := make([]ast.Expr, len(l.Elts))
		for i, el := range l.Elts {
			elts[i] = toStoreCtx(el)
		}
		return &ast.ListExpr{Elts: elts, SourceSpan: l.SourceSpan}
	}
	if st, ok := e.(*ast.Starred); ok {
		return &ast.Starred{Value: toStoreCtx(st.Value), SourceSpan: st.SourceSpan}
	}
	return e
}

func (s *parseState) parseIf() (ast.Stmt, error) {
	start, _ := s.expectKeyword("if")
	test, err := s.parseTest()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	var orelse []ast.Stmt
	if s.isKeyword("elif") {
		elifStart := s.cur()
		nested, err := s.parseElif()
		if err != nil {
			return nil, err
		}
		orelse = []ast.Stmt{nested}
		_ = elifStart
	} else if s.isKeyword("else") {
		s.advance()
		if _, err := s.expectOp(":"); err != nil {
			return nil, err
		}
		orelse, err = s.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &ast.IfStmt{Test: test, Body: body, Orelse: orelse, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseElif() (ast.Stmt, error) {
	start, _ := s.expectKeyword("elif")
	test, err := s.parseTest()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	var orelse []ast.Stmt
	if s.isKeyword("elif") {
		nested, err := s.parseElif()
		if err != nil {
			return nil, err
		}
		orelse = []ast.Stmt{nested}
	} else if s.isKeyword("else") {
		s.advance()
		if _, err := s.expectOp(":"); err != nil {
			return nil, err
		}
		orelse, err = s.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &ast.IfStmt{Test: test, Body: body, Orelse: orelse, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseFor() (ast.Stmt, error) {
	start, _ := s.expectKeyword("for")
	s.noIn = true
	target, err := s.parseTestListAsTargetOrExpr()
	s.noIn = false
	if err != nil {
		return nil, err
	}
	target = toStoreCtx(target)
	if _, err := s.expectKeyword("in"); err != nil {
		return nil, err
	}
	iter, err := s.parseTestList()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	var orelse []ast.Stmt
	if s.isKeyword("else") {
		s.advance()
		if _, err := s.expectOp(":"); err != nil {
			return nil, err
		}
		orelse, err = s.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &ast.ForStmt{Target: target, Iter: iter, Body: body, Orelse: orelse, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseWhile() (ast.Stmt, error) {
	start, _ := s.expectKeyword("while")
	test, err := s.parseTest()
	if err != nil {
		return nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	var orelse []ast.Stmt
	if s.isKeyword("else") {
		s.advance()
		if _, err := s.expectOp(":"); err != nil {
			return nil, err
		}
		orelse, err = s.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &ast.WhileStmt{Test: test, Body: body, Orelse: orelse, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseWith() (ast.Stmt, error) {
	start, _ := s.expectKeyword("with")
	var items []ast.WithItem
	for {
		ctxExpr, err := s.parseTest()
		if err != nil {
			return nil, err
		}
		item := ast.WithItem{ContextExpr: ctxExpr}
		if s.isKeyword("as") {
			s.advance()
			target, err := s.parseAtomExpr()
			if err != nil {
				return nil, err
			}
			item.OptionalVars = toStoreCtx(target)
		}
		items = append(items, item)
		if s.isOp(",") {
			s.advance()
			continue
		}
		break
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseSuite()
	if err != nil {
		return nil, err
	}
	return &ast.WithStmt{Items: items, Body: body, SourceSpan: s.span(start, s.cur())}, nil
}

// ---- Expressions (precedence climbing) ----

// parseTestListAsTargetOrExpr parses a test (or comma-separated tuple of
// tests) without consuming a trailing '=' — used both for plain
// expression statements and for assignment targets.
func (s *parseState) parseTestListAsTargetOrExpr() (ast.Expr, error) {
	return s.parseTestList()
}

func (s *parseState) parseTestList() (ast.Expr, error) {
	start := s.cur()
	first, err := s.parseTestOrStar()
	if err != nil {
		return nil, err
	}
	if !s.isOp(",") {
		return first, nil
	}
	elts := []ast.Expr{first}
	for s.isOp(",") {
		s.advance()
		if s.isStmtTerminator() {
			break
		}
		next, err := s.parseTestOrStar()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	return &ast.TupleExpr{Elts: elts, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) isStmtTerminator() bool {
	t := s.cur()
	if t.Kind == scanner.NEWLINE || t.Kind == scanner.EOF {
		return true
	}
	if t.Kind == scanner.OP && (t.Value == ":" || t.Value == ")" || t.Value == "]" || t.Value == "}" || t.Value == "=") {
		return true
	}
	if t.Kind == scanner.KEYWORD && (t.Value == "in" || t.Value == "for") {
		return true
	}
	return false
}

func (s *parseState) parseTestOrStar() (ast.Expr, error) {
	if s.isOp("*") {
		start := s.advance()
		val, err := s.parseTest()
		if err != nil {
			return nil, err
		}
		return &ast.Starred{Value: val, SourceSpan: s.span(start, s.cur())}, nil
	}
	return s.parseTest()
}

func (s *parseState) parseTest() (ast.Expr, error) {
	if s.isKeyword("lambda") {
		return s.parseLambda()
	}
	start := s.cur()
	body, err := s.parseOrTest()
	if err != nil {
		return nil, err
	}
	if s.isOp(":=") {
		return nil, s.errUnsupported(s.cur(), "walrus assignment")
	}
	if s.isKeyword("if") {
		s.advance()
		test, err := s.parseOrTest()
		if err != nil {
			return nil, err
		}
		if _, err := s.expectKeyword("else"); err != nil {
			return nil, err
		}
		orelse, err := s.parseTest()
		if err != nil {
			return nil, err
		}
		return &ast.IfExp{Test: test, Body: body, Orelse: orelse, SourceSpan: s.span(start, s.cur())}, nil
	}
	return body, nil
}

func (s *parseState) parseLambda() (ast.Expr, error) {
	start, _ := s.expectKeyword("lambda")
	args := &ast.Arguments{}
	if !s.isOp(":") {
		parsed, err := s.parseParams(":")
		if err != nil {
			return nil, err
		}
		args = parsed
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, err
	}
	body, err := s.parseTest()
	if err != nil {
		return nil, err
	}
	return &ast.Lambda{Params: args, Body: body, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseOrTest() (ast.Expr, error) {
	start := s.cur()
	first, err := s.parseAndTest()
	if err != nil {
		return nil, err
	}
	if !s.isKeyword("or") {
		return first, nil
	}
	values := []ast.Expr{first}
	for s.isKeyword("or") {
		s.advance()
		next, err := s.parseAndTest()
		if err != nil {
			return nil, err
		}
		values = append(values, next)
	}
	return &ast.BoolOp{Op: "or", Values: values, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseAndTest() (ast.Expr, error) {
	start := s.cur()
	first, err := s.parseNotTest()
	if err != nil {
		return nil, err
	}
	if !s.isKeyword("and") {
		return first, nil
	}
	values := []ast.Expr{first}
	for s.isKeyword("and") {
		s.advance()
		next, err := s.parseNotTest()
		if err != nil {
			return nil, err
		}
		values = append(values, next)
	}
	return &ast.BoolOp{Op: "and", Values: values, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseNotTest() (ast.Expr, error) {
	if s.isKeyword("not") {
		start := s.advance()
		operand, err := s.parseNotTest()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: "not ", Operand: operand, SourceSpan: s.span(start, s.cur())}, nil
	}
	return s.parseComparison()
}

var compareOps = map[string]bool{"<": true, ">": true, "==": true, ">=": true, "<=": true, "!=": true}

func (s *parseState) parseComparison() (ast.Expr, error) {
	start := s.cur()
	left, err := s.parseBitOr()
	if err != nil {
		return nil, err
	}
	var ops []string
	var comparators []ast.Expr
	for {
		op, ok, err := s.peekCompareOp()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		next, err := s.parseBitOr()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		comparators = append(comparators, next)
	}
	if len(ops) == 0 {
		return left, nil
	}
	return &ast.Compare{Left: left, Ops: ops, Comparators: comparators, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) peekCompareOp() (string, bool, error) {
	t := s.cur()
	if t.Kind == scanner.OP && compareOps[t.Value] {
		s.advance()
		return t.Value, true, nil
	}
	if t.Kind == scanner.KEYWORD && t.Value == "in" && !s.noIn {
		s.advance()
		return "in", true, nil
	}
	if t.Kind == scanner.KEYWORD && t.Value == "is" {
		s.advance()
		if s.isKeyword("not") {
			s.advance()
			return "is not", true, nil
		}
		return "is", true, nil
	}
	if t.Kind == scanner.KEYWORD && t.Value == "not" {
		save := s.pos
		s.advance()
		if s.isKeyword("in") {
			s.advance()
			return "not in", true, nil
		}
		s.pos = save
		return "", false, nil
	}
	return "", false, nil
}

func (s *parseState) parseBitOr() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"|"}, s.parseBitXor)
}
func (s *parseState) parseBitXor() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"^"}, s.parseBitAnd)
}
func (s *parseState) parseBitAnd() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"&"}, s.parseShift)
}
func (s *parseState) parseShift() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"<<", ">>"}, s.parseArith)
}
func (s *parseState) parseArith() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"+", "-"}, s.parseTerm)
}
func (s *parseState) parseTerm() (ast.Expr, error) {
	return s.parseBinaryLevel([]string{"*", "/", "//", "%"}, s.parseFactor)
}

func (s *parseState) parseBinaryLevel(ops []string, next func() (ast.Expr, error)) (ast.Expr, error) {
	start := s.cur()
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		if s.cur().Kind == scanner.OP {
			for _, op := range ops {
				if s.cur().Value == op {
					matched = op
					break
				}
			}
		}
		if matched == "" {
			return left, nil
		}
		s.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &ast.BinOp{Left: left, Op: matched, Right: right, SourceSpan: s.span(start, s.cur())}
	}
}

func (s *parseState) parseFactor() (ast.Expr, error) {
	if s.isOp("+") || s.isOp("-") || s.isOp("~") {
		start := s.advance()
		operand, err := s.parseFactor()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: start.Value, Operand: operand, SourceSpan: s.span(start, s.cur())}, nil
	}
	return s.parsePower()
}

func (s *parseState) parsePower() (ast.Expr, error) {
	start := s.cur()
	base, err := s.parseAtomExpr()
	if err != nil {
		return nil, err
	}
	if s.isOp("**") {
		s.advance()
		exp, err := s.parseFactor()
		if err != nil {
			return nil, err
		}
		return &ast.BinOp{Left: base, Op: "**", Right: exp, SourceSpan: s.span(start, s.cur())}, nil
	}
	return base, nil
}

// parseAtomExpr parses an atom followed by any number of trailers:
// attribute access, call, subscript.
func (s *parseState) parseAtomExpr() (ast.Expr, error) {
	start := s.cur()
	expr, err := s.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case s.isOp("."):
			s.advance()
			attrTok, err := s.expectIdent()
			if err != nil {
				return nil, err
			}
			expr = &ast.Attribute{Value: expr, Attr: attrTok.Value, SourceSpan: s.span(start, s.cur())}
		case s.isOp("("):
			s.advance()
			args, keywords, err := s.parseCallArgs()
			if err != nil {
				return nil, err
			}
			if _, err := s.expectOp(")"); err != nil {
				return nil, err
			}
			expr = &ast.Call{Func: expr, Args: args, Keywords: keywords, SourceSpan: s.span(start, s.cur())}
		case s.isOp("["):
			s.advance()
			idx, err := s.parseTestList()
			if err != nil {
				return nil, err
			}
			if _, err := s.expectOp("]"); err != nil {
				return nil, err
			}
			expr = &ast.Subscript{Value: expr, Index: idx, SourceSpan: s.span(start, s.cur())}
		default:
			return expr, nil
		}
	}
}

func (s *parseState) parseCallArgs() ([]ast.Expr, []ast.Keyword, error) {
	var args []ast.Expr
	var keywords []ast.Keyword
	for !s.isOp(")") {
		if s.isOp("**") {
			s.advance()
			val, err := s.parseTest()
			if err != nil {
				return nil, nil, err
			}
			keywords = append(keywords, ast.Keyword{Arg: "", Value: val})
		} else if s.isOp("*") {
			s.advance()
			val, err := s.parseTest()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, &ast.Starred{Value: val, SourceSpan: val.Span()})
		} else if s.cur().Kind == scanner.IDENT && s.isOpNext("=", 1) {
			nameTok := s.advance()
			s.advance() // '='
			val, err := s.parseTest()
			if err != nil {
				return nil, nil, err
			}
			keywords = append(keywords, ast.Keyword{Arg: nameTok.Value, Value: val})
		} else {
			val, err := s.parseTest()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, val)
		}
		if s.isOp(",") {
			s.advance()
			continue
		}
		break
	}
	return args, keywords, nil
}

var fStringPrefixes = map[string]bool{
	"f": true, "F": true, "rf": true, "Rf": true, "rF": true, "RF": true,
	"fr": true, "fR": true, "Fr": true, "FR": true,
}

// isFStringPrefix reports whether t is a string-prefix identifier
// (f, rf, fr, ...) immediately followed by a string literal with no
// space in between, i.e. the lexer split what is really one f-string
// token into an IDENT and a STRING.
func (s *parseState) isFStringPrefix(t scanner.Token) bool {
	if !fStringPrefixes[t.Value] {
		return false
	}
	idx := s.pos + 1
	if idx >= len(s.tokens) {
		return false
	}
	next := s.tokens[idx]
	return next.Kind == scanner.STRING && next.Line == t.EndLn && next.Col == t.EndCol
}

func (s *parseState) parseAtom() (ast.Expr, error) {
	t := s.cur()
	switch {
	case t.Kind == scanner.KEYWORD && t.Value == "yield":
		return nil, s.errUnsupported(t, "yield")
	case t.Kind == scanner.IDENT && s.isFStringPrefix(t):
		return nil, s.errUnsupported(t, "f-strings")
	case t.Kind == scanner.IDENT:
		s.advance()
		return &ast.Name{Id: t.Value, Ctx: ast.Load, SourceSpan: s.span(t, t)}, nil
	case t.Kind == scanner.KEYWORD && (t.Value == "True" || t.Value == "False"):
		s.advance()
		return &ast.Constant{Kind: ast.ConstBool, Value: t.Value, Raw: t.Value, SourceSpan: s.span(t, t)}, nil
	case t.Kind == scanner.KEYWORD && t.Value == "None":
		s.advance()
		return &ast.Constant{Kind: ast.ConstNone, Value: "None", Raw: "None", SourceSpan: s.span(t, t)}, nil
	case t.Kind == scanner.NUMBER:
		s.advance()
		return &ast.Constant{Kind: ast.ConstNumber, Value: t.Value, Raw: t.Value, SourceSpan: s.span(t, t)}, nil
	case t.Kind == scanner.STRING:
		s.advance()
		// Adjacent string literal concatenation, as in "a" "b".
		value := t.Value
		for s.cur().Kind == scanner.STRING {
			value += s.advance().Value
		}
		return &ast.Constant{Kind: ast.ConstString, Value: value, Raw: strconv.Quote(value), SourceSpan: s.span(t, t)}, nil
	case t.Kind == scanner.OP && t.Value == "(":
		return s.parseParenOrGenerator()
	case t.Kind == scanner.OP && t.Value == "[":
		return s.parseListOrComp()
	case t.Kind == scanner.OP && t.Value == "{":
		return s.parseDictOrSetOrComp()
	}
	return nil, s.errorf(t, "unexpected token %q", t.Value)
}

func (s *parseState) parseParenOrGenerator() (ast.Expr, error) {
	start, _ := s.expectOp("(")
	if s.isOp(")") {
		s.advance()
		return &ast.TupleExpr{SourceSpan: s.span(start, s.cur())}, nil
	}
	first, err := s.parseTestOrStar()
	if err != nil {
		return nil, err
	}
	if s.isKeyword("for") {
		gens, err := s.parseComprehensions()
		if err != nil {
			return nil, err
		}
		if _, err := s.expectOp(")"); err != nil {
			return nil, err
		}
		return &ast.GeneratorExp{Elt: first, Generators: gens, SourceSpan: s.span(start, s.cur())}, nil
	}
	if s.isOp(",") {
		elts := []ast.Expr{first}
		for s.isOp(",") {
			s.advance()
			if s.isOp(")") {
				break
			}
			next, err := s.parseTestOrStar()
			if err != nil {
				return nil, err
			}
			elts = append(elts, next)
		}
		if _, err := s.expectOp(")"); err != nil {
			return nil, err
		}
		return &ast.TupleExpr{Elts: elts, SourceSpan: s.span(start, s.cur())}, nil
	}
	if _, err := s.expectOp(")"); err != nil {
		return nil, err
	}
	return first, nil
}

func (s *parseState) parseListOrComp() (ast.Expr, error) {
	start, _ := s.expectOp("[")
	if s.isOp("]") {
		s.advance()
		return &ast.ListExpr{SourceSpan: s.span(start, s.cur())}, nil
	}
	first, err := s.parseTestOrStar()
	if err != nil {
		return nil, err
	}
	if s.isKeyword("for") {
		gens, err := s.parseComprehensions()
		if err != nil {
			return nil, err
		}
		if _, err := s.expectOp("]"); err != nil {
			return nil, err
		}
		return &ast.ListComp{Elt: first, Generators: gens, SourceSpan: s.span(start, s.cur())}, nil
	}
	elts := []ast.Expr{first}
	for s.isOp(",") {
		s.advance()
		if s.isOp("]") {
			break
		}
		next, err := s.parseTestOrStar()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	if _, err := s.expectOp("]"); err != nil {
		return nil, err
	}
	return &ast.ListExpr{Elts: elts, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseDictOrSetOrComp() (ast.Expr, error) {
	start, _ := s.expectOp("{")
	if s.isOp("}") {
		s.advance()
		return &ast.DictExpr{SourceSpan: s.span(start, s.cur())}, nil
	}
	if s.isOp("**") {
		s.advance()
		val, err := s.parseOrTest()
		if err != nil {
			return nil, err
		}
		keys := []ast.Expr{nil}
		values := []ast.Expr{val}
		for s.isOp(",") {
			s.advance()
			if s.isOp("}") {
				break
			}
			if s.isOp("**") {
				s.advance()
				v, err := s.parseOrTest()
				if err != nil {
					return nil, err
				}
				keys = append(keys, nil)
				values = append(values, v)
				continue
			}
			k, v, err := s.parseDictEntry()
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			values = append(values, v)
		}
		if _, err := s.expectOp("}"); err != nil {
			return nil, err
		}
		return &ast.DictExpr{Keys: keys, Values: values, SourceSpan: s.span(start, s.cur())}, nil
	}

	firstKey, err := s.parseTest()
	if err != nil {
		return nil, err
	}
	if s.isOp(":") {
		s.advance()
		firstVal, err := s.parseTest()
		if err != nil {
			return nil, err
		}
		if s.isKeyword("for") {
			gens, err := s.parseComprehensions()
			if err != nil {
				return nil, err
			}
			if _, err := s.expectOp("}"); err != nil {
				return nil, err
			}
			return &ast.DictComp{Key: firstKey, Value: firstVal, Generators: gens, SourceSpan: s.span(start, s.cur())}, nil
		}
		keys := []ast.Expr{firstKey}
		values := []ast.Expr{firstVal}
		for s.isOp(",") {
			s.advance()
			if s.isOp("}") {
				break
			}
			k, v, err := s.parseDictEntry()
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			values = append(values, v)
		}
		if _, err := s.expectOp("}"); err != nil {
			return nil, err
		}
		return &ast.DictExpr{Keys: keys, Values: values, SourceSpan: s.span(start, s.cur())}, nil
	}
	// Set literal / set comprehension.
	if s.isKeyword("for") {
		gens, err := s.parseComprehensions()
		if err != nil {
			return nil, err
		}
		if _, err := s.expectOp("}"); err != nil {
			return nil, err
		}
		return &ast.SetComp{Elt: firstKey, Generators: gens, SourceSpan: s.span(start, s.cur())}, nil
	}
	elts := []ast.Expr{firstKey}
	for s.isOp(",") {
		s.advance()
		if s.isOp("}") {
			break
		}
		next, err := s.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, next)
	}
	if _, err := s.expectOp("}"); err != nil {
		return nil, err
	}
	return &ast.SetExpr{Elts: elts, SourceSpan: s.span(start, s.cur())}, nil
}

func (s *parseState) parseDictEntry() (ast.Expr, ast.Expr, error) {
	k, err := s.parseTest()
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.expectOp(":"); err != nil {
		return nil, nil, err
	}
	v, err := s.parseTest()
	if err != nil {
		return nil, nil, err
	}
	return k, v, nil
}

func (s *parseState) parseComprehensions() ([]ast.Comprehension, error) {
	var gens []ast.Comprehension
	for s.isKeyword("for") {
		s.advance()
		s.noIn = true
		target, err := s.parseTestList()
		s.noIn = false
		if err != nil {
			return nil, err
		}
		target = toStoreCtx(target)
		if _, err := s.expectKeyword("in"); err != nil {
			return nil, err
		}
		iter, err := s.parseOrTest()
		if err != nil {
			return nil, err
		}
		comp := ast.Comprehension{Target: target, Iter: iter}
		for s.isKeyword("if") {
			s.advance()
			cond, err := s.parseOrTest()
			if err != nil {
				return nil, err
			}
			comp.Ifs = append(comp.Ifs, cond)
		}
		gens = append(gens, comp)
	}
	return gens, nil
}
