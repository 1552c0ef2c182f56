// Package migrate upgrades schema v0 pool records to v1 and validates
// stored objects' structural integrity (spec.md §4.6). Its separate
// dependency cycle detector, DependencyGraph, is grounded on the
// DFS-with-recursion-stack cycle detector in
// libs/compiler/internal/validator/validator.go; Validate does not run
// a cycle check.
package migrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/autonomous-bits/codepool/internal/config"
	"github.com/autonomous-bits/codepool/internal/shard"
	"github.com/autonomous-bits/codepool/pkg/ast"
	"github.com/autonomous-bits/codepool/pkg/hasher"
	"github.com/autonomous-bits/codepool/pkg/langparse"
	"github.com/autonomous-bits/codepool/pkg/pool"
)

var canonicalPattern = regexp.MustCompile(`^_` + config.PREFIX + `_v_[0-9]+$`)

// V0LanguageEntry is one language's mapping inside a v0 record.
type V0LanguageEntry struct {
	Docstring    string            `json:"docstring"`
	NameMapping  pool.NameMapping  `json:"name_mapping"`
	AliasMapping map[string]string `json:"alias_mapping,omitempty"`
}

// V0Record is the legacy single-file-per-function schema: a function
// hash, its normalized code with the docstring embedded verbatim (not
// sentinelized), and one language entry per human-language variant
// (spec.md §4.6: "A v0 record is a single JSON file carrying: function
// hash, normalized code ..., and per-language docstring, name_mapping,
// alias_mapping tables").
type V0Record struct {
	Hash           string                      `json:"hash"`
	NormalizedCode string                      `json:"normalized_code"`
	Languages      map[string]V0LanguageEntry  `json:"languages"`
}

func v0Path(root, hash string) (string, error) {
	p, err := shard.Path(filepath.Join(root, "objects"), hash)
	if err != nil {
		return "", err
	}
	return p + ".json", nil
}

// LoadV0 reads the v0 record stored for hash under root.
func LoadV0(root, hash string) (*V0Record, error) {
	path, err := v0Path(root, hash)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path) //nolint:gosec // path built from validated hash
	if err != nil {
		return nil, err
	}
	var rec V0Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Options configures one migration run.
type Options struct {
	// DryRun reports what would happen without writing anything.
	DryRun bool
	// KeepV0 leaves the v0 file in place instead of renaming it to a
	// ".bak" sibling after a successful migration.
	KeepV0 bool
	// Author is recorded on the freshly built v1 object.json.
	Author string
}

// Result reports the outcome of migrating one v0 record.
type Result struct {
	Hash    string
	Skipped bool // already v1
}

// SentinelizeAndSplit parses code (a v0 normalized_code with the
// author's real docstring embedded), and returns both the v1 form
// (docstring replaced by the sentinel) and the hash-input form (the
// docstring statement removed entirely), matching pkg/normalize's two
// normalized forms.
func SentinelizeAndSplit(code string) (withSentinel string, noDocstring string, err error) {
	mod, err := langparse.Parse(strings.NewReader(code), "<v0>")
	if err != nil {
		return "", "", err
	}
	fns := mod.Functions()
	if len(fns) != 1 {
		return "", "", &ErrMigrationFailed{Reason: "v0 normalized code does not contain exactly one function"}
	}
	fn := fns[0]
	body := fn.Body
	var rest []ast.Stmt
	hadDocstring := false
	if len(body) > 0 {
		if exprStmt, ok := body[0].(*ast.ExprStmt); ok {
			if cst, ok := exprStmt.Value.(*ast.Constant); ok && cst.Kind == ast.ConstString {
				hadDocstring = true
				rest = body[1:]
			}
		}
	}
	if !hadDocstring {
		rest = body
	}

	noDoc := *fn
	noDoc.Body = rest
	noDocstring = ast.Print(&ast.Module{Statements: append(append([]ast.Stmt{}, preambleOf(mod)...), &noDoc)})

	sentinel := *fn
	sentinelStmt := &ast.ExprStmt{Value: &ast.Constant{Kind: ast.ConstString, Value: config.DocstringSentinel}}
	sentinel.Body = append([]ast.Stmt{sentinelStmt}, rest...)
	withSentinel = ast.Print(&ast.Module{Statements: append(append([]ast.Stmt{}, preambleOf(mod)...), &sentinel)})

	return withSentinel, noDocstring, nil
}

func preambleOf(mod *ast.Module) []ast.Stmt {
	return mod.Imports()
}

// MigrateV0ToV1 upgrades the v0 record stored for hash to a v1 object
// plus one mapping per recorded language (spec.md §4.6
// migrate_v0_to_v1). With Options.DryRun, no filesystem writes occur.
func MigrateV0ToV1(store *pool.Store, root, hash string, opts Options) (*Result, error) {
	version, err := pool.DetectVersion(root, hash)
	if err != nil {
		return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
	}
	if version == config.SchemaVersionV1 {
		return &Result{Hash: hash, Skipped: true}, nil
	}

	rec, err := LoadV0(root, hash)
	if err != nil {
		return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
	}

	withSentinel, noDocstring, err := SentinelizeAndSplit(rec.NormalizedCode)
	if err != nil {
		return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
	}
	recomputed := hasher.FunctionHash(noDocstring)
	if recomputed != rec.Hash || rec.Hash != hash {
		return nil, &ErrMigrationFailed{Hash: hash, Reason: "stored hash does not match recomputed hash"}
	}

	if opts.DryRun {
		return &Result{Hash: hash}, nil
	}

	obj := pool.Object{
		SchemaVersion:  1,
		Hash:           hash,
		HashAlgorithm:  config.SHA256,
		NormalizedCode: withSentinel,
		Metadata: pool.ObjectMetadata{
			Created: time.Now().UTC(),
			Author:  opts.Author,
		},
	}
	if err := store.SaveFunction(obj); err != nil {
		return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
	}

	langs := make([]string, 0, len(rec.Languages))
	for lang := range rec.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		entry := rec.Languages[lang]
		m := pool.Mapping{
			Docstring:    entry.Docstring,
			NameMapping:  entry.NameMapping,
			AliasMapping: entry.AliasMapping,
		}
		if _, err := store.SaveMapping(hash, lang, m); err != nil {
			return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
		}
	}

	if !opts.KeepV0 {
		v0p, err := v0Path(root, hash)
		if err != nil {
			return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
		}
		if err := os.Rename(v0p, v0p+".bak"); err != nil {
			return nil, &ErrMigrationFailed{Hash: hash, Reason: err.Error()}
		}
	}

	return &Result{Hash: hash}, nil
}

// Summary reports aggregate counts across a MigrateAll run.
type Summary struct {
	Migrated int
	Skipped  int
	Failed   int
	Failures []error
}

// MigrateAll enumerates every v0 record under root and migrates each
// (spec.md §4.6 migrate_all). ctx is checked between records so a long
// migration run can be cancelled by its caller.
func MigrateAll(ctx context.Context, store *pool.Store, root string, opts Options) (*Summary, error) {
	hashes, err := listV0Hashes(root)
	if err != nil {
		return nil, err
	}
	summary := &Summary{}
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := MigrateV0ToV1(store, root, hash, opts)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, err)
			continue
		}
		if result.Skipped {
			summary.Skipped++
		} else {
			summary.Migrated++
		}
	}
	return summary, nil
}

// listV0Hashes walks objects/ for sibling "<rest>.json" files (the v0
// layout) and reconstructs the full hash from the shard directory name
// plus the file stem.
func listV0Hashes(root string) ([]string, error) {
	objectsRoot := filepath.Join(root, "objects")
	shards, err := os.ReadDir(objectsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, sh := range shards {
		if !sh.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(objectsRoot, sh.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			out = append(out, sh.Name()+strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Validate checks one stored function's structural integrity (spec.md
// §4.6 validate): the object parses and its hash matches its path, it
// carries at least one language with at least one mapping, every
// mapping rehashes to its own path, every canonical identifier in the
// code appears in at least one mapping's name_mapping, and every
// pool-import call site's hash is covered by alias_mapping in every
// mapping.
func Validate(store *pool.Store, hash string) error {
	obj, err := store.FunctionLoad(hash)
	if err != nil {
		return &ErrValidationFailed{Hash: hash, Reason: err.Error()}
	}
	if obj.Hash != hash {
		return &ErrValidationFailed{Hash: hash, Reason: "object hash does not match its directory"}
	}

	languages, err := store.Languages(hash)
	if err != nil || len(languages) == 0 {
		return &ErrValidationFailed{Hash: hash, Reason: "no language variants stored"}
	}

	mod, err := langparse.Parse(strings.NewReader(obj.NormalizedCode), "<normalized>")
	if err != nil {
		return &ErrValidationFailed{Hash: hash, Reason: "normalized_code does not parse: " + err.Error()}
	}
	fns := mod.Functions()
	if len(fns) != 1 {
		return &ErrValidationFailed{Hash: hash, Reason: "normalized_code does not contain exactly one function"}
	}
	identifiers := collectCanonicalIdentifiers(fns[0])
	aliasHashes := collectPoolCallHashes(fns[0])

	coveredIdentifiers := map[string]bool{}
	for _, lang := range languages {
		mappingHashes, err := store.Mappings(hash, lang)
		if err != nil || len(mappingHashes) == 0 {
			return &ErrValidationFailed{Hash: hash, Reason: "language " + lang + " has no mappings"}
		}
		for _, mh := range mappingHashes {
			m, err := store.MappingLoad(hash, lang, mh)
			if err != nil {
				return &ErrValidationFailed{Hash: hash, Reason: err.Error()}
			}
			for _, b := range m.NameMapping {
				coveredIdentifiers[b.Canonical] = true
			}
			for _, h := range aliasHashes {
				if _, ok := m.AliasMapping[h]; !ok {
					return &ErrValidationFailed{
						Hash:   hash,
						Reason: "mapping " + mh + " for language " + lang + " is missing alias for referenced object " + h,
					}
				}
			}
		}
	}
	for _, id := range identifiers {
		if !coveredIdentifiers[id] {
			return &ErrValidationFailed{Hash: hash, Reason: "canonical identifier " + id + " is not named in any mapping"}
		}
	}
	return nil
}

func collectCanonicalIdentifiers(fn *ast.FunctionDef) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if canonicalPattern.MatchString(name) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(fn.Name)
	for _, p := range fn.Params.All() {
		add(p.Name)
	}
	walkIdentifiers(fn.Body, add)
	return out
}

func walkIdentifiers(stmts []ast.Stmt, add func(string)) {
	for _, s := range stmts {
		switch st := s.(type) {
		case *ast.ExprStmt:
			walkExprIdentifiers(st.Value, add)
		case *ast.Assign:
			for _, t := range st.Targets {
				walkExprIdentifiers(t, add)
			}
			walkExprIdentifiers(st.Value, add)
		case *ast.AugAssign:
			walkExprIdentifiers(st.Target, add)
			walkExprIdentifiers(st.Value, add)
		case *ast.ReturnStmt:
			walkExprIdentifiers(st.Value, add)
		case *ast.GlobalStmt:
			for _, n := range st.Names {
				add(n)
			}
		case *ast.NonlocalStmt:
			for _, n := range st.Names {
				add(n)
			}
		case *ast.RaiseStmt:
			walkExprIdentifiers(st.Exc, add)
			walkExprIdentifiers(st.Cause, add)
		case *ast.IfStmt:
			walkExprIdentifiers(st.Test, add)
			walkIdentifiers(st.Body, add)
			walkIdentifiers(st.Orelse, add)
		case *ast.ForStmt:
			walkExprIdentifiers(st.Target, add)
			walkExprIdentifiers(st.Iter, add)
			walkIdentifiers(st.Body, add)
			walkIdentifiers(st.Orelse, add)
		case *ast.WhileStmt:
			walkExprIdentifiers(st.Test, add)
			walkIdentifiers(st.Body, add)
			walkIdentifiers(st.Orelse, add)
		case *ast.WithStmt:
			for _, item := range st.Items {
				walkExprIdentifiers(item.ContextExpr, add)
				walkExprIdentifiers(item.OptionalVars, add)
			}
			walkIdentifiers(st.Body, add)
		case *ast.FunctionDef:
			add(st.Name)
			for _, p := range st.Params.All() {
				add(p.Name)
			}
			walkIdentifiers(st.Body, add)
		}
	}
}

func walkExprIdentifiers(e ast.Expr, add func(string)) {
	if e == nil {
		return
	}
	switch ex := e.(type) {
	case *ast.Name:
		add(ex.Id)
	case *ast.Attribute:
		walkExprIdentifiers(ex.Value, add)
	case *ast.Call:
		walkExprIdentifiers(ex.Func, add)
		for _, a := range ex.Args {
			walkExprIdentifiers(a, add)
		}
		for _, kw := range ex.Keywords {
			walkExprIdentifiers(kw.Value, add)
		}
	case *ast.Starred:
		walkExprIdentifiers(ex.Value, add)
	case *ast.BinOp:
		walkExprIdentifiers(ex.Left, add)
		walkExprIdentifiers(ex.Right, add)
	case *ast.UnaryOp:
		walkExprIdentifiers(ex.Operand, add)
	case *ast.BoolOp:
		for _, v := range ex.Values {
			walkExprIdentifiers(v, add)
		}
	case *ast.Compare:
		walkExprIdentifiers(ex.Left, add)
		for _, c := range ex.Comparators {
			walkExprIdentifiers(c, add)
		}
	case *ast.IfExp:
		walkExprIdentifiers(ex.Test, add)
		walkExprIdentifiers(ex.Body, add)
		walkExprIdentifiers(ex.Orelse, add)
	case *ast.Lambda:
		for _, p := range ex.Params.All() {
			add(p.Name)
		}
		walkExprIdentifiers(ex.Body, add)
	case *ast.ListComp:
		walkGenerators(ex.Generators, add)
		walkExprIdentifiers(ex.Elt, add)
	case *ast.SetComp:
		walkGenerators(ex.Generators, add)
		walkExprIdentifiers(ex.Elt, add)
	case *ast.GeneratorExp:
		walkGenerators(ex.Generators, add)
		walkExprIdentifiers(ex.Elt, add)
	case *ast.DictComp:
		walkGenerators(ex.Generators, add)
		walkExprIdentifiers(ex.Key, add)
		walkExprIdentifiers(ex.Value, add)
	case *ast.ListExpr:
		for _, el := range ex.Elts {
			walkExprIdentifiers(el, add)
		}
	case *ast.TupleExpr:
		for _, el := range ex.Elts {
			walkExprIdentifiers(el, add)
		}
	case *ast.SetExpr:
		for _, el := range ex.Elts {
			walkExprIdentifiers(el, add)
		}
	case *ast.DictExpr:
		for i, v := range ex.Values {
			walkExprIdentifiers(v, add)
			if ex.Keys[i] != nil {
				walkExprIdentifiers(ex.Keys[i], add)
			}
		}
	case *ast.Subscript:
		walkExprIdentifiers(ex.Value, add)
		walkExprIdentifiers(ex.Index, add)
	}
}

func walkGenerators(gens []ast.Comprehension, add func(string)) {
	for _, g := range gens {
		walkExprIdentifiers(g.Iter, add)
		walkExprIdentifiers(g.Target, add)
		for _, c := range g.Ifs {
			walkExprIdentifiers(c, add)
		}
	}
}

// collectPoolCallHashes returns every hash H referenced by a call of
// canonical form object_<H>._PREFIX_v_0(...) in fn's body.
func collectPoolCallHashes(fn *ast.FunctionDef) []string {
	seen := map[string]bool{}
	var out []string
	var visit func(ast.Expr)
	add := func(h string) {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	visit = func(e ast.Expr) {
		if e == nil {
			return
		}
		if call, ok := e.(*ast.Call); ok {
			if attr, ok := call.Func.(*ast.Attribute); ok && attr.Attr == "_"+config.PREFIX+"_v_0" {
				if name, ok := attr.Value.(*ast.Name); ok && strings.HasPrefix(name.Id, config.PoolObjectPrefix) {
					add(strings.TrimPrefix(name.Id, config.PoolObjectPrefix))
				}
			}
		}
	}
	var walkStmts func([]ast.Stmt)
	var walkExpr func(ast.Expr)
	walkGens := func(gens []ast.Comprehension) {
		for _, g := range gens {
			walkExpr(g.Iter)
			for _, c := range g.Ifs {
				walkExpr(c)
			}
		}
	}
	walkExpr = func(e ast.Expr) {
		visit(e)
		switch ex := e.(type) {
		case *ast.Call:
			walkExpr(ex.Func)
			for _, a := range ex.Args {
				walkExpr(a)
			}
			for _, kw := range ex.Keywords {
				walkExpr(kw.Value)
			}
		case *ast.Attribute:
			walkExpr(ex.Value)
		case *ast.BinOp:
			walkExpr(ex.Left)
			walkExpr(ex.Right)
		case *ast.UnaryOp:
			walkExpr(ex.Operand)
		case *ast.BoolOp:
			for _, v := range ex.Values {
				walkExpr(v)
			}
		case *ast.Compare:
			walkExpr(ex.Left)
			for _, c := range ex.Comparators {
				walkExpr(c)
			}
		case *ast.IfExp:
			walkExpr(ex.Test)
			walkExpr(ex.Body)
			walkExpr(ex.Orelse)
		case *ast.Lambda:
			walkExpr(ex.Body)
		case *ast.Starred:
			walkExpr(ex.Value)
		case *ast.ListComp:
			walkExpr(ex.Elt)
			walkGens(ex.Generators)
		case *ast.SetComp:
			walkExpr(ex.Elt)
			walkGens(ex.Generators)
		case *ast.GeneratorExp:
			walkExpr(ex.Elt)
			walkGens(ex.Generators)
		case *ast.DictComp:
			walkExpr(ex.Key)
			walkExpr(ex.Value)
			walkGens(ex.Generators)
		case *ast.ListExpr:
			for _, el := range ex.Elts {
				walkExpr(el)
			}
		case *ast.TupleExpr:
			for _, el := range ex.Elts {
				walkExpr(el)
			}
		case *ast.SetExpr:
			for _, el := range ex.Elts {
				walkExpr(el)
			}
		case *ast.DictExpr:
			for i, v := range ex.Values {
				walkExpr(v)
				walkExpr(ex.Keys[i])
			}
		case *ast.Subscript:
			walkExpr(ex.Value)
			walkExpr(ex.Index)
		}
	}
	walkStmts = func(stmts []ast.Stmt) {
		for _, s := range stmts {
			switch st := s.(type) {
			case *ast.ExprStmt:
				walkExpr(st.Value)
			case *ast.Assign:
				walkExpr(st.Value)
			case *ast.AugAssign:
				walkExpr(st.Value)
			case *ast.ReturnStmt:
				walkExpr(st.Value)
			case *ast.RaiseStmt:
				walkExpr(st.Exc)
				walkExpr(st.Cause)
			case *ast.IfStmt:
				walkExpr(st.Test)
				walkStmts(st.Body)
				walkStmts(st.Orelse)
			case *ast.ForStmt:
				walkExpr(st.Iter)
				walkStmts(st.Body)
				walkStmts(st.Orelse)
			case *ast.WhileStmt:
				walkExpr(st.Test)
				walkStmts(st.Body)
				walkStmts(st.Orelse)
			case *ast.WithStmt:
				for _, item := range st.Items {
					walkExpr(item.ContextExpr)
				}
				walkStmts(st.Body)
			case *ast.FunctionDef:
				walkStmts(st.Body)
			}
		}
	}
	walkStmts(fn.Body)
	return out
}

// DependencyGraph detects cyclic chains among stored objects'
// dependencies: BuildDependencyGraph adds an edge from function hash A
// to hash B when B is listed in A's metadata dependencies. This is
// supplementary to spec.md's literal validator bullet list — new
// functionality enabled by, not contradicting, the stored data model —
// grounded on the DFS-with-recursion-stack cycle detector in
// libs/compiler/internal/validator/validator.go.
type DependencyGraph struct {
	edges map[string][]string
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: map[string][]string{}}
}

// AddEdge records that from depends on to.
func (g *DependencyGraph) AddEdge(from, to string) {
	g.edges[from] = append(g.edges[from], to)
}

// DetectCycles reports the first cycle found via depth-first search
// with a recursion stack, or nil if the graph is acyclic.
func (g *DependencyGraph) DetectCycles() error {
	visited := map[string]bool{}
	onStack := map[string]bool{}

	nodes := make([]string, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var path []string
	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)
		for _, next := range g.edges[node] {
			if !visited[next] {
				if err := dfs(next); err != nil {
					return err
				}
			} else if onStack[next] {
				cycleStart := 0
				for i, n := range path {
					if n == next {
						cycleStart = i
						break
					}
				}
				return &ErrCycleDetected{Chain: append(append([]string{}, path[cycleStart:]...), next)}
			}
		}
		onStack[node] = false
		path = path[:len(path)-1]
		return nil
	}
	for _, n := range nodes {
		if !visited[n] {
			if err := dfs(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildDependencyGraph walks every stored function's dependencies
// metadata and builds the graph DetectCycles operates on.
func BuildDependencyGraph(store *pool.Store, hashes []string) (*DependencyGraph, error) {
	g := NewDependencyGraph()
	for _, h := range hashes {
		obj, err := store.FunctionLoad(h)
		if err != nil {
			return nil, err
		}
		for _, dep := range obj.Metadata.Dependencies {
			g.AddEdge(h, dep)
		}
	}
	return g, nil
}
