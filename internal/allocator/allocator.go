// Package allocator hands out canonical identifiers in pre-order,
// first-occurrence order for the AST normalizer. Names are scoped per
// lexical scope (function body, lambda, comprehension) so a nested
// scope's own bindings never shadow an enclosing scope's, but the
// numbering itself is a single counter shared across the whole walk
// (spec.md §9: "nested binders re-use the walk's running counter but
// never reassign an already-assigned outer identifier") — two scopes
// that never overlap in the printed output must still never be handed
// the same canonical name, or the printed code would contain a genuine
// ambiguity between two different original identifiers.
package allocator

import (
	"fmt"

	"github.com/autonomous-bits/codepool/internal/config"
)

// NameBinding is one canonical-id -> original-id pair, in the order it
// was assigned.
type NameBinding struct {
	Canonical string
	Original  string
}

// Allocator is a small stateful struct walked once by the normalizer's
// AST visitor, mirroring the single-pass scanner style the rest of the
// codebase uses for stateful traversal.
type Allocator struct {
	next     int
	scopes   []*scope
	excluded map[string]bool
	order    []NameBinding
}

type scope struct {
	bindings map[string]string
}

// New creates an Allocator with a single top-level scope open, ready
// for the outermost function body.
func New() *Allocator {
	a := &Allocator{excluded: map[string]bool{}}
	a.PushScope()
	return a
}

// PushScope opens a new nested lexical scope: call this when entering a
// lambda body or a comprehension's generators.
func (a *Allocator) PushScope() {
	a.scopes = append(a.scopes, &scope{bindings: map[string]string{}})
}

// PopScope closes the innermost lexical scope.
func (a *Allocator) PopScope() {
	a.scopes = a.scopes[:len(a.scopes)-1]
}

// Exclude marks name as never-rename: it is an import-bound name
// (spec.md §4.1's "do-not-rename" set), returned unchanged by both Bind
// and Resolve and never consuming a canonical index.
func (a *Allocator) Exclude(name string) {
	a.excluded[name] = true
}

// Bind assigns the next canonical name for name in the current
// (innermost) scope, or returns the name already assigned if name was
// already bound there. Call this for the function's own name,
// parameters, assignment targets, for-loop targets, comprehension
// targets, and with-statement "as" targets. Builtins and excluded
// (import-bound) names are returned unchanged and never consume an
// index.
func (a *Allocator) Bind(name string) string {
	if config.BuiltinNames[name] || a.excluded[name] {
		return name
	}
	cur := a.scopes[len(a.scopes)-1]
	if canon, ok := cur.bindings[name]; ok {
		return canon
	}
	canon := fmt.Sprintf("_%s_v_%d", config.PREFIX, a.next)
	a.next++
	cur.bindings[name] = canon
	a.order = append(a.order, NameBinding{Canonical: canon, Original: name})
	return canon
}

// Resolve looks up the canonical name for a load reference, walking
// from the innermost scope outward. Builtins, excluded (import-bound)
// names, and names never bound in any visible scope are returned
// unchanged.
func (a *Allocator) Resolve(name string) string {
	if config.BuiltinNames[name] || a.excluded[name] {
		return name
	}
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if canon, ok := a.scopes[i].bindings[name]; ok {
			return canon
		}
	}
	return name
}

// BoundHere reports whether name has already been bound in the current
// (innermost) scope, without allocating a new canonical name.
func (a *Allocator) BoundHere(name string) bool {
	_, ok := a.scopes[len(a.scopes)-1].bindings[name]
	return ok
}

// Bindings returns every canonical-id -> original-id pair assigned
// during the walk, in first-occurrence (and therefore canonical-index)
// order. This is the raw material for a Mapping's name_mapping.
func (a *Allocator) Bindings() []NameBinding {
	return a.order
}
