// Package query translates the logbook DSL ($query, $projection, $filter)
// into a sealed expression tree, and from there into SQL predicates for the
// document store or an in-process matcher for the search index.
package query

import (
	"fmt"
	"strings"
)

// Expr is a boolean expression over a document.
//
// This is a sealed interface: only types in this package implement it, so
// compilers can switch exhaustively.
type Expr interface {
	exprNode()
}

// MatchAll matches every document; it is what an absent $query parses to.
type MatchAll struct{}

// Eq matches when the addressed value equals Value.
type Eq struct {
	Path  Path
	Value any
}

// Ne is the negation of Eq; documents without the field match.
type Ne struct {
	Path  Path
	Value any
}

// In matches when the addressed value equals one of Values.
type In struct {
	Path   Path
	Values []any
}

// Exists matches when the addressed field is present, even if null.
type Exists struct {
	Path Path
}

// And matches when every sub-expression matches.
type And struct {
	Exprs []Expr
}

// Or matches when at least one sub-expression matches.
type Or struct {
	Exprs []Expr
}

// Not inverts a sub-expression.
type Not struct {
	Expr Expr
}

func (MatchAll) exprNode() {}
func (Eq) exprNode()       {}
func (Ne) exprNode()       {}
func (In) exprNode()       {}
func (Exists) exprNode()   {}
func (And) exprNode()      {}
func (Or) exprNode()       {}
func (Not) exprNode()      {}

// Scope says which part of a document a path addresses.
type Scope int

const (
	// ScopeDocument addresses a document-level field (_id, _v, _lastPersistedDate).
	ScopeDocument Scope = iota
	// ScopeMaster addresses a field of the first (creation) event.
	ScopeMaster
	// ScopeAnyEvent matches when any event satisfies the predicate.
	ScopeAnyEvent
)

// Path is a validated field reference.
type Path struct {
	Scope Scope
	Field string
	// Sub is a path below an opaque JSON field.
	Sub []string
}

// Segments returns the event-relative (or document-relative) key path.
func (p Path) Segments() []string {
	return append([]string{p.Field}, p.Sub...)
}

func (p Path) String() string {
	s := strings.Join(p.Segments(), ".")
	if p.Scope == ScopeAnyEvent {
		return "events." + s
	}
	return s
}

// Direction of a sort key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Sort is one $orderby key.
type Sort struct {
	Path      Path
	Direction Direction
}

// Query is a parsed DSL document.
type Query struct {
	Where      Expr
	Projection Projection
	// Limit caps the number of results; 0 means no limit.
	Limit   int
	OrderBy []Sort
}

// All returns a query matching every document.
func All() *Query {
	return &Query{Where: MatchAll{}}
}

// ByID returns a query matching the document with the given key.
func ByID(docID string) *Query {
	return &Query{Where: Eq{Path: Path{Scope: ScopeDocument, Field: "_id"}, Value: docID}}
}

// WithLimit returns a copy of q capped at n results.
func (q *Query) WithLimit(n int) *Query {
	cp := *q
	cp.Limit = n
	return &cp
}

func (q *Query) String() string {
	return fmt.Sprintf("query{where=%T limit=%d orderby=%d}", q.Where, q.Limit, len(q.OrderBy))
}
