package query

import (
	"cmp"
	"slices"

	"logbook/internal/logbook/models"
)

// Match evaluates e against doc.
func Match(e Expr, doc models.Document) (bool, error) {
	m, err := doc.ToMap()
	if err != nil {
		return false, err
	}
	return MatchMap(e, m), nil
}

// MatchMap evaluates e against a document already decoded into its
// JSON-compatible map form.
func MatchMap(e Expr, doc map[string]any) bool {
	switch x := e.(type) {
	case nil, MatchAll:
		return true
	case Eq:
		return anyEqual(resolve(x.Path, doc), x.Value)
	case Ne:
		return !anyEqual(resolve(x.Path, doc), x.Value)
	case In:
		values := resolve(x.Path, doc)
		for _, want := range x.Values {
			if anyEqual(values, want) {
				return true
			}
		}
		return false
	case Exists:
		return len(resolve(x.Path, doc)) > 0
	case And:
		for _, sub := range x.Exprs {
			if !MatchMap(sub, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range x.Exprs {
			if MatchMap(sub, doc) {
				return true
			}
		}
		return false
	case Not:
		return !MatchMap(x.Expr, doc)
	}
	return false
}

// resolve returns every value the path addresses; an absent key yields no
// value while a present null yields nil.
func resolve(p Path, doc map[string]any) []any {
	switch p.Scope {
	case ScopeDocument:
		if v, ok := doc[p.Field]; ok {
			return []any{v}
		}
		return nil
	case ScopeMaster:
		events, _ := doc[models.DocFieldEvents].([]any)
		if len(events) == 0 {
			return nil
		}
		if v, ok := lookup(events[0], p.Segments()); ok {
			return []any{v}
		}
		return nil
	default:
		events, _ := doc[models.DocFieldEvents].([]any)
		var out []any
		for _, event := range events {
			if v, ok := lookup(event, p.Segments()); ok {
				out = append(out, v)
			}
		}
		return out
	}
}

func lookup(node any, segments []string) (any, bool) {
	for _, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func anyEqual(values []any, want any) bool {
	for _, v := range values {
		if scalarEqual(v, want) {
			return true
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// SortMaps orders decoded documents by sorts. The sort is stable, so with no
// keys (or equal keys) the input order is kept.
func SortMaps(docs []map[string]any, sorts []Sort) {
	if len(sorts) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b map[string]any) int {
		for _, s := range sorts {
			c := compareValues(first(resolve(s.Path, a)), first(resolve(s.Path, b)))
			if s.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// typeRank orders values of different JSON types: null, numbers, strings,
// booleans, anything else.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	}
	return 4
}

func compareValues(a, b any) int {
	if c := cmp.Compare(typeRank(a), typeRank(b)); c != 0 {
		return c
	}
	switch av := a.(type) {
	case float64:
		return cmp.Compare(av, b.(float64))
	case string:
		return cmp.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	}
	return 0
}
