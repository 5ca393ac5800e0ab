package query

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"logbook/internal/logbook/models"
)

// Columns of the logbook document tables.
const (
	ColumnID                = "id"
	ColumnTenant            = "tenant"
	ColumnVersion           = "version"
	ColumnEvents            = "events"
	ColumnStage             = "stage"
	ColumnProcess           = "process"
	ColumnSeq               = "seq"
	ColumnLastPersistedAt   = "last_persisted_at"
	columnMasterEvent       = "events->0"
	defaultOrderTiebreaker  = ColumnSeq + " ASC"
	jsonContainsPlaceholder = " @> ?::jsonb"
)

var documentColumns = map[string]string{
	models.DocFieldID:                ColumnID,
	models.DocFieldVersion:           ColumnVersion,
	models.DocFieldLastPersistedDate: ColumnLastPersistedAt,
}

// CompileSQL translates an expression into a PostgreSQL predicate over the
// document tables. Event predicates use JSONB containment so they can be
// served by a GIN index on events. Values are always bound, never inlined.
func CompileSQL(e Expr) (sq.Sqlizer, error) {
	switch x := e.(type) {
	case nil, MatchAll:
		return sq.Expr("TRUE"), nil
	case Eq:
		return compileEq(x.Path, x.Value)
	case Ne:
		eq, err := compileEq(x.Path, x.Value)
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT (?)", eq), nil
	case In:
		if len(x.Values) == 0 {
			return sq.Expr("FALSE"), nil
		}
		or := make(sq.Or, 0, len(x.Values))
		for _, v := range x.Values {
			eq, err := compileEq(x.Path, v)
			if err != nil {
				return nil, err
			}
			or = append(or, eq)
		}
		return or, nil
	case Exists:
		return compileExists(x.Path)
	case And:
		and := make(sq.And, 0, len(x.Exprs))
		for _, sub := range x.Exprs {
			c, err := CompileSQL(sub)
			if err != nil {
				return nil, err
			}
			and = append(and, c)
		}
		return and, nil
	case Or:
		or := make(sq.Or, 0, len(x.Exprs))
		for _, sub := range x.Exprs {
			c, err := CompileSQL(sub)
			if err != nil {
				return nil, err
			}
			or = append(or, c)
		}
		return or, nil
	case Not:
		c, err := CompileSQL(x.Expr)
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT (?)", c), nil
	}
	return nil, invalidf("unsupported expression %T", e)
}

func compileEq(p Path, value any) (sq.Sqlizer, error) {
	switch p.Scope {
	case ScopeDocument:
		col := documentColumns[p.Field]
		if p.Field == models.DocFieldLastPersistedDate {
			return sq.Expr(col+" = ?::timestamptz", value), nil
		}
		if value == nil {
			return sq.Expr("FALSE"), nil
		}
		return sq.Eq{col: value}, nil
	case ScopeMaster:
		doc, err := containmentDoc(p.Segments(), value)
		if err != nil {
			return nil, err
		}
		return sq.Expr(columnMasterEvent+jsonContainsPlaceholder, doc), nil
	default:
		doc, err := containmentDoc(p.Segments(), value)
		if err != nil {
			return nil, err
		}
		return sq.Expr(ColumnEvents+jsonContainsPlaceholder, "["+doc+"]"), nil
	}
}

// containmentDoc builds {"a":{"b":value}} for segments [a b].
func containmentDoc(segments []string, value any) (string, error) {
	var node any = value
	for i := len(segments) - 1; i >= 0; i-- {
		node = map[string]any{segments[i]: node}
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return "", invalidf("value is not serializable: %v", err)
	}
	return string(raw), nil
}

func compileExists(p Path) (sq.Sqlizer, error) {
	switch p.Scope {
	case ScopeDocument:
		return sq.Expr("TRUE"), nil
	case ScopeMaster:
		return sq.Expr(columnMasterEvent+" #> ?::text[] IS NOT NULL", pgTextArray(p.Segments())), nil
	default:
		return sq.Expr("jsonb_path_exists("+ColumnEvents+", ?::jsonpath)", jsonPath(p.Segments())), nil
	}
}

// pgTextArray renders a text[] literal; segments are restricted by ParsePath.
func pgTextArray(segments []string) string {
	return "{" + strings.Join(segments, ",") + "}"
}

func jsonPath(segments []string) string {
	var b strings.Builder
	b.WriteString("$[*]")
	for _, seg := range segments {
		fmt.Fprintf(&b, ".%q", seg)
	}
	return b.String()
}

// CompileOrderBy renders ORDER BY terms. Insertion order (seq) is always the
// final key so paging is stable.
func CompileOrderBy(sorts []Sort) ([]string, error) {
	terms := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		var expr string
		switch s.Path.Scope {
		case ScopeDocument:
			expr = documentColumns[s.Path.Field]
		case ScopeMaster:
			expr = columnMasterEvent + " #> '" + pgTextArray(s.Path.Segments()) + "'"
		default:
			return nil, invalidf("cannot sort on %s", s.Path)
		}
		dir := "ASC"
		if s.Direction == Descending {
			dir = "DESC"
		}
		terms = append(terms, expr+" "+dir)
	}
	return append(terms, defaultOrderTiebreaker), nil
}
