package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"

	dErrors "logbook/pkg/domain-errors"
)

// DSL keywords.
const (
	KeyQuery      = "$query"
	KeyProjection = "$projection"
	KeyFilter     = "$filter"

	OpEq     = "$eq"
	OpNe     = "$ne"
	OpIn     = "$in"
	OpExists = "$exists"
	OpAnd    = "$and"
	OpOr     = "$or"
	OpNot    = "$not"

	FilterLimit   = "$limit"
	FilterOrderBy = "$orderby"

	ProjectionSlice = "$slice"
)

// Parse decodes and validates a DSL document. An empty document matches
// everything. Every failure carries CodeInvalidQuery.
func Parse(raw []byte) (*Query, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return All(), nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidQuery, "query must be a JSON object")
	}

	q := All()
	for key, value := range top {
		var err error
		switch key {
		case KeyQuery:
			q.Where, err = parseRootExpr(value)
		case KeyProjection:
			q.Projection, err = parseProjection(value)
		case KeyFilter:
			err = parseFilter(value, q)
		default:
			err = invalidf("unknown top-level key %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	return q, nil
}

// ParseMap parses a DSL document already decoded into a map.
func ParseMap(m map[string]any) (*Query, error) {
	if len(m) == 0 {
		return All(), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidQuery, "query is not serializable")
	}
	return Parse(raw)
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) *Query {
	q, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return q
}

func parseRootExpr(raw json.RawMessage) (Expr, error) {
	if isNull(raw) {
		return MatchAll{}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalidf("%s must be an object", KeyQuery)
	}
	if len(obj) == 0 {
		return MatchAll{}, nil
	}
	return parseExprObject(obj)
}

func parseExpr(raw json.RawMessage) (Expr, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, invalidf("expression must be an object")
	}
	return parseExprObject(obj)
}

func parseExprObject(obj map[string]json.RawMessage) (Expr, error) {
	if len(obj) != 1 {
		return nil, invalidf("expression must have exactly one operator, got %d", len(obj))
	}
	for op, arg := range obj {
		switch op {
		case OpEq, OpNe:
			path, value, err := parseFieldValue(op, arg)
			if err != nil {
				return nil, err
			}
			if op == OpEq {
				return Eq{Path: path, Value: value}, nil
			}
			return Ne{Path: path, Value: value}, nil
		case OpIn:
			return parseIn(arg)
		case OpExists:
			var field string
			if err := json.Unmarshal(arg, &field); err != nil {
				return nil, invalidf("%s takes a field name", OpExists)
			}
			path, err := ParsePath(field)
			if err != nil {
				return nil, err
			}
			return Exists{Path: path}, nil
		case OpAnd, OpOr:
			exprs, err := parseExprList(op, arg)
			if err != nil {
				return nil, err
			}
			if op == OpAnd {
				return And{Exprs: exprs}, nil
			}
			return Or{Exprs: exprs}, nil
		case OpNot:
			sub, err := parseExpr(arg)
			if err != nil {
				return nil, err
			}
			return Not{Expr: sub}, nil
		default:
			return nil, invalidf("unknown operator %q", op)
		}
	}
	return nil, invalidf("empty expression")
}

func parseExprList(op string, raw json.RawMessage) ([]Expr, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalidf("%s takes an array of expressions", op)
	}
	if len(items) == 0 {
		return nil, invalidf("%s needs at least one expression", op)
	}
	exprs := make([]Expr, 0, len(items))
	for _, item := range items {
		e, err := parseExpr(item)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func parseFieldValue(op string, raw json.RawMessage) (Path, any, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return Path{}, nil, invalidf("%s takes an object with exactly one field", op)
	}
	for field, rawValue := range obj {
		path, err := ParsePath(field)
		if err != nil {
			return Path{}, nil, err
		}
		value, err := parseScalar(rawValue)
		if err != nil {
			return Path{}, nil, invalidf("%s on %q: %v", op, field, err)
		}
		if err := checkDocumentValue(path, value); err != nil {
			return Path{}, nil, err
		}
		return path, value, nil
	}
	return Path{}, nil, invalidf("%s takes an object with exactly one field", op)
}

func parseIn(raw json.RawMessage) (Expr, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return nil, invalidf("%s takes an object with exactly one field", OpIn)
	}
	for field, rawValues := range obj {
		path, err := ParsePath(field)
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(rawValues, &items); err != nil {
			return nil, invalidf("%s on %q takes an array", OpIn, field)
		}
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := parseScalar(item)
			if err != nil {
				return nil, invalidf("%s on %q: %v", OpIn, field, err)
			}
			if err := checkDocumentValue(path, v); err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return In{Path: path, Values: values}, nil
	}
	return nil, invalidf("%s takes an object with exactly one field", OpIn)
}

var errNotScalar = errors.New("value must be a string, number, boolean or null")

// parseScalar decodes a JSON scalar. Numbers become float64, the same
// representation a decoded document uses.
func parseScalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errNotScalar
	}
	switch v := tok.(type) {
	case nil, string, bool:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsInf(f, 0) {
			return nil, errNotScalar
		}
		return f, nil
	default:
		return nil, errNotScalar
	}
}

func checkDocumentValue(p Path, v any) error {
	if p.Scope != ScopeDocument {
		return nil
	}
	switch p.Field {
	case "_v":
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return invalidf("_v compares to integers only")
		}
	default:
		if _, ok := v.(string); !ok {
			return invalidf("%s compares to strings only", p.Field)
		}
	}
	return nil
}

func parseFilter(raw json.RawMessage, q *Query) error {
	if isNull(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return invalidf("%s must be an object", KeyFilter)
	}
	for key, value := range obj {
		switch key {
		case FilterLimit:
			v, err := parseScalar(value)
			f, ok := v.(float64)
			if err != nil || !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
				return invalidf("%s must be a non-negative integer", FilterLimit)
			}
			q.Limit = int(f)
		case FilterOrderBy:
			sorts, err := parseOrderBy(value)
			if err != nil {
				return err
			}
			q.OrderBy = sorts
		default:
			return invalidf("unknown filter %q", key)
		}
	}
	return nil
}

// parseOrderBy keeps the key order of the JSON object; it is the sort
// priority.
func parseOrderBy(raw json.RawMessage) ([]Sort, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, invalidf("%s must be an object", FilterOrderBy)
	}
	var sorts []Sort
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, invalidf("%s is malformed", FilterOrderBy)
		}
		field, _ := keyTok.(string)
		path, err := ParsePath(field)
		if err != nil {
			return nil, err
		}
		if path.Scope == ScopeAnyEvent {
			return nil, invalidf("cannot sort on %q: it may match several events", field)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, invalidf("%s is malformed", FilterOrderBy)
		}
		n, ok := valTok.(json.Number)
		switch {
		case ok && n.String() == "1":
			sorts = append(sorts, Sort{Path: path, Direction: Ascending})
		case ok && n.String() == "-1":
			sorts = append(sorts, Sort{Path: path, Direction: Descending})
		default:
			return nil, invalidf("%s direction for %q must be 1 or -1", FilterOrderBy, field)
		}
	}
	return sorts, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
