package query

import (
	"regexp"
	"strings"

	"logbook/internal/logbook/models"
	dErrors "logbook/pkg/domain-errors"
)

// subPathSegment restricts keys below opaque fields; they end up in SQL
// path literals and JSONPath expressions.
var subPathSegment = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

var documentFields = map[string]struct{}{
	models.DocFieldID:                {},
	models.DocFieldVersion:           {},
	models.DocFieldLastPersistedDate: {},
}

func invalidf(format string, args ...any) error {
	return dErrors.Newf(dErrors.CodeInvalidQuery, format, args...)
}

// ParsePath validates a field reference.
//
//	_id, _v, _lastPersistedDate   document fields
//	eventType                     field of the master event
//	events.eventType              field of any event
//	events.eventDetailData.a.b    sub-path under an opaque field
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return Path{}, invalidf("empty field name")
	}
	if _, ok := documentFields[raw]; ok {
		return Path{Scope: ScopeDocument, Field: raw}, nil
	}
	if raw == models.DocFieldTenant {
		return Path{}, invalidf("field %s cannot be queried", raw)
	}

	scope := ScopeMaster
	rest := raw
	if strings.HasPrefix(raw, models.DocFieldEvents+".") {
		scope = ScopeAnyEvent
		rest = strings.TrimPrefix(raw, models.DocFieldEvents+".")
	}
	parts := strings.Split(rest, ".")
	kind, ok := models.EventFields[parts[0]]
	if !ok {
		return Path{}, invalidf("unknown field %q", raw)
	}
	if len(parts) > 1 {
		if kind != models.FieldOpaque {
			return Path{}, invalidf("field %q has no sub-fields", parts[0])
		}
		for _, seg := range parts[1:] {
			if !subPathSegment.MatchString(seg) {
				return Path{}, invalidf("invalid sub-field %q in %q", seg, raw)
			}
		}
	}
	return Path{Scope: scope, Field: parts[0], Sub: parts[1:]}, nil
}
