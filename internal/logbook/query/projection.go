package query

import (
	"encoding/json"
	"errors"
	"strings"

	"logbook/internal/logbook/models"
)

// ProjectionMode is either inclusion or exclusion; the DSL cannot mix them.
type ProjectionMode int

const (
	ProjectAll ProjectionMode = iota
	ProjectInclude
	ProjectExclude
)

// Projection selects which fields a read returns.
type Projection struct {
	Mode ProjectionMode
	// Fields are document fields ("_v", "events") or event fields
	// ("events.eventType").
	Fields []string
	// Slice forces the restricted view regardless of the caller's flag.
	Slice bool
}

// IsZero reports whether the projection returns documents unchanged.
func (p Projection) IsZero() bool {
	return p.Mode == ProjectAll && !p.Slice
}

func parseProjection(raw json.RawMessage) (Projection, error) {
	var p Projection
	if isNull(raw) {
		return p, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return p, invalidf("%s must be an object", KeyProjection)
	}
	for field, rawValue := range obj {
		include, err := projectionFlag(rawValue)
		if err != nil {
			return p, invalidf("%s for %q: %v", KeyProjection, field, err)
		}
		if field == ProjectionSlice {
			p.Slice = include
			continue
		}
		name, err := projectionField(field)
		if err != nil {
			return p, err
		}
		mode := ProjectExclude
		if include {
			mode = ProjectInclude
		}
		if p.Mode != ProjectAll && p.Mode != mode {
			return p, invalidf("%s cannot mix inclusion and exclusion", KeyProjection)
		}
		p.Mode = mode
		p.Fields = append(p.Fields, name)
	}
	return p, nil
}

func projectionFlag(raw json.RawMessage) (bool, error) {
	v, err := parseScalar(raw)
	if err != nil {
		return false, err
	}
	switch v {
	case float64(1), true:
		return true, nil
	case float64(0), float64(-1), false:
		return false, nil
	}
	return false, errProjectionFlag
}

var errProjectionFlag = errors.New("value must be 1, 0 or -1")

// projectionField normalizes a projected name: bare event fields are read as
// events.<field>.
func projectionField(field string) (string, error) {
	switch field {
	case models.DocFieldVersion, models.DocFieldLastPersistedDate, models.DocFieldEvents:
		return field, nil
	case models.DocFieldID, models.DocFieldTenant:
		return "", invalidf("field %s is always returned", field)
	}
	name := strings.TrimPrefix(field, models.DocFieldEvents+".")
	if _, ok := models.EventFields[name]; !ok {
		return "", invalidf("unknown projected field %q", field)
	}
	return models.DocFieldEvents + "." + name, nil
}

// Apply returns the projected copy of doc. _id and _tenant are always kept.
func (p Projection) Apply(doc models.Document) (models.Document, error) {
	if p.Mode == ProjectAll {
		return doc.Clone(), nil
	}
	m, err := doc.ToMap()
	if err != nil {
		return models.Document{}, err
	}

	docFields := map[string]bool{}
	eventFields := map[string]bool{}
	for _, f := range p.Fields {
		if name, ok := strings.CutPrefix(f, models.DocFieldEvents+"."); ok {
			eventFields[name] = true
			continue
		}
		docFields[f] = true
	}

	keepDoc := func(key string) bool {
		switch key {
		case models.DocFieldID, models.DocFieldTenant:
			return true
		case models.DocFieldStage, models.DocFieldProcess:
			return p.Mode == ProjectExclude
		}
		if p.Mode == ProjectInclude {
			return docFields[key] || (key == models.DocFieldEvents && len(eventFields) > 0)
		}
		return !docFields[key]
	}
	for key := range m {
		if !keepDoc(key) {
			delete(m, key)
		}
	}

	if events, ok := m[models.DocFieldEvents].([]any); ok && len(eventFields) > 0 && !docFields[models.DocFieldEvents] {
		for _, raw := range events {
			event, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for key := range event {
				if (p.Mode == ProjectInclude) != eventFields[key] {
					delete(event, key)
				}
			}
		}
	}
	return models.DocumentFromMap(m)
}
