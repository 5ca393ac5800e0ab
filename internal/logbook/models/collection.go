package models

import (
	"strings"

	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
)

// Collection is the logical name of a document collection.
type Collection string

const (
	CollectionOperation                     Collection = "Operation"
	CollectionLifecycleUnit                 Collection = "LifecycleUnit"
	CollectionLifecycleUnitInProcess        Collection = "LifecycleUnitInProcess"
	CollectionLifecycleObjectGroup          Collection = "LifecycleObjectGroup"
	CollectionLifecycleObjectGroupInProcess Collection = "LifecycleObjectGroupInProcess"
)

var allCollections = []Collection{
	CollectionOperation,
	CollectionLifecycleUnit,
	CollectionLifecycleUnitInProcess,
	CollectionLifecycleObjectGroup,
	CollectionLifecycleObjectGroupInProcess,
}

// AllCollections returns every collection in a stable order.
func AllCollections() []Collection {
	return append([]Collection(nil), allCollections...)
}

// IndexedCollections returns the collections mirrored into the search index.
// Staging collections are never mirrored.
func IndexedCollections() []Collection {
	return []Collection{CollectionOperation, CollectionLifecycleUnit, CollectionLifecycleObjectGroup}
}

// ParseCollection resolves a collection name, case-insensitively.
func ParseCollection(s string) (Collection, error) {
	for _, c := range allCollections {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown collection %q", s)
}

// IsValid reports whether c is a known collection.
func (c Collection) IsValid() bool {
	for _, known := range allCollections {
		if c == known {
			return true
		}
	}
	return false
}

// IsInProcess reports whether c is a staging collection.
func (c Collection) IsInProcess() bool {
	return c == CollectionLifecycleUnitInProcess || c == CollectionLifecycleObjectGroupInProcess
}

func (c Collection) String() string {
	return string(c)
}

// IndexName is the per-tenant logical index name for a collection.
func IndexName(c Collection, tenant id.TenantID) string {
	return strings.ToLower(string(c)) + "_" + tenant.String()
}

// LifecycleKind selects the lifecycle flavour and its pair of collections.
type LifecycleKind int

const (
	LifecycleUnit LifecycleKind = iota
	LifecycleObjectGroup
)

// Committed is the durable collection of the flavour.
func (k LifecycleKind) Committed() Collection {
	if k == LifecycleObjectGroup {
		return CollectionLifecycleObjectGroup
	}
	return CollectionLifecycleUnit
}

// InProcess is the staging collection of the flavour.
func (k LifecycleKind) InProcess() Collection {
	if k == LifecycleObjectGroup {
		return CollectionLifecycleObjectGroupInProcess
	}
	return CollectionLifecycleUnitInProcess
}

func (k LifecycleKind) String() string {
	if k == LifecycleObjectGroup {
		return "objectgroup"
	}
	return "unit"
}
