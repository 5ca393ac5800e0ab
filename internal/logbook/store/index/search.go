// Package index implements the secondary search index: a per-tenant,
// per-collection mirror of committed documents whose writes become visible
// only after an explicit refresh.
package index

import (
	"fmt"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
)

func missingIndex(c models.Collection, tenant id.TenantID) error {
	return fmt.Errorf("index %s: %w", models.IndexName(c, tenant), sentinel.ErrNotFound)
}

// decodeItem checks that a bulk payload is a document of the right tenant
// and returns its version.
func decodeItem(tenant id.TenantID, docID string, raw []byte) (int, error) {
	doc, err := models.UnmarshalDocument(raw)
	if err != nil {
		return 0, err
	}
	if doc.ID != docID {
		return 0, fmt.Errorf("payload id %q does not match key %q", doc.ID, docID)
	}
	if doc.Tenant != tenant {
		return 0, fmt.Errorf("payload tenant %d does not match index tenant %d", doc.Tenant, tenant)
	}
	return doc.Version, nil
}

// search evaluates q over visible documents given in insertion order.
// q.Limit caps the match set before paging; size <= 0 returns every
// remaining hit.
func search(visible [][]byte, q *query.Query, from, size int) (ports.SearchPage, error) {
	if q == nil {
		q = query.All()
	}
	if from < 0 {
		from = 0
	}

	maps := make([]map[string]any, 0, len(visible))
	docs := make(map[string]models.Document, len(visible))
	for _, raw := range visible {
		doc, err := models.UnmarshalDocument(raw)
		if err != nil {
			return ports.SearchPage{}, err
		}
		m, err := doc.ToMap()
		if err != nil {
			return ports.SearchPage{}, err
		}
		if !query.MatchMap(q.Where, m) {
			continue
		}
		maps = append(maps, m)
		docs[doc.ID] = doc
	}
	query.SortMaps(maps, q.OrderBy)
	if q.Limit > 0 && len(maps) > q.Limit {
		maps = maps[:q.Limit]
	}

	page := ports.SearchPage{Total: len(maps)}
	if from >= len(maps) {
		return page, nil
	}
	end := len(maps)
	if size > 0 && from+size < end {
		end = from + size
	}
	for _, m := range maps[from:end] {
		docID, _ := m[models.DocFieldID].(string)
		doc, err := q.Projection.Apply(docs[docID])
		if err != nil {
			return ports.SearchPage{}, err
		}
		page.Hits = append(page.Hits, doc)
	}
	return page, nil
}
