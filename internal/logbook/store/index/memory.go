package index

import (
	"context"
	"maps"
	"slices"
	"sync"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
)

type memoryIndex struct {
	pending map[string][]byte
	visible map[string][]byte
	order   []string
	// newest accepted _v per document, pending or visible
	versions map[string]int
}

// InMemory is a SearchIndex held in process memory.
type InMemory struct {
	mu      sync.RWMutex
	indexes map[string]*memoryIndex
}

// NewInMemory creates an index store with no indexes.
func NewInMemory() *InMemory {
	return &InMemory{indexes: make(map[string]*memoryIndex)}
}

func (s *InMemory) EnsureIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := models.IndexName(c, tenant)
	if _, ok := s.indexes[name]; !ok {
		s.indexes[name] = &memoryIndex{
			pending:  make(map[string][]byte),
			visible:  make(map[string][]byte),
			versions: make(map[string]int),
		}
	}
	return nil
}

// BulkUpsert stages payloads for the next refresh. A payload whose _v is
// older than the one already held for its id is skipped and reported as
// written.
func (s *InMemory) BulkUpsert(ctx context.Context, c models.Collection, tenant id.TenantID, docs map[string][]byte) (ports.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.BulkResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[models.IndexName(c, tenant)]
	if !ok {
		return ports.BulkResult{}, missingIndex(c, tenant)
	}

	result := ports.BulkResult{Items: make([]ports.BulkItemResult, 0, len(docs))}
	for _, docID := range sortedKeys(docs) {
		raw := docs[docID]
		version, err := decodeItem(tenant, docID, raw)
		if err != nil {
			result.Items = append(result.Items, ports.BulkItemResult{ID: docID, Err: err})
			continue
		}
		// A stale payload loses to the newer one already held.
		if current, ok := idx.versions[docID]; !ok || version >= current {
			idx.pending[docID] = append([]byte(nil), raw...)
			idx.versions[docID] = version
		}
		result.Items = append(result.Items, ports.BulkItemResult{ID: docID})
	}
	return result, nil
}

func (s *InMemory) Refresh(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[models.IndexName(c, tenant)]
	if !ok {
		return missingIndex(c, tenant)
	}
	for _, docID := range sortedKeys(idx.pending) {
		if _, seen := idx.visible[docID]; !seen {
			idx.order = append(idx.order, docID)
		}
		idx.visible[docID] = idx.pending[docID]
	}
	clear(idx.pending)
	return nil
}

func (s *InMemory) Search(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query, from, size int) (ports.SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return ports.SearchPage{}, err
	}
	s.mu.RLock()
	idx, ok := s.indexes[models.IndexName(c, tenant)]
	if !ok {
		s.mu.RUnlock()
		return ports.SearchPage{}, missingIndex(c, tenant)
	}
	visible := make([][]byte, 0, len(idx.order))
	for _, docID := range idx.order {
		visible = append(visible, idx.visible[docID])
	}
	s.mu.RUnlock()

	return search(visible, q, from, size)
}

func (s *InMemory) DropIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, models.IndexName(c, tenant))
	return nil
}

// Pending reports how many writes await a refresh. Test helper.
func (s *InMemory) Pending(c models.Collection, tenant id.TenantID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.indexes[models.IndexName(c, tenant)]; ok {
		return len(idx.pending)
	}
	return 0
}

// Has reports whether the index exists.
func (s *InMemory) Has(c models.Collection, tenant id.TenantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[models.IndexName(c, tenant)]
	return ok
}

func sortedKeys(m map[string][]byte) []string {
	return slices.Sorted(maps.Keys(m))
}
