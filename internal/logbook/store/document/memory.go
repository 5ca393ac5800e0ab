package document

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
	txcontext "logbook/pkg/platform/tx"
)

type bucketKey struct {
	collection models.Collection
	tenant     id.TenantID
}

type stored struct {
	doc models.Document
	seq int64
}

// InMemory is a DocumentStore for tests and single-process use.
//
// Stored documents are replaced wholesale on every write and never mutated in
// place, so a transaction snapshot only needs to copy the maps.
type InMemory struct {
	// txMu excludes plain calls while a transaction runs; calls made inside
	// the transaction carry a marker and skip it.
	txMu    sync.RWMutex
	mu      sync.RWMutex
	buckets map[bucketKey]map[string]stored
	seq     int64
	now     func() time.Time
}

// MemoryOption configures an InMemory store.
type MemoryOption func(*InMemory)

// WithClock overrides the clock used for _lastPersistedDate.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemory) {
		s.now = now
	}
}

// NewInMemory creates an empty store.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		buckets: make(map[bucketKey]map[string]stored),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clear removes every document.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[bucketKey]map[string]stored)
}

// RunInTx runs fn atomically: on error every write made through the context
// handed to fn is undone. Transactions are serialized.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txcontext.HasMarker(ctx, s) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.restore(snapshot)
				panic(r)
			}
		}()
		return fn(txcontext.WithMarker(ctx, s))
	}()
	if err != nil {
		s.restore(snapshot)
	}
	return err
}

func (s *InMemory) snapshot() map[bucketKey]map[string]stored {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[bucketKey]map[string]stored, len(s.buckets))
	for k, docs := range s.buckets {
		cp := make(map[string]stored, len(docs))
		for docID, d := range docs {
			cp[docID] = d
		}
		out[k] = cp
	}
	return out
}

func (s *InMemory) restore(snapshot map[bucketKey]map[string]stored) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = snapshot
}

// guard takes the shared side of txMu unless ctx belongs to a transaction.
func (s *InMemory) guard(ctx context.Context) func() {
	if txcontext.HasMarker(ctx, s) {
		return func() {}
	}
	s.txMu.RLock()
	return s.txMu.RUnlock
}

func (s *InMemory) bucket(c models.Collection, tenant id.TenantID, create bool) map[string]stored {
	k := bucketKey{collection: c, tenant: tenant}
	docs, ok := s.buckets[k]
	if !ok && create {
		docs = make(map[string]stored)
		s.buckets[k] = docs
	}
	return docs
}

func (s *InMemory) insertLocked(c models.Collection, tenant id.TenantID, doc models.Document) {
	doc = doc.Clone()
	doc.Tenant = tenant
	doc.LastPersistedDate = s.now().UTC()
	s.seq++
	s.bucket(c, tenant, true)[doc.ID] = stored{doc: doc, seq: s.seq}
}

func (s *InMemory) Create(ctx context.Context, c models.Collection, tenant id.TenantID, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.guard(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bucket(c, tenant, false)[doc.ID]; ok {
		return fmt.Errorf("%s %s: %w", c, doc.ID, sentinel.ErrAlreadyExists)
	}
	s.insertLocked(c, tenant, doc)
	return nil
}

func (s *InMemory) CreateMany(ctx context.Context, c models.Collection, tenant id.TenantID, docs []models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.guard(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.bucket(c, tenant, false)
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, ok := existing[doc.ID]; ok {
			return fmt.Errorf("%s %s: %w", c, doc.ID, sentinel.ErrAlreadyExists)
		}
		if _, dup := seen[doc.ID]; dup {
			return fmt.Errorf("%s %s: %w", c, doc.ID, sentinel.ErrAlreadyExists)
		}
		seen[doc.ID] = struct{}{}
	}
	for _, doc := range docs {
		s.insertLocked(c, tenant, doc)
	}
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (models.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, false, err
	}
	defer s.guard(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.bucket(c, tenant, false)[docID]
	if !ok {
		return models.Document{}, false, nil
	}
	return d.doc.Clone(), true, nil
}

func (s *InMemory) UpdateByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string, m models.Mutation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.guard(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.bucket(c, tenant, false)
	d, ok := docs[docID]
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", c, docID, sentinel.ErrNotFound)
	}
	if m.ExpectedVersion != nil && *m.ExpectedVersion != d.doc.Version {
		return 0, fmt.Errorf("%s %s at version %d, expected %d: %w",
			c, docID, d.doc.Version, *m.ExpectedVersion, sentinel.ErrConflict)
	}

	next := d.doc.Clone()
	for _, e := range m.Push {
		next.Events = append(next.Events, e.Clone())
	}
	next.Version++
	next.LastPersistedDate = s.now().UTC()
	docs[docID] = stored{doc: next, seq: d.seq}
	return next.Version, nil
}

func (s *InMemory) Delete(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.guard(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.bucket(c, tenant, false)
	if _, ok := docs[docID]; !ok {
		return fmt.Errorf("%s %s: %w", c, docID, sentinel.ErrNotFound)
	}
	delete(docs, docID)
	return nil
}

func (s *InMemory) Exists(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (bool, error) {
	_, ok, err := s.FindByID(ctx, c, tenant, docID)
	return ok, err
}

// Find evaluates q over the tenant's documents in insertion order. The scan
// happens when Find is called; the cursor walks the materialized result.
func (s *InMemory) Find(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query) (ports.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q == nil {
		q = query.All()
	}
	defer s.guard(ctx)()
	s.mu.RLock()
	entries := make([]stored, 0, len(s.bucket(c, tenant, false)))
	for _, d := range s.bucket(c, tenant, false) {
		entries = append(entries, d)
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b stored) int { return int(a.seq - b.seq) })

	maps := make([]map[string]any, 0, len(entries))
	byID := make(map[string]models.Document, len(entries))
	for _, e := range entries {
		m, err := e.doc.ToMap()
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", c, e.doc.ID, err)
		}
		if !query.MatchMap(q.Where, m) {
			continue
		}
		maps = append(maps, m)
		byID[e.doc.ID] = e.doc
	}
	query.SortMaps(maps, q.OrderBy)
	if q.Limit > 0 && len(maps) > q.Limit {
		maps = maps[:q.Limit]
	}

	out := make([]models.Document, 0, len(maps))
	for _, m := range maps {
		docID, _ := m[models.DocFieldID].(string)
		doc, err := q.Projection.Apply(byID[docID])
		if err != nil {
			return nil, fmt.Errorf("project %s %s: %w", c, docID, err)
		}
		out = append(out, doc)
	}
	return NewSliceCursor(out), nil
}

// SliceCursor iterates over an already materialized result.
type SliceCursor struct {
	docs []models.Document
	pos  int
	cur  models.Document
}

// NewSliceCursor wraps docs in a cursor.
func NewSliceCursor(docs []models.Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Document() models.Document { return c.cur }

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close() error {
	c.docs = nil
	return nil
}

// Collect drains a cursor and closes it.
func Collect(ctx context.Context, cur ports.Cursor) ([]models.Document, error) {
	defer cur.Close()
	var out []models.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}
