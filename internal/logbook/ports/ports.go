// Package ports declares the storage and messaging contracts the logbook
// services depend on. Adapters live under internal/logbook/store and
// internal/logbook/indexsync.
package ports

import (
	"context"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
)

// DocumentStore is the authoritative, tenant-scoped document store.
//
// Every method filters by tenant itself; a filter supplied by a caller can
// never widen the set of visible documents beyond that tenant.
type DocumentStore interface {
	// Create inserts a new document. Returns sentinel.ErrAlreadyExists when
	// the key is taken.
	Create(ctx context.Context, c models.Collection, tenant id.TenantID, doc models.Document) error
	// CreateMany inserts every document or none.
	CreateMany(ctx context.Context, c models.Collection, tenant id.TenantID, docs []models.Document) error
	// FindByID reports found=false instead of failing for absent documents.
	FindByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (models.Document, bool, error)
	// UpdateByID pushes events and increments the version atomically.
	// Returns sentinel.ErrNotFound when absent, sentinel.ErrConflict when
	// ExpectedVersion no longer matches.
	UpdateByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string, mut models.Mutation) (int, error)
	// Delete removes a document. Returns sentinel.ErrNotFound when absent.
	Delete(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) error
	Exists(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (bool, error)
	// Find returns a lazy cursor; each call starts a fresh scan.
	Find(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query) (Cursor, error)
}

// Cursor iterates over Find results. Close must always be called.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() models.Document
	Err() error
	Close() error
}

// Transactor runs fn so that every DocumentStore call made with the context
// it receives commits or rolls back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BulkItemResult is the outcome of one document in a bulk upsert.
type BulkItemResult struct {
	ID  string
	Err error
}

// BulkResult collects per-item outcomes; a partial failure does not fail the
// batch.
type BulkResult struct {
	Items []BulkItemResult
}

// Failed returns the ids whose upsert failed.
func (r BulkResult) Failed() []string {
	var ids []string
	for _, item := range r.Items {
		if item.Err != nil {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// FirstError returns the first per-item failure, if any.
func (r BulkResult) FirstError() error {
	for _, item := range r.Items {
		if item.Err != nil {
			return item.Err
		}
	}
	return nil
}

// SearchPage is one page of search hits. Total counts every visible match.
type SearchPage struct {
	Total int
	Hits  []models.Document
}

// SearchIndex is the secondary, eventually consistent index. Writes become
// visible to Search only after Refresh.
type SearchIndex interface {
	EnsureIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error
	BulkUpsert(ctx context.Context, c models.Collection, tenant id.TenantID, docs map[string][]byte) (BulkResult, error)
	Refresh(ctx context.Context, c models.Collection, tenant id.TenantID) error
	Search(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query, from, size int) (SearchPage, error)
	// DropIndex is destructive; test and reset tooling only.
	DropIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error
}

// ResyncPublisher hands resync requests to whatever repairs the index.
type ResyncPublisher interface {
	Publish(ctx context.Context, req models.ResyncRequest) error
}
