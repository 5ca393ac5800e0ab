package lifecycle

import (
	"context"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
)

// ExistsCommitted reports whether objectID has a committed lifecycle.
func (s *Service) ExistsCommitted(ctx context.Context, tenant id.TenantID, objectID string) (bool, error) {
	ok, err := s.store.Exists(ctx, s.committed(), tenant, objectID)
	if err != nil {
		return false, translateStoreError(err, s.subject(objectID))
	}
	return ok, nil
}

// GetByID returns the committed lifecycle document.
func (s *Service) GetByID(ctx context.Context, tenant id.TenantID, objectID string, restricted bool) (models.Document, error) {
	doc, err := s.findCommitted(ctx, tenant, objectID)
	if err != nil {
		return models.Document{}, err
	}
	return doc.View(restricted), nil
}

// GetFull returns the typed lifecycle with every event untruncated.
func (s *Service) GetFull(ctx context.Context, tenant id.TenantID, objectID string) (*models.Lifecycle, error) {
	doc, err := s.findCommitted(ctx, tenant, objectID)
	if err != nil {
		return nil, err
	}
	return models.NewLifecycle(s.kind, doc), nil
}

// GetInProcess returns the staged entry of objectID.
func (s *Service) GetInProcess(ctx context.Context, tenant id.TenantID, objectID string) (models.Document, error) {
	doc, found, err := s.store.FindByID(ctx, s.inProcess(), tenant, objectID)
	if err != nil {
		return models.Document{}, translateStoreError(err, "staged "+s.subject(objectID))
	}
	if !found {
		return models.Document{}, dErrors.Newf(dErrors.CodeNotFound, "no staged change for %s", s.subject(objectID))
	}
	return doc, nil
}

func (s *Service) findCommitted(ctx context.Context, tenant id.TenantID, objectID string) (models.Document, error) {
	doc, found, err := s.store.FindByID(ctx, s.committed(), tenant, objectID)
	if err != nil {
		return models.Document{}, translateStoreError(err, s.subject(objectID))
	}
	if !found {
		return models.Document{}, dErrors.Newf(dErrors.CodeNotFound, "%s not found", s.subject(objectID))
	}
	return doc, nil
}

// FindCommitted returns the committed lifecycles matching q.
func (s *Service) FindCommitted(ctx context.Context, tenant id.TenantID, q *query.Query, restricted bool) ([]models.Document, error) {
	if q == nil {
		q = query.All()
	}
	if s.maxResults > 0 && (q.Limit == 0 || q.Limit > s.maxResults) {
		q = q.WithLimit(s.maxResults)
	}
	return s.find(ctx, tenant, q, restricted || q.Projection.Slice)
}

// GetOneCommitted returns the first committed lifecycle matching q.
func (s *Service) GetOneCommitted(ctx context.Context, tenant id.TenantID, q *query.Query, restricted bool) (models.Document, error) {
	if q == nil {
		q = query.All()
	}
	docs, err := s.find(ctx, tenant, q.WithLimit(1), restricted || q.Projection.Slice)
	if err != nil {
		return models.Document{}, err
	}
	if len(docs) == 0 {
		return models.Document{}, dErrors.Newf(dErrors.CodeNotFound, "no %s lifecycle matches the query", s.kind)
	}
	return docs[0], nil
}

func (s *Service) find(ctx context.Context, tenant id.TenantID, q *query.Query, restricted bool) ([]models.Document, error) {
	cur, err := s.store.Find(ctx, s.committed(), tenant, q)
	if err != nil {
		return nil, translateStoreError(err, s.kind.String()+" lifecycles")
	}
	defer cur.Close()

	var out []models.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document().View(restricted))
	}
	if err := cur.Err(); err != nil {
		return nil, translateStoreError(err, s.kind.String()+" lifecycles")
	}
	if err := ctx.Err(); err != nil {
		return nil, translateStoreError(err, s.kind.String()+" lifecycles")
	}
	return out, nil
}
