package lifecycle

import (
	"context"
	"errors"

	"logbook/internal/logbook/models"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/sentinel"
)

// StageCreate records the creation of objectID in the InProcess collection.
// Fails with CodeAlreadyExists when the object is committed or staged.
func (s *Service) StageCreate(ctx context.Context, tenant id.TenantID, processID, objectID string, event models.Event) (models.WriteResult, error) {
	if err := validateIDs(processID, objectID); err != nil {
		return models.WriteResult{}, err
	}
	if err := validateOwned(processID, event, true); err != nil {
		return models.WriteResult{}, err
	}
	err := s.stageCreate(ctx, tenant, processID, []models.LifecycleBatch{{ObjectIdentifier: objectID, Events: []models.Event{event}}})
	s.transition("stage_create", err)
	if err != nil {
		return models.WriteResult{}, err
	}
	return models.WriteResult{ID: objectID}, nil
}

// StageCreateBulk stages several creations for one process, all or none.
func (s *Service) StageCreateBulk(ctx context.Context, tenant id.TenantID, processID string, batches ...models.LifecycleBatch) ([]models.WriteResult, error) {
	if err := validateBatches(processID, batches, true); err != nil {
		return nil, err
	}
	err := s.stageCreate(ctx, tenant, processID, batches)
	s.transition("stage_create_bulk", err)
	if err != nil {
		return nil, err
	}
	results := make([]models.WriteResult, 0, len(batches))
	for _, b := range batches {
		results = append(results, models.WriteResult{ID: b.ObjectIdentifier})
	}
	return results, nil
}

func (s *Service) stageCreate(ctx context.Context, tenant id.TenantID, processID string, batches []models.LifecycleBatch) error {
	docs := make([]models.Document, 0, len(batches))
	for _, b := range batches {
		docs = append(docs, models.Document{
			ID:        b.ObjectIdentifier,
			Tenant:    tenant,
			Version:   0,
			Events:    b.Events,
			Stage:     models.StageCreate,
			ProcessID: processID,
		})
	}
	return s.runInTx(ctx, func(ctx context.Context) error {
		for _, doc := range docs {
			exists, err := s.store.Exists(ctx, s.committed(), tenant, doc.ID)
			if err != nil {
				return translateStoreError(err, s.subject(doc.ID))
			}
			if exists {
				return dErrors.Newf(dErrors.CodeAlreadyExists, "%s already exists", s.subject(doc.ID))
			}
		}
		if len(docs) == 1 {
			return translateStoreError(s.store.Create(ctx, s.inProcess(), tenant, docs[0]),
				"staged "+s.subject(docs[0].ID))
		}
		return translateStoreError(s.store.CreateMany(ctx, s.inProcess(), tenant, docs), "staged lifecycles")
	})
}

// StageUpdate stages event against the committed objectID. At most one
// staged entry may be pending; a second one fails with CodeAlreadyExists and
// changes nothing.
func (s *Service) StageUpdate(ctx context.Context, tenant id.TenantID, processID, objectID string, event models.Event) (models.WriteResult, error) {
	if err := validateIDs(processID, objectID); err != nil {
		return models.WriteResult{}, err
	}
	if err := validateOwned(processID, event, false); err != nil {
		return models.WriteResult{}, err
	}
	bases, err := s.stageUpdate(ctx, tenant, processID, []models.LifecycleBatch{{ObjectIdentifier: objectID, Events: []models.Event{event}}})
	s.transition("stage_update", err)
	if err != nil {
		return models.WriteResult{}, err
	}
	return models.WriteResult{ID: objectID, Version: bases[0]}, nil
}

// StageUpdateBulk stages updates of several committed lifecycles for one
// process, all or none. Each result carries the base version.
func (s *Service) StageUpdateBulk(ctx context.Context, tenant id.TenantID, processID string, batches ...models.LifecycleBatch) ([]models.WriteResult, error) {
	if err := validateBatches(processID, batches, false); err != nil {
		return nil, err
	}
	bases, err := s.stageUpdate(ctx, tenant, processID, batches)
	s.transition("stage_update_bulk", err)
	if err != nil {
		return nil, err
	}
	results := make([]models.WriteResult, 0, len(batches))
	for i, b := range batches {
		results = append(results, models.WriteResult{ID: b.ObjectIdentifier, Version: bases[i]})
	}
	return results, nil
}

func (s *Service) stageUpdate(ctx context.Context, tenant id.TenantID, processID string, batches []models.LifecycleBatch) ([]int, error) {
	bases := make([]int, len(batches))
	err := s.runInTx(ctx, func(ctx context.Context) error {
		docs := make([]models.Document, 0, len(batches))
		for i, b := range batches {
			current, found, err := s.store.FindByID(ctx, s.committed(), tenant, b.ObjectIdentifier)
			if err != nil {
				return translateStoreError(err, s.subject(b.ObjectIdentifier))
			}
			if !found {
				return dErrors.Newf(dErrors.CodeNotFound, "%s not found", s.subject(b.ObjectIdentifier))
			}
			bases[i] = current.Version
			docs = append(docs, models.Document{
				ID:        b.ObjectIdentifier,
				Tenant:    tenant,
				Version:   current.Version,
				Events:    b.Events,
				Stage:     models.StageUpdate,
				ProcessID: processID,
			})
		}
		var err error
		if len(docs) == 1 {
			err = s.store.Create(ctx, s.inProcess(), tenant, docs[0])
		} else {
			err = s.store.CreateMany(ctx, s.inProcess(), tenant, docs)
		}
		if err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeAlreadyExists, "a staged change is already pending")
			}
			return translateStoreError(err, "staged lifecycles")
		}
		return nil
	})
	return bases, err
}

func validateBatches(processID string, batches []models.LifecycleBatch, creation bool) error {
	owner, err := models.ProcessIDOfBatches(batches)
	if err != nil {
		return err
	}
	if owner != processID {
		return dErrors.Newf(dErrors.CodeValidation, "events belong to process %q, not %q", owner, processID)
	}
	for _, b := range batches {
		if err := validateIDs(processID, b.ObjectIdentifier); err != nil {
			return err
		}
		for i, e := range b.Events {
			if err := validateOwned(processID, e, creation && i == 0); err != nil {
				return err
			}
		}
	}
	return nil
}
