package lifecycle

import (
	"context"

	"logbook/internal/logbook/models"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
)

// Commit applies whatever change is staged for objectID.
func (s *Service) Commit(ctx context.Context, tenant id.TenantID, objectID string) (models.WriteResult, error) {
	staged, err := s.GetInProcess(ctx, tenant, objectID)
	if err != nil {
		return models.WriteResult{}, err
	}
	if staged.Stage == models.StageUpdate {
		return s.CommitUpdate(ctx, tenant, objectID)
	}
	return s.CommitCreate(ctx, tenant, objectID)
}

// CommitCreate moves a staged creation into the committed collection at
// version 0 and removes the staged entry, in one transaction.
func (s *Service) CommitCreate(ctx context.Context, tenant id.TenantID, objectID string) (models.WriteResult, error) {
	err := s.runInTx(ctx, func(ctx context.Context) error {
		staged, err := s.staged(ctx, tenant, objectID, models.StageCreate)
		if err != nil {
			return err
		}
		doc := models.Document{
			ID:      objectID,
			Tenant:  tenant,
			Version: 0,
			Events:  staged.Events,
		}
		if err := s.store.Create(ctx, s.committed(), tenant, doc); err != nil {
			return translateStoreError(err, s.subject(objectID))
		}
		return translateStoreError(s.store.Delete(ctx, s.inProcess(), tenant, objectID), "staged "+s.subject(objectID))
	})
	s.transition("commit_create", err)
	if err != nil {
		return models.WriteResult{}, err
	}
	return models.WriteResult{
		ID:           objectID,
		Version:      0,
		IndexWarning: s.sync(ctx, tenant, objectID),
	}, nil
}

// CommitUpdate appends the staged events to the committed document. The
// update only applies if the committed version still equals the staged base
// version; otherwise it fails with CodeConflict and the staged entry stays.
func (s *Service) CommitUpdate(ctx context.Context, tenant id.TenantID, objectID string) (models.WriteResult, error) {
	var version int
	err := s.runInTx(ctx, func(ctx context.Context) error {
		staged, err := s.staged(ctx, tenant, objectID, models.StageUpdate)
		if err != nil {
			return err
		}
		base := staged.Version
		version, err = s.store.UpdateByID(ctx, s.committed(), tenant, objectID, models.Mutation{
			Push:            staged.Events,
			ExpectedVersion: &base,
		})
		if err != nil {
			return translateStoreError(err, s.subject(objectID))
		}
		return translateStoreError(s.store.Delete(ctx, s.inProcess(), tenant, objectID), "staged "+s.subject(objectID))
	})
	s.transition("commit_update", err)
	if err != nil {
		return models.WriteResult{}, err
	}
	return models.WriteResult{
		ID:           objectID,
		Version:      version,
		IndexWarning: s.sync(ctx, tenant, objectID),
	}, nil
}

// staged loads the staged entry and checks it waits for stage.
func (s *Service) staged(ctx context.Context, tenant id.TenantID, objectID string, stage models.Stage) (models.Document, error) {
	doc, found, err := s.store.FindByID(ctx, s.inProcess(), tenant, objectID)
	if err != nil {
		return models.Document{}, translateStoreError(err, "staged "+s.subject(objectID))
	}
	if !found {
		return models.Document{}, dErrors.Newf(dErrors.CodeNotFound, "no staged change for %s", s.subject(objectID))
	}
	if doc.Stage != stage {
		return models.Document{}, dErrors.Newf(dErrors.CodeValidation,
			"%s is staged for %s, not %s", s.subject(objectID), doc.Stage, stage)
	}
	return doc, nil
}

// Rollback discards the change processID staged for objectID. The committed
// document is never touched. Rolling back twice, or after a commit, fails
// with CodeNotFound.
func (s *Service) Rollback(ctx context.Context, tenant id.TenantID, processID, objectID string) error {
	err := s.runInTx(ctx, func(ctx context.Context) error {
		doc, found, err := s.store.FindByID(ctx, s.inProcess(), tenant, objectID)
		if err != nil {
			return translateStoreError(err, "staged "+s.subject(objectID))
		}
		if !found || doc.ProcessID != processID {
			return dErrors.Newf(dErrors.CodeNotFound, "no change staged by %s for %s", processID, s.subject(objectID))
		}
		return translateStoreError(s.store.Delete(ctx, s.inProcess(), tenant, objectID), "staged "+s.subject(objectID))
	})
	s.transition("rollback", err)
	return err
}

// ForceUpdate appends a correction event straight to the committed
// document, bypassing staging. The event is marked as a correction.
func (s *Service) ForceUpdate(ctx context.Context, tenant id.TenantID, processID, objectID string, event models.Event) (models.WriteResult, error) {
	if err := validateIDs(processID, objectID); err != nil {
		return models.WriteResult{}, err
	}
	if err := validateOwned(processID, event, false); err != nil {
		return models.WriteResult{}, err
	}
	event.Correction = true

	version, err := s.store.UpdateByID(ctx, s.committed(), tenant, objectID, models.Mutation{Push: []models.Event{event}})
	err = translateStoreError(err, s.subject(objectID))
	s.transition("force_update", err)
	if err != nil {
		return models.WriteResult{}, err
	}
	s.logger.InfoContext(ctx, "lifecycle corrected",
		"kind", s.kind.String(),
		"tenant", tenant,
		"object_id", objectID,
		"process_id", processID,
		"version", version,
	)
	return models.WriteResult{
		ID:           objectID,
		Version:      version,
		IndexWarning: s.sync(ctx, tenant, objectID),
	}, nil
}

func (s *Service) sync(ctx context.Context, tenant id.TenantID, objectID string) error {
	doc, found, err := s.store.FindByID(ctx, s.committed(), tenant, objectID)
	if err == nil && !found {
		err = dErrors.Newf(dErrors.CodeNotFound, "%s vanished after commit", s.subject(objectID))
	}
	if err != nil {
		s.logger.WarnContext(ctx, "lifecycle not re-read for index sync",
			"kind", s.kind.String(),
			"tenant", tenant,
			"object_id", objectID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeIndexSync, s.subject(objectID)+" not mirrored")
	}
	return s.mirror.Sync(ctx, s.committed(), tenant, doc)
}
