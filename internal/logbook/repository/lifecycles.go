package repository

import (
	"context"
	"encoding/json"

	"logbook/internal/logbook/lifecycle"
	"logbook/internal/logbook/models"
	id "logbook/pkg/domain"
)

// Lifecycles is the tenant-enforcing view of one lifecycle flavour.
// Staging methods write to the InProcess collection; ForceUpdate is the only
// path that mutates a committed lifecycle without staging.
type Lifecycles struct {
	repo *Repository
	svc  *lifecycle.Service
}

func (l *Lifecycles) method(name string) string {
	return l.svc.Kind().String() + "." + name
}

func (l *Lifecycles) write(ctx context.Context, name string, c models.Collection, objectID string,
	fn func(context.Context, id.TenantID) (models.WriteResult, error),
) (models.WriteResult, error) {
	return call(ctx, l.repo, l.method(name), c, objectID, fn)
}

func (l *Lifecycles) StageCreate(ctx context.Context, processID, objectID string, event models.Event) (models.WriteResult, error) {
	return l.write(ctx, "StageCreate", l.svc.Kind().InProcess(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.StageCreate(ctx, tenant, processID, objectID, event)
		})
}

func (l *Lifecycles) StageCreateBulk(ctx context.Context, processID string, batches ...models.LifecycleBatch) ([]models.WriteResult, error) {
	return call(ctx, l.repo, l.method("StageCreateBulk"), l.svc.Kind().InProcess(), "",
		func(ctx context.Context, tenant id.TenantID) ([]models.WriteResult, error) {
			return l.svc.StageCreateBulk(ctx, tenant, processID, batches...)
		})
}

func (l *Lifecycles) StageUpdate(ctx context.Context, processID, objectID string, event models.Event) (models.WriteResult, error) {
	return l.write(ctx, "StageUpdate", l.svc.Kind().InProcess(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.StageUpdate(ctx, tenant, processID, objectID, event)
		})
}

func (l *Lifecycles) StageUpdateBulk(ctx context.Context, processID string, batches ...models.LifecycleBatch) ([]models.WriteResult, error) {
	return call(ctx, l.repo, l.method("StageUpdateBulk"), l.svc.Kind().InProcess(), "",
		func(ctx context.Context, tenant id.TenantID) ([]models.WriteResult, error) {
			return l.svc.StageUpdateBulk(ctx, tenant, processID, batches...)
		})
}

// Commit applies whichever change is staged for objectID.
func (l *Lifecycles) Commit(ctx context.Context, objectID string) (models.WriteResult, error) {
	return l.write(ctx, "Commit", l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.Commit(ctx, tenant, objectID)
		})
}

func (l *Lifecycles) CommitCreate(ctx context.Context, objectID string) (models.WriteResult, error) {
	return l.write(ctx, "CommitCreate", l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.CommitCreate(ctx, tenant, objectID)
		})
}

func (l *Lifecycles) CommitUpdate(ctx context.Context, objectID string) (models.WriteResult, error) {
	return l.write(ctx, "CommitUpdate", l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.CommitUpdate(ctx, tenant, objectID)
		})
}

// Rollback discards the change processID staged for objectID.
func (l *Lifecycles) Rollback(ctx context.Context, processID, objectID string) error {
	_, err := call(ctx, l.repo, l.method("Rollback"), l.svc.Kind().InProcess(), objectID,
		func(ctx context.Context, tenant id.TenantID) (struct{}, error) {
			return struct{}{}, l.svc.Rollback(ctx, tenant, processID, objectID)
		})
	return err
}

// ForceUpdate appends a correction to the committed lifecycle without
// staging. Reserved for administrative fixes.
func (l *Lifecycles) ForceUpdate(ctx context.Context, processID, objectID string, event models.Event) (models.WriteResult, error) {
	return l.write(ctx, "ForceUpdate", l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return l.svc.ForceUpdate(ctx, tenant, processID, objectID, event)
		})
}

func (l *Lifecycles) Exists(ctx context.Context, objectID string) (bool, error) {
	return call(ctx, l.repo, l.method("Exists"), l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (bool, error) {
			return l.svc.ExistsCommitted(ctx, tenant, objectID)
		})
}

func (l *Lifecycles) GetByID(ctx context.Context, objectID string, restricted bool) (models.Document, error) {
	return call(ctx, l.repo, l.method("GetByID"), l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.Document, error) {
			doc, err := l.svc.GetByID(ctx, tenant, objectID, restricted)
			if err != nil {
				return models.Document{}, err
			}
			return doc, owned(tenant, doc)
		})
}

// GetFull returns every event untruncated, whatever the caller's disclosure
// level on list reads.
func (l *Lifecycles) GetFull(ctx context.Context, objectID string) (*models.Lifecycle, error) {
	return call(ctx, l.repo, l.method("GetFull"), l.svc.Kind().Committed(), objectID,
		func(ctx context.Context, tenant id.TenantID) (*models.Lifecycle, error) {
			lc, err := l.svc.GetFull(ctx, tenant, objectID)
			if err != nil {
				return nil, err
			}
			if err := owned(tenant, models.Document{ID: lc.ObjectIdentifier, Tenant: lc.Tenant}); err != nil {
				return nil, err
			}
			return lc, nil
		})
}

func (l *Lifecycles) GetInProcess(ctx context.Context, objectID string) (models.Document, error) {
	return call(ctx, l.repo, l.method("GetInProcess"), l.svc.Kind().InProcess(), objectID,
		func(ctx context.Context, tenant id.TenantID) (models.Document, error) {
			doc, err := l.svc.GetInProcess(ctx, tenant, objectID)
			if err != nil {
				return models.Document{}, err
			}
			return doc, owned(tenant, doc)
		})
}

func (l *Lifecycles) Find(ctx context.Context, dsl json.RawMessage, restricted bool) ([]models.Document, error) {
	return call(ctx, l.repo, l.method("Find"), l.svc.Kind().Committed(), "",
		func(ctx context.Context, tenant id.TenantID) ([]models.Document, error) {
			q, err := parseDSL(dsl)
			if err != nil {
				return nil, err
			}
			docs, err := l.svc.FindCommitted(ctx, tenant, q, restricted)
			if err != nil {
				return nil, err
			}
			return docs, owned(tenant, docs...)
		})
}

func (l *Lifecycles) GetOne(ctx context.Context, dsl json.RawMessage, restricted bool) (models.Document, error) {
	return call(ctx, l.repo, l.method("GetOne"), l.svc.Kind().Committed(), "",
		func(ctx context.Context, tenant id.TenantID) (models.Document, error) {
			q, err := parseDSL(dsl)
			if err != nil {
				return models.Document{}, err
			}
			doc, err := l.svc.GetOneCommitted(ctx, tenant, q, restricted)
			if err != nil {
				return models.Document{}, err
			}
			return doc, owned(tenant, doc)
		})
}
