// Package repository is the single entry point callers use to record and
// read logbook entries.
//
// The facade resolves the acting tenant from the request context, so no
// method takes a tenant argument. Every call gets its own span and a latency
// observation; documents belonging to another tenant are never returned.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"logbook/internal/logbook/lifecycle"
	"logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/operation"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/sentinel"
	"logbook/pkg/requestcontext"
)

const tracerName = "logbook/repository"

// Repository composes the operation log, both lifecycle logs and the search
// index behind tenant enforcement.
type Repository struct {
	operations *operation.Service
	units      *Lifecycles
	groups     *Lifecycles
	index      ports.SearchIndex
	tracer     trace.Tracer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Repository.
type Option func(*Repository)

// WithTracer replaces the globally registered tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Repository) {
		r.tracer = tracer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// New wires the facade. units and groups must be the LifecycleUnit and
// LifecycleObjectGroup flavours respectively.
func New(operations *operation.Service, units, groups *lifecycle.Service, index ports.SearchIndex, opts ...Option) *Repository {
	r := &Repository{
		operations: operations,
		index:      index,
		tracer:     otel.Tracer(tracerName),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.units = &Lifecycles{repo: r, svc: units}
	r.groups = &Lifecycles{repo: r, svc: groups}
	return r
}

// Units returns the unit lifecycle log.
func (r *Repository) Units() *Lifecycles { return r.units }

// ObjectGroups returns the object group lifecycle log.
func (r *Repository) ObjectGroups() *Lifecycles { return r.groups }

// Lifecycle returns the log of the given flavour.
func (r *Repository) Lifecycle(kind models.LifecycleKind) *Lifecycles {
	if kind == models.LifecycleObjectGroup {
		return r.groups
	}
	return r.units
}

// call runs fn for the tenant of ctx inside a span named after method.
func call[T any](ctx context.Context, r *Repository, method string, c models.Collection, docID string, fn func(context.Context, id.TenantID) (T, error)) (T, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "logbook."+method, trace.WithAttributes(
		attribute.String("logbook.collection", string(c)),
	))
	defer span.End()
	if docID != "" {
		span.SetAttributes(attribute.String("logbook.id", docID))
	}

	var (
		out T
		err error
	)
	tenant, ok := requestcontext.TenantID(ctx)
	if !ok {
		err = dErrors.New(dErrors.CodeUnauthorized, "no tenant in request context")
	} else {
		span.SetAttributes(attribute.Int("logbook.tenant", int(tenant)))
		out, err = fn(ctx, tenant)
	}

	r.metrics.ObserveCall(method, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		var zero T
		return zero, err
	}
	if w, isWrite := any(out).(models.WriteResult); isWrite && w.IndexWarning != nil {
		span.AddEvent("index sync deferred", trace.WithAttributes(attribute.String("error", w.IndexWarning.Error())))
	}
	return out, nil
}

// owned rejects documents of a tenant other than tenant.
func owned(tenant id.TenantID, docs ...models.Document) error {
	for _, doc := range docs {
		if doc.Tenant != tenant {
			return dErrors.Newf(dErrors.CodeForbidden, "document %s belongs to another tenant", doc.ID)
		}
	}
	return nil
}

// parseDSL accepts an empty body as "match everything".
func parseDSL(dsl json.RawMessage) (*query.Query, error) {
	if len(dsl) == 0 {
		return query.All(), nil
	}
	return query.Parse(dsl)
}

// CreateOperation records the master event of a new operation.
func (r *Repository) CreateOperation(ctx context.Context, processID string, first models.Event) (models.WriteResult, error) {
	return call(ctx, r, "CreateOperation", models.CollectionOperation, processID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return r.operations.Create(ctx, tenant, processID, first)
		})
}

// CreateOperationBulk creates one operation holding every event.
func (r *Repository) CreateOperationBulk(ctx context.Context, events ...models.Event) (models.WriteResult, error) {
	return call(ctx, r, "CreateOperationBulk", models.CollectionOperation, "",
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return r.operations.CreateBulk(ctx, tenant, events...)
		})
}

// AppendOperation appends one event to an operation.
func (r *Repository) AppendOperation(ctx context.Context, processID string, event models.Event) (models.WriteResult, error) {
	return call(ctx, r, "AppendOperation", models.CollectionOperation, processID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return r.operations.Append(ctx, tenant, processID, event)
		})
}

// AppendOperationBulk appends events to an operation in one mutation.
func (r *Repository) AppendOperationBulk(ctx context.Context, processID string, events ...models.Event) (models.WriteResult, error) {
	return call(ctx, r, "AppendOperationBulk", models.CollectionOperation, processID,
		func(ctx context.Context, tenant id.TenantID) (models.WriteResult, error) {
			return r.operations.AppendBulk(ctx, tenant, processID, events...)
		})
}

func (r *Repository) OperationExists(ctx context.Context, processID string) (bool, error) {
	return call(ctx, r, "OperationExists", models.CollectionOperation, processID,
		func(ctx context.Context, tenant id.TenantID) (bool, error) {
			return r.operations.Exists(ctx, tenant, processID)
		})
}

// GetOperation reads an operation, sliced when restricted is set.
func (r *Repository) GetOperation(ctx context.Context, processID string, restricted bool) (models.Document, error) {
	return call(ctx, r, "GetOperation", models.CollectionOperation, processID,
		func(ctx context.Context, tenant id.TenantID) (models.Document, error) {
			doc, err := r.operations.GetByID(ctx, tenant, processID, restricted)
			if err != nil {
				return models.Document{}, err
			}
			return doc, owned(tenant, doc)
		})
}

// FindOperations runs a DSL query against the primary store.
func (r *Repository) FindOperations(ctx context.Context, dsl json.RawMessage, restricted bool) ([]models.Document, error) {
	return call(ctx, r, "FindOperations", models.CollectionOperation, "",
		func(ctx context.Context, tenant id.TenantID) ([]models.Document, error) {
			q, err := parseDSL(dsl)
			if err != nil {
				return nil, err
			}
			docs, err := r.operations.Find(ctx, tenant, q, restricted)
			if err != nil {
				return nil, err
			}
			return docs, owned(tenant, docs...)
		})
}

// GetOneOperation returns the first operation matching the DSL query.
func (r *Repository) GetOneOperation(ctx context.Context, dsl json.RawMessage, restricted bool) (models.Document, error) {
	return call(ctx, r, "GetOneOperation", models.CollectionOperation, "",
		func(ctx context.Context, tenant id.TenantID) (models.Document, error) {
			q, err := parseDSL(dsl)
			if err != nil {
				return models.Document{}, err
			}
			doc, err := r.operations.GetOne(ctx, tenant, q, restricted)
			if err != nil {
				return models.Document{}, err
			}
			return doc, owned(tenant, doc)
		})
}

// Search queries the search index of a mirrored collection. Only documents
// promoted by a refresh are visible. Hits follow the same slicing rule as
// Find: restricted or a $slice projection hides agent fields after the
// first event.
func (r *Repository) Search(ctx context.Context, c models.Collection, dsl json.RawMessage, from, size int, restricted bool) (ports.SearchPage, error) {
	return call(ctx, r, "Search", c, "",
		func(ctx context.Context, tenant id.TenantID) (ports.SearchPage, error) {
			if c.IsInProcess() || !c.IsValid() {
				return ports.SearchPage{}, dErrors.Newf(dErrors.CodeBadRequest, "collection %s is not searchable", c)
			}
			q, err := parseDSL(dsl)
			if err != nil {
				return ports.SearchPage{}, err
			}
			page, err := r.index.Search(ctx, c, tenant, q, from, size)
			if err != nil {
				return ports.SearchPage{}, translateIndexError(err, c)
			}
			if err := owned(tenant, page.Hits...); err != nil {
				return ports.SearchPage{}, err
			}
			restricted = restricted || q.Projection.Slice
			for i, hit := range page.Hits {
				page.Hits[i] = hit.View(restricted)
			}
			return page, nil
		})
}

func translateIndexError(err error, c models.Collection) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "no search index for %s", c)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "search index unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "search aborted")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "search failed")
}
