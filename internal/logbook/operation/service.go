package operation

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/sentinel"
)

const collection = models.CollectionOperation

// Store is the slice of the document store the operation log uses.
type Store interface {
	Create(ctx context.Context, c models.Collection, tenant id.TenantID, doc models.Document) error
	FindByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (models.Document, bool, error)
	UpdateByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string, mut models.Mutation) (int, error)
	Exists(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (bool, error)
	Find(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query) (ports.Cursor, error)
}

// Mirror propagates committed documents to the search index. Its error is a
// warning, never a write failure.
type Mirror interface {
	Sync(ctx context.Context, c models.Collection, tenant id.TenantID, docs ...models.Document) error
}

// Service is the operation log: append-only audit trails keyed by process id.
type Service struct {
	store      Store
	mirror     Mirror
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxResults int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxResults caps reads whose $limit is absent or larger. Zero disables
// the cap.
func WithMaxResults(n int) Option {
	return func(s *Service) {
		s.maxResults = n
	}
}

// New constructs a Service.
func New(store Store, mirror Mirror, opts ...Option) *Service {
	s := &Service{
		store:  store,
		mirror: mirror,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts the operation processID with its master event.
func (s *Service) Create(ctx context.Context, tenant id.TenantID, processID string, first models.Event) (models.WriteResult, error) {
	if err := id.ValidateIdentifier("process id", processID); err != nil {
		return models.WriteResult{}, err
	}
	if err := validateMaster(processID, first); err != nil {
		return models.WriteResult{}, err
	}
	return s.create(ctx, tenant, processID, []models.Event{first}, "create")
}

// CreateBulk creates one operation holding every event. All events must
// belong to the same process; the first is the master event.
func (s *Service) CreateBulk(ctx context.Context, tenant id.TenantID, events ...models.Event) (models.WriteResult, error) {
	processID, err := models.ProcessIDOf(events)
	if err != nil {
		return models.WriteResult{}, err
	}
	if err := id.ValidateIdentifier("process id", processID); err != nil {
		return models.WriteResult{}, err
	}
	if err := validateMaster(processID, events[0]); err != nil {
		return models.WriteResult{}, err
	}
	for _, e := range events[1:] {
		if err := e.Validate(); err != nil {
			return models.WriteResult{}, err
		}
	}
	return s.create(ctx, tenant, processID, events, "create_bulk")
}

func (s *Service) create(ctx context.Context, tenant id.TenantID, processID string, events []models.Event, op string) (models.WriteResult, error) {
	doc := models.Document{
		ID:      processID,
		Tenant:  tenant,
		Version: 0,
		Events:  events,
	}
	err := s.store.Create(ctx, collection, tenant, doc)
	s.metrics.IncrementWrite(string(collection), op, err)
	if err != nil {
		return models.WriteResult{}, translateStoreError(err, "operation "+processID)
	}
	return models.WriteResult{
		ID:           processID,
		Version:      0,
		IndexWarning: s.sync(ctx, tenant, processID),
	}, nil
}

// Append adds one event to an existing operation.
func (s *Service) Append(ctx context.Context, tenant id.TenantID, processID string, event models.Event) (models.WriteResult, error) {
	if err := event.Validate(); err != nil {
		return models.WriteResult{}, err
	}
	if event.EventIdentifierProcess != processID {
		return models.WriteResult{}, dErrors.Newf(dErrors.CodeValidation,
			"event belongs to process %q, not %q", event.EventIdentifierProcess, processID)
	}
	return s.append(ctx, tenant, processID, []models.Event{event}, "append")
}

// AppendBulk adds every event in one atomic mutation; the version moves by
// one. A batch spanning several processes fails before any write.
func (s *Service) AppendBulk(ctx context.Context, tenant id.TenantID, processID string, events ...models.Event) (models.WriteResult, error) {
	owner, err := models.ProcessIDOf(events)
	if err != nil {
		return models.WriteResult{}, err
	}
	if owner != processID {
		return models.WriteResult{}, dErrors.Newf(dErrors.CodeValidation,
			"events belong to process %q, not %q", owner, processID)
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return models.WriteResult{}, err
		}
	}
	return s.append(ctx, tenant, processID, events, "append_bulk")
}

func (s *Service) append(ctx context.Context, tenant id.TenantID, processID string, events []models.Event, op string) (models.WriteResult, error) {
	version, err := s.store.UpdateByID(ctx, collection, tenant, processID, models.Mutation{Push: events})
	s.metrics.IncrementWrite(string(collection), op, err)
	if err != nil {
		return models.WriteResult{}, translateStoreError(err, "operation "+processID)
	}
	return models.WriteResult{
		ID:           processID,
		Version:      version,
		IndexWarning: s.sync(ctx, tenant, processID),
	}, nil
}

// sync mirrors the stored state of processID.
func (s *Service) sync(ctx context.Context, tenant id.TenantID, processID string) error {
	doc, found, err := s.store.FindByID(ctx, collection, tenant, processID)
	if err == nil && !found {
		err = sentinel.ErrNotFound
	}
	if err != nil {
		s.logger.WarnContext(ctx, "operation not re-read for index sync",
			"tenant", tenant,
			"process_id", processID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeIndexSync, "operation "+processID+" not mirrored")
	}
	return s.mirror.Sync(ctx, collection, tenant, doc)
}

// Exists reports whether processID has an operation.
func (s *Service) Exists(ctx context.Context, tenant id.TenantID, processID string) (bool, error) {
	ok, err := s.store.Exists(ctx, collection, tenant, processID)
	if err != nil {
		return false, translateStoreError(err, "operation "+processID)
	}
	return ok, nil
}

// GetByID returns the operation. A restricted read keeps agent
// identification on the master event only.
func (s *Service) GetByID(ctx context.Context, tenant id.TenantID, processID string, restricted bool) (models.Document, error) {
	doc, found, err := s.store.FindByID(ctx, collection, tenant, processID)
	if err != nil {
		return models.Document{}, translateStoreError(err, "operation "+processID)
	}
	if !found {
		return models.Document{}, dErrors.Newf(dErrors.CodeNotFound, "operation %s not found", processID)
	}
	return doc.View(restricted), nil
}

// Find returns the operations matching q, capped by the configured maximum.
func (s *Service) Find(ctx context.Context, tenant id.TenantID, q *query.Query, restricted bool) ([]models.Document, error) {
	q = capQuery(q, s.maxResults)
	cur, err := s.store.Find(ctx, collection, tenant, q)
	if err != nil {
		return nil, translateStoreError(err, "operations")
	}
	defer cur.Close()

	restricted = restricted || q.Projection.Slice
	var out []models.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document().View(restricted))
	}
	if err := cur.Err(); err != nil {
		return nil, translateStoreError(err, "operations")
	}
	if err := ctx.Err(); err != nil {
		return nil, translateStoreError(err, "operations")
	}
	return out, nil
}

// GetOne returns the first operation matching q.
func (s *Service) GetOne(ctx context.Context, tenant id.TenantID, q *query.Query, restricted bool) (models.Document, error) {
	q = capQuery(q, 1)
	docs, err := s.Find(ctx, tenant, q, restricted)
	if err != nil {
		return models.Document{}, err
	}
	if len(docs) == 0 {
		return models.Document{}, dErrors.New(dErrors.CodeNotFound, "no operation matches the query")
	}
	return docs[0], nil
}

func validateMaster(processID string, first models.Event) error {
	if err := first.ValidateCreation(); err != nil {
		return err
	}
	if first.Outcome != models.OutcomeStarted {
		return dErrors.Newf(dErrors.CodeValidation,
			"operation must start with outcome %s, got %s", models.OutcomeStarted, first.Outcome)
	}
	if first.EventIdentifierProcess != processID {
		return dErrors.Newf(dErrors.CodeValidation,
			"event belongs to process %q, not %q", first.EventIdentifierProcess, processID)
	}
	return nil
}

func capQuery(q *query.Query, limit int) *query.Query {
	if q == nil {
		q = query.All()
	}
	if limit > 0 && (q.Limit == 0 || q.Limit > limit) {
		return q.WithLimit(limit)
	}
	return q
}

func translateStoreError(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.Newf(dErrors.CodeAlreadyExists, "%s already exists", subject)
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "%s not found", subject)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, subject+" was modified concurrently")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "document store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "document store call aborted")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "document store failure")
}
