// Package lifecycle implements the lifecycle log of archival units and
// object groups.
//
// Every objectIdentifier moves through a two-location protocol: changes are
// staged in the InProcess collection, then committed into the durable
// collection or rolled back by deleting the staged entry. The InProcess
// primary key guarantees at most one staged entry per object.
package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/sentinel"
)

const defaultTxTimeout = 5 * time.Second

// Store is the document store slice the lifecycle log needs.
type Store interface {
	Create(ctx context.Context, c models.Collection, tenant id.TenantID, doc models.Document) error
	CreateMany(ctx context.Context, c models.Collection, tenant id.TenantID, docs []models.Document) error
	FindByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (models.Document, bool, error)
	UpdateByID(ctx context.Context, c models.Collection, tenant id.TenantID, docID string, mut models.Mutation) (int, error)
	Delete(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) error
	Exists(ctx context.Context, c models.Collection, tenant id.TenantID, docID string) (bool, error)
	Find(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query) (ports.Cursor, error)
}

// Transactor makes the store calls inside fn commit or roll back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Mirror propagates committed documents to the search index.
type Mirror interface {
	Sync(ctx context.Context, c models.Collection, tenant id.TenantID, docs ...models.Document) error
}

// Service is the lifecycle log of one flavour.
type Service struct {
	kind       models.LifecycleKind
	store      Store
	tx         Transactor
	mirror     Mirror
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxResults int
	txTimeout  time.Duration
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

// WithMaxResults caps reads whose $limit is absent or larger.
func WithMaxResults(n int) Option {
	return func(s *Service) {
		s.maxResults = n
	}
}

// WithTxTimeout bounds transactions started without a caller deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// New constructs the lifecycle log for kind.
func New(kind models.LifecycleKind, store Store, tx Transactor, mirror Mirror, opts ...Option) *Service {
	s := &Service{
		kind:      kind,
		store:     store,
		tx:        tx,
		mirror:    mirror,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		txTimeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the lifecycle flavour.
func (s *Service) Kind() models.LifecycleKind {
	return s.kind
}

func (s *Service) committed() models.Collection { return s.kind.Committed() }
func (s *Service) inProcess() models.Collection { return s.kind.InProcess() }

func (s *Service) subject(objectID string) string {
	return s.kind.String() + " lifecycle " + objectID
}

// runInTx applies the transaction timeout when ctx has no deadline.
func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	return s.tx.RunInTx(ctx, fn)
}

func (s *Service) transition(name string, err error) {
	s.metrics.IncrementWrite(string(s.committed()), name, err)
	if err == nil {
		s.metrics.IncrementTransition(s.kind.String(), name)
	}
}

func validateOwned(processID string, e models.Event, creation bool) error {
	validate := e.Validate
	if creation {
		validate = e.ValidateCreation
	}
	if err := validate(); err != nil {
		return err
	}
	if e.EventIdentifierProcess != processID {
		return dErrors.Newf(dErrors.CodeValidation,
			"event belongs to process %q, not %q", e.EventIdentifierProcess, processID)
	}
	return nil
}

func validateIDs(processID, objectID string) error {
	if err := id.ValidateIdentifier("process id", processID); err != nil {
		return err
	}
	return id.ValidateIdentifier("object identifier", objectID)
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
