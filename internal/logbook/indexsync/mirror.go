// Package indexsync keeps the search index in step with the primary store.
//
// Writes go to the primary store first. Mirror then pushes the committed
// documents into the index; when that fails the write still stands, the
// caller receives a CodeIndexSync warning, and a ResyncRequest is published
// so a Handler can repair the index later.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/circuit"
	"logbook/pkg/platform/sentinel"
)

const (
	ReasonBreakerOpen = "breaker_open"
	ReasonBulkFailed  = "bulk_failed"
	ReasonItemsFailed = "items_failed"
	ReasonEncode      = "encode"
)

// Mirror copies committed documents into the search index.
type Mirror struct {
	index     ports.SearchIndex
	publisher ports.ResyncPublisher
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Mirror.
type Option func(*Mirror)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		m.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Mirror) {
		m.metrics = metrics
	}
}

// WithBreaker shares a breaker with the resync Handler so successful
// repairs can close it.
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Mirror) {
		m.breaker = b
	}
}

// WithClock overrides the clock used to stamp resync requests.
func WithClock(now func() time.Time) Option {
	return func(m *Mirror) {
		m.now = now
	}
}

// NewMirror creates a mirror over index. Failed syncs are reported to
// publisher.
func NewMirror(index ports.SearchIndex, publisher ports.ResyncPublisher, opts ...Option) *Mirror {
	m := &Mirror{
		index:     index,
		publisher: publisher,
		breaker:   circuit.New("search-index"),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker exposes the breaker guarding index writes.
func (m *Mirror) Breaker() *circuit.Breaker {
	return m.breaker
}

// Sync upserts docs into the index. It never fails the caller's write: the
// returned error, when not nil, carries CodeIndexSync and is a warning.
func (m *Mirror) Sync(ctx context.Context, c models.Collection, tenant id.TenantID, docs ...models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	payload := make(map[string][]byte, len(docs))
	var failed []string
	for _, doc := range docs {
		raw, err := models.MarshalDocument(doc)
		if err != nil {
			failed = append(failed, doc.ID)
			continue
		}
		payload[doc.ID] = raw
	}
	if len(failed) > 0 {
		return m.fail(ctx, c, tenant, failed, ReasonEncode, errors.New("document encoding failed"))
	}

	if m.breaker.IsOpen() {
		return m.fail(ctx, c, tenant, ids(docs), ReasonBreakerOpen, errors.New("search index circuit open"))
	}

	result, err := m.index.BulkUpsert(ctx, c, tenant, payload)
	if errors.Is(err, sentinel.ErrNotFound) {
		if err = m.index.EnsureIndex(ctx, c, tenant); err == nil {
			result, err = m.index.BulkUpsert(ctx, c, tenant, payload)
		}
	}
	if err != nil {
		m.recordFailure()
		return m.fail(ctx, c, tenant, ids(docs), ReasonBulkFailed, err)
	}
	m.recordSuccess()

	if failed := result.Failed(); len(failed) > 0 {
		return m.fail(ctx, c, tenant, failed, ReasonItemsFailed, result.FirstError())
	}
	return nil
}

func (m *Mirror) fail(ctx context.Context, c models.Collection, tenant id.TenantID, docIDs []string, reason string, cause error) error {
	m.metrics.IncrementIndexSyncFailure(string(c), reason)
	m.logger.WarnContext(ctx, "search index sync failed",
		"collection", c,
		"tenant", tenant,
		"ids", docIDs,
		"reason", reason,
		"error", cause,
	)

	req := models.NewResyncRequest(c, tenant, docIDs, reason, m.now().UTC())
	if err := m.publisher.Publish(ctx, req); err != nil {
		m.metrics.IncrementResync("failed")
		m.logger.ErrorContext(ctx, "resync request not published",
			"request_id", req.ID,
			"index", req.Key(),
			"error", err,
		)
	} else {
		m.metrics.IncrementResync("published")
	}

	return dErrors.Wrap(cause, dErrors.CodeIndexSync,
		fmt.Sprintf("index %s not updated for %d document(s)", models.IndexName(c, tenant), len(docIDs)))
}

func (m *Mirror) recordFailure() {
	if _, change := m.breaker.RecordFailure(); change.Opened {
		m.metrics.SetBreakerOpen(true)
		m.logger.Warn("search index circuit opened", "breaker", m.breaker.Name())
	}
}

func (m *Mirror) recordSuccess() {
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.metrics.SetBreakerOpen(false)
		m.logger.Info("search index circuit closed", "breaker", m.breaker.Name())
	}
}

func ids(docs []models.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
