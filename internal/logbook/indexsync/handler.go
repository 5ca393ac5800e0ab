package indexsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"logbook/internal/logbook/metrics"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/platform/kafka/consumer"
	"logbook/pkg/platform/circuit"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
)

// errRejected marks a request that can never succeed; it is not retried.
var errRejected = errors.New("resync request rejected")

// Handler repairs the index for one ResyncRequest: it re-reads the
// documents from the primary store, upserts them and refreshes the index.
// Outcomes are reported to the breaker shared with Mirror.
type Handler struct {
	store   ports.DocumentStore
	index   ports.SearchIndex
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics

	backoff    time.Duration
	maxBackoff time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithHandlerBackoff sets the wait before the first retry and its cap. The
// wait doubles after each failed attempt.
func WithHandlerBackoff(base, limit time.Duration) HandlerOption {
	return func(h *Handler) {
		if base > 0 {
			h.backoff = base
		}
		if limit >= h.backoff {
			h.maxBackoff = limit
		}
	}
}

// NewHandler creates a resync handler. Pass Mirror.Breaker() as breaker.
func NewHandler(store ports.DocumentStore, index ports.SearchIndex, breaker *circuit.Breaker, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:      store,
		index:      index,
		breaker:    breaker,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff:    defaultRetryBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.maxBackoff = max(h.maxBackoff, h.backoff)
	return h
}

// Resync applies req. Documents no longer in the primary store are skipped.
func (h *Handler) Resync(ctx context.Context, req models.ResyncRequest) error {
	if !req.Collection.IsValid() {
		h.metrics.IncrementResync("rejected")
		return fmt.Errorf("resync %s: unknown collection %q: %w", req.ID, req.Collection, errRejected)
	}

	payload := make(map[string][]byte, len(req.DocumentIDs))
	for _, docID := range req.DocumentIDs {
		doc, found, err := h.store.FindByID(ctx, req.Collection, req.Tenant, docID)
		if err != nil {
			return fmt.Errorf("resync %s: read %s: %w", req.ID, docID, err)
		}
		if !found {
			continue
		}
		raw, err := models.MarshalDocument(doc)
		if err != nil {
			return fmt.Errorf("resync %s: encode %s: %w", req.ID, docID, err)
		}
		payload[docID] = raw
	}

	if err := h.apply(ctx, req, payload); err != nil {
		if _, change := h.breaker.RecordFailure(); change.Opened {
			h.metrics.SetBreakerOpen(true)
		}
		h.metrics.IncrementResync("failed")
		return err
	}
	if _, change := h.breaker.RecordSuccess(); change.Closed {
		h.metrics.SetBreakerOpen(false)
		h.logger.InfoContext(ctx, "search index circuit closed", "breaker", h.breaker.Name())
	}
	h.metrics.IncrementResync("applied")
	h.logger.DebugContext(ctx, "resync applied",
		"request_id", req.ID,
		"index", req.Key(),
		"documents", len(payload),
	)
	return nil
}

// resyncWithRetry runs Resync until it succeeds, is rejected, ctx ends or
// retries further attempts have failed. A negative retries never gives up.
func (h *Handler) resyncWithRetry(ctx context.Context, req models.ResyncRequest, retries int) error {
	backoff := h.backoff
	for attempt := 1; ; attempt++ {
		err := h.Resync(ctx, req)
		if err == nil || errors.Is(err, errRejected) {
			return err
		}
		if retries >= 0 && attempt > retries {
			return err
		}
		h.logger.WarnContext(ctx, "resync attempt failed",
			"request_id", req.ID,
			"index", req.Key(),
			"attempt", attempt,
			"retry_in", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, h.maxBackoff)
	}
}

func (h *Handler) apply(ctx context.Context, req models.ResyncRequest, payload map[string][]byte) error {
	if err := h.index.EnsureIndex(ctx, req.Collection, req.Tenant); err != nil {
		return fmt.Errorf("resync %s: ensure index: %w", req.ID, err)
	}
	if len(payload) > 0 {
		result, err := h.index.BulkUpsert(ctx, req.Collection, req.Tenant, payload)
		if err != nil {
			return fmt.Errorf("resync %s: upsert: %w", req.ID, err)
		}
		if err := result.FirstError(); err != nil {
			return fmt.Errorf("resync %s: upsert %v: %w", req.ID, result.Failed(), err)
		}
	}
	if err := h.index.Refresh(ctx, req.Collection, req.Tenant); err != nil {
		return fmt.Errorf("resync %s: refresh: %w", req.ID, err)
	}
	return nil
}

// Handle decodes a resync request consumed from Kafka. Undecodable and
// rejected messages are logged and dropped so they do not block the
// partition. Any other failure is retried until it succeeds or ctx ends, so
// an acknowledged record has always been applied.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var req models.ResyncRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		h.metrics.IncrementResync("rejected")
		h.logger.WarnContext(ctx, "failed to unmarshal resync request",
			"key", string(msg.Key),
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	err := h.resyncWithRetry(ctx, req, -1)
	if errors.Is(err, errRejected) {
		h.logger.WarnContext(ctx, "resync request dropped",
			"request_id", req.ID,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	return err
}
