// Package admin exposes the search index lifecycle tooling (ensure, refresh,
// drop) and process health over HTTP. The index routes require the admin
// token.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/httputil"
	adminmw "logbook/pkg/platform/middleware/admin"
	request "logbook/pkg/platform/middleware/request"
	"logbook/pkg/platform/sentinel"
	"logbook/pkg/requestcontext"
)

const maxSearchBody = 64 << 10

// Index is the slice of the search index the tooling drives.
type Index interface {
	EnsureIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error
	Refresh(ctx context.Context, c models.Collection, tenant id.TenantID) error
	DropIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error
}

// Searcher runs index searches for the tenant carried by ctx.
type Searcher interface {
	Search(ctx context.Context, c models.Collection, dsl json.RawMessage, from, size int, restricted bool) (ports.SearchPage, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler serves /admin/indexes, /healthz and /metrics.
type Handler struct {
	index         Index
	searcher      Searcher
	tenants       []id.TenantID
	token         string
	logger        *slog.Logger
	metrics       http.Handler
	checks        map[string]HealthCheck
	healthTimeout time.Duration
	parallelism   int
}

// Option configures the Handler.
type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetricsHandler serves the Prometheus registry at /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithSearcher enables the search route used to inspect an index.
func WithSearcher(searcher Searcher) Option {
	return func(h *Handler) {
		h.searcher = searcher
	}
}

// WithHealthCheck adds a named dependency probe to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// WithParallelism bounds concurrent index calls in ensure-all.
func WithParallelism(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.parallelism = n
		}
	}
}

// New creates the handler. tenants is the set ensure-all works on.
func New(index Index, tenants []id.TenantID, adminToken string, opts ...Option) *Handler {
	h := &Handler{
		index:         index,
		tenants:       tenants,
		token:         adminToken,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		checks:        make(map[string]HealthCheck),
		healthTimeout: 2 * time.Second,
		parallelism:   4,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/admin/indexes", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(h.token, h.logger))
		r.Post("/ensure-all", h.handleEnsureAll)
		r.Route("/{collection}/tenants/{tenant}", func(r chi.Router) {
			r.Put("/", h.handleEnsure)
			r.Post("/refresh", h.handleRefresh)
			r.Delete("/", h.handleDrop)
			if h.searcher != nil {
				r.Post("/search", h.handleSearch)
			}
		})
	})
}

// IndexResponse acknowledges a single index call.
type IndexResponse struct {
	Index      string `json:"index"`
	Collection string `json:"collection"`
	Tenant     int    `json:"tenant"`
}

// EnsureAllResponse lists the indexes ensure-all touched.
type EnsureAllResponse struct {
	Ensured []string `json:"ensured"`
}

// SearchResponse is one page of index hits.
type SearchResponse struct {
	Total int               `json:"total"`
	Hits  []models.Document `json:"hits"`
}

// HealthResponse reports each dependency as "ok" or its error.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleEnsure(w http.ResponseWriter, r *http.Request) {
	h.indexCall(w, r, "ensure", h.index.EnsureIndex)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.indexCall(w, r, "refresh", h.index.Refresh)
}

func (h *Handler) handleDrop(w http.ResponseWriter, r *http.Request) {
	h.indexCall(w, r, "drop", h.index.DropIndex)
}

func (h *Handler) indexCall(w http.ResponseWriter, r *http.Request, action string,
	fn func(context.Context, models.Collection, id.TenantID) error,
) {
	ctx := r.Context()
	c, tenant, err := parseTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := fn(ctx, c, tenant); err != nil {
		err = translateIndexError(err, c, tenant)
		h.logger.WarnContext(ctx, "index "+action+" failed",
			"request_id", request.GetRequestID(ctx),
			"collection", c,
			"tenant", tenant,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "index "+action,
		"request_id", request.GetRequestID(ctx),
		"collection", c,
		"tenant", tenant,
	)
	httputil.WriteJSON(w, http.StatusOK, IndexResponse{
		Index:      models.IndexName(c, tenant),
		Collection: c.String(),
		Tenant:     int(tenant),
	})
}

// handleSearch runs the DSL in the body against one tenant's index. from,
// size and restricted come from the query string; hits are sliced unless
// restricted=false.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	c, tenant, err := parseTarget(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	from, err := intParam(r, "from", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	size, err := intParam(r, "size", 20)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	restricted := true
	if raw := r.URL.Query().Get("restricted"); raw != "" {
		if restricted, err = strconv.ParseBool(raw); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "restricted must be a boolean"))
			return
		}
	}
	dsl, err := io.ReadAll(io.LimitReader(r.Body, maxSearchBody))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ctx := requestcontext.WithTenantID(r.Context(), tenant)
	page, err := h.searcher.Search(ctx, c, dsl, from, size, restricted)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	hits := page.Hits
	if hits == nil {
		hits = []models.Document{}
	}
	httputil.WriteJSON(w, http.StatusOK, SearchResponse{Total: page.Total, Hits: hits})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// handleEnsureAll creates every mirrored collection's index for every
// configured tenant.
func (h *Handler) handleEnsureAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ensured, err := EnsureAll(ctx, h.index, h.tenants, h.parallelism)
	if err != nil {
		h.logger.ErrorContext(ctx, "ensure-all failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EnsureAllResponse{Ensured: ensured})
}

// EnsureAll ensures the index of every mirrored collection for every tenant,
// at most parallelism at a time. The returned names are sorted.
func EnsureAll(ctx context.Context, index Index, tenants []id.TenantID, parallelism int) ([]string, error) {
	var (
		mu      sync.Mutex
		ensured []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, tenant := range tenants {
		for _, c := range models.IndexedCollections() {
			g.Go(func() error {
				if err := index.EnsureIndex(gctx, c, tenant); err != nil {
					return translateIndexError(err, c, tenant)
				}
				mu.Lock()
				ensured = append(ensured, models.IndexName(c, tenant))
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(ensured)
	return ensured, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range h.checks {
		g.Go(func() error {
			result := "ok"
			if err := check(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			resp.Checks[name] = result
			if result != "ok" {
				resp.Status = "degraded"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func parseTarget(r *http.Request) (models.Collection, id.TenantID, error) {
	c, err := models.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		return "", 0, err
	}
	if c.IsInProcess() {
		return "", 0, dErrors.Newf(dErrors.CodeBadRequest, "collection %s has no search index", c)
	}
	tenant, err := id.ParseTenantID(chi.URLParam(r, "tenant"))
	if err != nil {
		return "", 0, err
	}
	return c, tenant, nil
}

func translateIndexError(err error, c models.Collection, tenant id.TenantID) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "index %s does not exist", models.IndexName(c, tenant))
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "search index unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "index call aborted")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "index call failed")
}
