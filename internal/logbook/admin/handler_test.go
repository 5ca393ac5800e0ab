package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/admin"
	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/lifecycle"
	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/operation"
	"logbook/internal/logbook/repository"
	"logbook/internal/logbook/store/document"
	"logbook/internal/logbook/store/index"
	id "logbook/pkg/domain"
	adminmw "logbook/pkg/platform/middleware/admin"
	"logbook/pkg/platform/sentinel"
	"logbook/pkg/testutil"
)

const token = "s3cret"

type HandlerSuite struct {
	suite.Suite
	index  *index.InMemory
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.index = index.NewInMemory()
	s.router = s.mount(admin.New(s.index, []id.TenantID{0, 1}, token,
		admin.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("logbook_writes_total 0\n"))
		})),
		admin.WithHealthCheck("postgres", func(context.Context) error { return nil }),
	))
}

func (s *HandlerSuite) mount(h *admin.Handler) chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (s *HandlerSuite) do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	return s.send(r, method, path, "")
}

func (s *HandlerSuite) send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return testutil.DoRequest(r, testutil.NewRequest(s.T(), method, path, body, adminmw.HeaderAdminToken, token))
}

func (s *HandlerSuite) TestIndexLifecycle() {
	path := "/admin/indexes/operation/tenants/7"

	s.Run("refresh before ensure is not found", func() {
		w := s.do(s.router, http.MethodPost, path+"/refresh")
		testutil.AssertStatusAndError(s.T(), w, http.StatusNotFound, "not_found")
	})

	s.Run("ensure", func() {
		w := s.do(s.router, http.MethodPut, path)
		s.Require().Equal(http.StatusOK, w.Code)
		var body admin.IndexResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal("operation_7", body.Index)
		s.Equal("Operation", body.Collection)
		s.Equal(7, body.Tenant)
		s.True(s.index.Has(models.CollectionOperation, id.TenantID(7)))
	})

	s.Run("refresh", func() {
		w := s.do(s.router, http.MethodPost, path+"/refresh")
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("drop", func() {
		w := s.do(s.router, http.MethodDelete, path)
		s.Equal(http.StatusOK, w.Code)
		s.False(s.index.Has(models.CollectionOperation, id.TenantID(7)))
	})
}

func (s *HandlerSuite) TestRejectsBadTargets() {
	for _, path := range []string{
		"/admin/indexes/nope/tenants/1",
		"/admin/indexes/LifecycleUnitInProcess/tenants/1",
		"/admin/indexes/Operation/tenants/-1",
		"/admin/indexes/Operation/tenants/abc",
	} {
		w := s.do(s.router, http.MethodPut, path)
		s.Equal(http.StatusBadRequest, w.Code, path)
	}
}

func (s *HandlerSuite) TestRequiresToken() {
	req := httptest.NewRequest(http.MethodPost, "/admin/indexes/ensure-all", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.False(s.index.Has(models.CollectionOperation, id.TenantID(0)))
}

func (s *HandlerSuite) TestEnsureAll() {
	w := s.do(s.router, http.MethodPost, "/admin/indexes/ensure-all")
	s.Require().Equal(http.StatusOK, w.Code)

	var body admin.EnsureAllResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
	s.Equal([]string{
		"lifecycleobjectgroup_0", "lifecycleobjectgroup_1",
		"lifecycleunit_0", "lifecycleunit_1",
		"operation_0", "operation_1",
	}, body.Ensured)
	for _, c := range models.IndexedCollections() {
		s.True(s.index.Has(c, id.TenantID(1)))
	}
	s.False(s.index.Has(models.CollectionLifecycleUnitInProcess, id.TenantID(1)))
}

// downIndex fails every call the way an unreachable Redis does.
type downIndex struct{}

func (downIndex) EnsureIndex(context.Context, models.Collection, id.TenantID) error {
	return sentinel.ErrUnavailable
}
func (downIndex) Refresh(context.Context, models.Collection, id.TenantID) error {
	return sentinel.ErrUnavailable
}
func (downIndex) DropIndex(context.Context, models.Collection, id.TenantID) error {
	return sentinel.ErrUnavailable
}

func (s *HandlerSuite) TestUnavailableIndex() {
	r := s.mount(admin.New(downIndex{}, []id.TenantID{0}, token))

	w := s.do(r, http.MethodPost, "/admin/indexes/ensure-all")
	testutil.AssertStatusAndError(s.T(), w, http.StatusServiceUnavailable, "store_unavailable")

	w = s.do(r, http.MethodPut, "/admin/indexes/Operation/tenants/0")
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *HandlerSuite) TestHealth() {
	s.Run("healthy", func() {
		w := s.do(s.router, http.MethodGet, "/healthz")
		s.Require().Equal(http.StatusOK, w.Code)
		var body admin.HealthResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal("ok", body.Status)
		s.Equal("ok", body.Checks["postgres"])
	})

	s.Run("degraded", func() {
		r := s.mount(admin.New(s.index, nil, token,
			admin.WithHealthCheck("postgres", func(context.Context) error { return nil }),
			admin.WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		))
		w := s.do(r, http.MethodGet, "/healthz")
		s.Require().Equal(http.StatusServiceUnavailable, w.Code)
		var body admin.HealthResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal("degraded", body.Status)
		s.Equal("connection refused", body.Checks["redis"])
	})

	s.Run("no token needed", func() {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		s.Equal(http.StatusOK, w.Code)
	})
}

func (s *HandlerSuite) TestMetrics() {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "logbook_writes_total")
}

func (s *HandlerSuite) TestSearch() {
	store := document.NewInMemory()
	mirror := indexsync.NewMirror(s.index, indexsync.NewChannelPublisher(4))
	repo := repository.New(
		operation.New(store, mirror),
		lifecycle.New(models.LifecycleUnit, store, store, mirror),
		lifecycle.New(models.LifecycleObjectGroup, store, store, mirror),
		s.index,
	)
	r := s.mount(admin.New(s.index, nil, token, admin.WithSearcher(repo)))

	for _, p := range []string{"P1", "P2", "P3"} {
		_, err := repo.CreateOperation(logbooktest.TenantContext(2), p, logbooktest.Started(p))
		s.Require().NoError(err)
	}
	s.Require().Equal(http.StatusOK, s.do(r, http.MethodPost, "/admin/indexes/Operation/tenants/2/refresh").Code)

	search := func(path, body string) *httptest.ResponseRecorder {
		return s.send(r, http.MethodPost, path, body)
	}

	s.Run("pages through hits", func() {
		w := search("/admin/indexes/Operation/tenants/2/search?from=1&size=1", "")
		s.Require().Equal(http.StatusOK, w.Code)
		body := testutil.UnmarshalResponse[admin.SearchResponse](s.T(), w)
		s.Equal(3, body.Total)
		s.Require().Len(body.Hits, 1)
		s.Equal("P2", body.Hits[0].ID)
	})

	s.Run("filters with the dsl", func() {
		w := search("/admin/indexes/Operation/tenants/2/search", `{"$query": {"$eq": {"_id": "P3"}}}`)
		s.Require().Equal(http.StatusOK, w.Code)
		var body admin.SearchResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
		s.Equal(1, body.Total)
	})

	s.Run("bad dsl", func() {
		w := search("/admin/indexes/Operation/tenants/2/search", `{"$query": {"$regex": {}}}`)
		testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "invalid_query")
	})

	s.Run("hits are sliced unless asked otherwise", func() {
		_, err := repo.AppendOperation(logbooktest.TenantContext(2), "P3", logbooktest.Event("P3", models.OutcomeOK))
		s.Require().NoError(err)
		s.Require().Equal(http.StatusOK, s.do(r, http.MethodPost, "/admin/indexes/Operation/tenants/2/refresh").Code)
		dsl := `{"$query": {"$eq": {"_id": "P3"}}}`

		w := search("/admin/indexes/Operation/tenants/2/search", dsl)
		s.Require().Equal(http.StatusOK, w.Code)
		body := testutil.UnmarshalResponse[admin.SearchResponse](s.T(), w)
		s.Require().Len(body.Hits, 1)
		s.Require().Len(body.Hits[0].Events, 2)
		s.False(body.Hits[0].Events[1].HasAgentFields())

		w = search("/admin/indexes/Operation/tenants/2/search?restricted=false", dsl)
		s.Require().Equal(http.StatusOK, w.Code)
		body = testutil.UnmarshalResponse[admin.SearchResponse](s.T(), w)
		s.True(body.Hits[0].Events[1].HasAgentFields())

		w = search("/admin/indexes/Operation/tenants/2/search?restricted=maybe", dsl)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("bad paging", func() {
		w := search("/admin/indexes/Operation/tenants/2/search?size=-3", "")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("other tenant sees nothing", func() {
		w := search("/admin/indexes/Operation/tenants/3/search", "")
		s.Equal(http.StatusNotFound, w.Code)
	})
}
