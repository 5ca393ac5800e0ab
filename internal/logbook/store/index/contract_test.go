package index_test

import (
	"context"

	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
)

const (
	coll    = models.CollectionOperation
	tenantA = id.TenantID(0)
	tenantB = id.TenantID(1)
)

// indexContractSuite is the behavior shared by every SearchIndex.
type indexContractSuite struct {
	suite.Suite
	ctx   context.Context
	index ports.SearchIndex
}

func (s *indexContractSuite) payload(docID string, tenant id.TenantID, events ...models.Event) []byte {
	if len(events) == 0 {
		events = []models.Event{logbooktest.Started(docID)}
	}
	raw, err := models.MarshalDocument(logbooktest.Document(docID, int(tenant), 0, events...))
	s.Require().NoError(err)
	return raw
}

func (s *indexContractSuite) upsertAndRefresh(tenant id.TenantID, ids ...string) {
	docs := make(map[string][]byte, len(ids))
	for _, docID := range ids {
		docs[docID] = s.payload(docID, tenant)
	}
	res, err := s.index.BulkUpsert(s.ctx, coll, tenant, docs)
	s.Require().NoError(err)
	s.Require().NoError(res.FirstError())
	s.Require().NoError(s.index.Refresh(s.ctx, coll, tenant))
}

func (s *indexContractSuite) TestMissingIndex() {
	_, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.payload("op-1", tenantA)})
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.index.Refresh(s.ctx, coll, tenantA), sentinel.ErrNotFound)

	_, err = s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *indexContractSuite) TestEnsureIndexIsIdempotent() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	s.upsertAndRefresh(tenantA, "op-1")
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))

	page, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Equal(1, page.Total, "ensuring an existing index keeps its documents")
}

func (s *indexContractSuite) TestWritesInvisibleUntilRefresh() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	res, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.payload("op-1", tenantA)})
	s.Require().NoError(err)
	s.Empty(res.Failed())

	page, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Zero(page.Total)

	s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))
	page, err = s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Require().Equal(1, page.Total)
	s.Equal("op-1", page.Hits[0].ID)
}

func (s *indexContractSuite) TestPartialFailure() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	res, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{
		"op-1":  s.payload("op-1", tenantA),
		"bad":   []byte("{not json"),
		"wrong": s.payload("other", tenantA),
		"cross": s.payload("cross", tenantB),
	})
	s.Require().NoError(err, "item failures never fail the batch")
	s.ElementsMatch([]string{"bad", "cross", "wrong"}, res.Failed())
	s.Error(res.FirstError())

	s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))
	page, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Equal(1, page.Total)
}

func (s *indexContractSuite) TestUpsertReplacesInPlace() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	s.upsertAndRefresh(tenantA, "op-1", "op-2")

	updated := s.payload("op-1", tenantA,
		logbooktest.Started("op-1"), logbooktest.Event("op-1", models.OutcomeOK))
	_, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": updated})
	s.Require().NoError(err)
	s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))

	page, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(page.Hits, 2)
	s.Equal("op-1", page.Hits[0].ID, "an update keeps the original insertion position")
	s.Len(page.Hits[0].Events, 2)
}

func (s *indexContractSuite) versioned(docID string, version int) []byte {
	events := []models.Event{logbooktest.Started(docID)}
	for range version {
		events = append(events, logbooktest.Event(docID, models.OutcomeOK))
	}
	raw, err := models.MarshalDocument(logbooktest.Document(docID, int(tenantA), version, events...))
	s.Require().NoError(err)
	return raw
}

func (s *indexContractSuite) searchOne(docID string) models.Document {
	page, err := s.index.Search(s.ctx, coll, tenantA, query.ByID(docID), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(page.Hits, 1)
	return page.Hits[0]
}

func (s *indexContractSuite) TestStalePayloadNeverOverwritesNewer() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))

	s.Run("both pending", func() {
		res, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.versioned("op-1", 2)})
		s.Require().NoError(err)
		s.Require().NoError(res.FirstError())
		res, err = s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.versioned("op-1", 1)})
		s.Require().NoError(err)
		s.Empty(res.Failed(), "a skipped stale payload is not a failure")
		s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))

		doc := s.searchOne("op-1")
		s.Equal(2, doc.Version)
		s.Len(doc.Events, 3)
	})

	s.Run("newer already visible", func() {
		_, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.versioned("op-1", 0)})
		s.Require().NoError(err)
		s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))

		s.Equal(2, s.searchOne("op-1").Version)
	})

	s.Run("newer payload still wins", func() {
		_, err := s.index.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.versioned("op-1", 3)})
		s.Require().NoError(err)
		s.Require().NoError(s.index.Refresh(s.ctx, coll, tenantA))

		s.Equal(3, s.searchOne("op-1").Version)
	})
}

func (s *indexContractSuite) TestTenantsAreSeparateIndexes() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantB))
	s.upsertAndRefresh(tenantA, "op-1")

	page, err := s.index.Search(s.ctx, coll, tenantB, query.All(), 0, 10)
	s.Require().NoError(err)
	s.Zero(page.Total)
}

func (s *indexContractSuite) TestSearchFiltersAndPages() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	s.upsertAndRefresh(tenantA, "op-1", "op-2", "op-3", "op-4")

	s.Run("query filter", func() {
		page, err := s.index.Search(s.ctx, coll, tenantA,
			query.MustParse(`{"$query": {"$in": {"_id": ["op-2", "op-4"]}}}`), 0, 10)
		s.Require().NoError(err)
		s.Equal(2, page.Total)
		s.Equal([]string{"op-2", "op-4"}, hitIDs(page))
	})

	s.Run("sort then page", func() {
		page, err := s.index.Search(s.ctx, coll, tenantA,
			query.MustParse(`{"$filter": {"$orderby": {"_id": -1}}}`), 1, 2)
		s.Require().NoError(err)
		s.Equal(4, page.Total)
		s.Equal([]string{"op-3", "op-2"}, hitIDs(page))
	})

	s.Run("from past the end", func() {
		page, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 10, 2)
		s.Require().NoError(err)
		s.Equal(4, page.Total)
		s.Empty(page.Hits)
	})
}

func (s *indexContractSuite) TestDropIndex() {
	s.Require().NoError(s.index.EnsureIndex(s.ctx, coll, tenantA))
	s.upsertAndRefresh(tenantA, "op-1")

	s.Require().NoError(s.index.DropIndex(s.ctx, coll, tenantA))
	_, err := s.index.Search(s.ctx, coll, tenantA, query.All(), 0, 10)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.index.DropIndex(s.ctx, coll, tenantA), "dropping a missing index is a no-op")
}

func hitIDs(page ports.SearchPage) []string {
	out := make([]string, 0, len(page.Hits))
	for _, h := range page.Hits {
		out = append(out, h.ID)
	}
	return out
}
