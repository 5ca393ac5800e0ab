package document_test

import (
	"context"
	"errors"

	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	"logbook/internal/logbook/store/document"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
)

type transactionalStore interface {
	ports.DocumentStore
	ports.Transactor
}

// storeContractSuite holds the behavior every DocumentStore must share.
// Concrete suites set store and reset in SetupTest.
type storeContractSuite struct {
	suite.Suite
	ctx   context.Context
	store transactionalStore
}

const (
	tenantA = id.TenantID(0)
	tenantB = id.TenantID(1)
)

func (s *storeContractSuite) findAll(c models.Collection, tenant id.TenantID, q *query.Query) []models.Document {
	cur, err := s.store.Find(s.ctx, c, tenant, q)
	s.Require().NoError(err)
	docs, err := document.Collect(s.ctx, cur)
	s.Require().NoError(err)
	return docs
}

func (s *storeContractSuite) seedOperation(docID string, tenant id.TenantID, events ...models.Event) {
	doc := logbooktest.Document(docID, int(tenant), 0, events...)
	s.Require().NoError(s.store.Create(s.ctx, models.CollectionOperation, tenant, doc))
}

func (s *storeContractSuite) TestCreateAndFind() {
	s.Run("created document is found with its events", func() {
		ev := logbooktest.Started("op-1")
		s.seedOperation("op-1", tenantA, ev)

		got, found, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenantA, "op-1")
		s.Require().NoError(err)
		s.Require().True(found)
		s.Equal("op-1", got.ID)
		s.Equal(tenantA, got.Tenant)
		s.Equal(0, got.Version)
		s.Require().Len(got.Events, 1)
		s.True(ev.Equal(got.Events[0]))
		s.False(got.LastPersistedDate.IsZero())
	})

	s.Run("duplicate key is rejected", func() {
		err := s.store.Create(s.ctx, models.CollectionOperation, tenantA,
			logbooktest.Document("op-1", 0, 0, logbooktest.Started("op-1")))
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("absent document reports not found without error", func() {
		_, found, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenantA, "missing")
		s.Require().NoError(err)
		s.False(found)

		ok, err := s.store.Exists(s.ctx, models.CollectionOperation, tenantA, "missing")
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *storeContractSuite) TestTenantIsolation() {
	s.seedOperation("shared", tenantA, logbooktest.Started("shared"))

	_, found, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenantB, "shared")
	s.Require().NoError(err)
	s.False(found, "tenant B must not see tenant A's document")

	s.Empty(s.findAll(models.CollectionOperation, tenantB, query.All()))

	// Same id is free in another tenant.
	s.seedOperation("shared", tenantB, logbooktest.Started("shared"))
	s.Len(s.findAll(models.CollectionOperation, tenantB, query.All()), 1)

	s.ErrorIs(s.store.Delete(s.ctx, models.CollectionOperation, tenantB, "missing"), sentinel.ErrNotFound)
}

func (s *storeContractSuite) TestCollectionsAreSeparate() {
	s.seedOperation("obj-1", tenantA, logbooktest.Started("obj-1"))

	_, found, err := s.store.FindByID(s.ctx, models.CollectionLifecycleUnit, tenantA, "obj-1")
	s.Require().NoError(err)
	s.False(found)
}

func (s *storeContractSuite) TestUpdateByID() {
	s.seedOperation("op-1", tenantA, logbooktest.Started("op-1"))

	s.Run("push appends and increments version", func() {
		ok := logbooktest.Event("op-1", models.OutcomeOK)
		v, err := s.store.UpdateByID(s.ctx, models.CollectionOperation, tenantA, "op-1",
			models.Mutation{Push: []models.Event{ok}})
		s.Require().NoError(err)
		s.Equal(1, v)

		got, _, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenantA, "op-1")
		s.Require().NoError(err)
		s.Equal(1, got.Version)
		s.Require().Len(got.Events, 2)
		s.True(ok.Equal(got.Events[1]))
	})

	s.Run("stale expected version conflicts", func() {
		stale := 0
		_, err := s.store.UpdateByID(s.ctx, models.CollectionOperation, tenantA, "op-1",
			models.Mutation{Push: []models.Event{logbooktest.Event("op-1", models.OutcomeOK)}, ExpectedVersion: &stale})
		s.ErrorIs(err, sentinel.ErrConflict)

		got, _, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenantA, "op-1")
		s.Require().NoError(err)
		s.Len(got.Events, 2, "conflicting update must not write")
	})

	s.Run("matching expected version succeeds", func() {
		current := 1
		v, err := s.store.UpdateByID(s.ctx, models.CollectionOperation, tenantA, "op-1",
			models.Mutation{Push: []models.Event{logbooktest.Event("op-1", models.OutcomeWarning)}, ExpectedVersion: &current})
		s.Require().NoError(err)
		s.Equal(2, v)
	})

	s.Run("missing document is not found", func() {
		_, err := s.store.UpdateByID(s.ctx, models.CollectionOperation, tenantA, "missing",
			models.Mutation{Push: []models.Event{logbooktest.Started("missing")}})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *storeContractSuite) TestCreateManyIsAllOrNothing() {
	s.seedOperation("taken", tenantA, logbooktest.Started("taken"))

	err := s.store.CreateMany(s.ctx, models.CollectionOperation, tenantA, []models.Document{
		logbooktest.Document("fresh-1", 0, 0, logbooktest.Started("fresh-1")),
		logbooktest.Document("taken", 0, 0, logbooktest.Started("taken")),
	})
	s.ErrorIs(err, sentinel.ErrAlreadyExists)

	ok, err := s.store.Exists(s.ctx, models.CollectionOperation, tenantA, "fresh-1")
	s.Require().NoError(err)
	s.False(ok, "no document of a failed batch may persist")

	s.Require().NoError(s.store.CreateMany(s.ctx, models.CollectionOperation, tenantA, []models.Document{
		logbooktest.Document("fresh-1", 0, 0, logbooktest.Started("fresh-1")),
		logbooktest.Document("fresh-2", 0, 0, logbooktest.Started("fresh-2")),
	}))
	s.Len(s.findAll(models.CollectionOperation, tenantA, query.All()), 3)
}

func (s *storeContractSuite) TestRunInTx() {
	s.Run("error rolls back every write", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			doc := logbooktest.Document("tx-1", 0, 0, logbooktest.Started("tx-1"))
			if err := s.store.Create(ctx, models.CollectionLifecycleUnitInProcess, tenantA, doc); err != nil {
				return err
			}
			return boom
		})
		s.ErrorIs(err, boom)

		ok, err := s.store.Exists(s.ctx, models.CollectionLifecycleUnitInProcess, tenantA, "tx-1")
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("move between collections commits together", func() {
		doc := logbooktest.Document("tx-2", 0, 0, logbooktest.Started("tx-2"))
		s.Require().NoError(s.store.Create(s.ctx, models.CollectionLifecycleUnitInProcess, tenantA, doc))

		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			if err := s.store.Create(ctx, models.CollectionLifecycleUnit, tenantA, doc); err != nil {
				return err
			}
			return s.store.Delete(ctx, models.CollectionLifecycleUnitInProcess, tenantA, doc.ID)
		})
		s.Require().NoError(err)

		inProcess, err := s.store.Exists(s.ctx, models.CollectionLifecycleUnitInProcess, tenantA, "tx-2")
		s.Require().NoError(err)
		committed, err := s.store.Exists(s.ctx, models.CollectionLifecycleUnit, tenantA, "tx-2")
		s.Require().NoError(err)
		s.False(inProcess)
		s.True(committed)
	})
}

func (s *storeContractSuite) TestFind() {
	s.seedOperation("op-a", tenantA, logbooktest.Started("op-a", logbooktest.WithType("INGEST_A")))
	s.seedOperation("op-b", tenantA,
		logbooktest.Started("op-b", logbooktest.WithType("INGEST_B")),
		logbooktest.Event("op-b", models.OutcomeKO))
	s.seedOperation("op-c", tenantA, logbooktest.Started("op-c", logbooktest.WithType("INGEST_C"), logbooktest.WithDetail(`{"size":7}`)))

	s.Run("match all returns insertion order", func() {
		docs := s.findAll(models.CollectionOperation, tenantA, query.All())
		s.Equal([]string{"op-a", "op-b", "op-c"}, ids(docs))
	})

	s.Run("by id", func() {
		docs := s.findAll(models.CollectionOperation, tenantA, query.ByID("op-b"))
		s.Equal([]string{"op-b"}, ids(docs))
	})

	s.Run("master field equality", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$query": {"$eq": {"eventType": "INGEST_C"}}}`))
		s.Equal([]string{"op-c"}, ids(docs))
	})

	s.Run("any event field equality", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$query": {"$eq": {"events.outcome": "KO"}}}`))
		s.Equal([]string{"op-b"}, ids(docs))
	})

	s.Run("opaque sub-path", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$query": {"$eq": {"eventDetailData.size": 7}}}`))
		s.Equal([]string{"op-c"}, ids(docs))
	})

	s.Run("negation and membership", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$query": {"$and": [
				{"$in": {"_id": ["op-a", "op-b"]}},
				{"$not": {"$eq": {"_id": "op-a"}}}
			]}}`))
		s.Equal([]string{"op-b"}, ids(docs))
	})

	s.Run("order by id descending with limit", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$filter": {"$orderby": {"_id": -1}, "$limit": 2}}`))
		s.Equal([]string{"op-c", "op-b"}, ids(docs))
	})

	s.Run("projection keeps identity", func() {
		docs := s.findAll(models.CollectionOperation, tenantA,
			query.MustParse(`{"$query": {"$eq": {"_id": "op-a"}}, "$projection": {"_v": 1}}`))
		s.Require().Len(docs, 1)
		s.Equal("op-a", docs[0].ID)
		s.Equal(tenantA, docs[0].Tenant)
		s.Empty(docs[0].Events)
	})
}

func ids(docs []models.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
