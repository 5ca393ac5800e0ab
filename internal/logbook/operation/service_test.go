package operation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/operation"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/ports/mocks"
	"logbook/internal/logbook/query"
	"logbook/internal/logbook/store/document"
	"logbook/internal/logbook/store/index"
	id "logbook/pkg/domain"
	dErrors "logbook/pkg/domain-errors"
	"logbook/pkg/platform/sentinel"
)

const tenant = id.TenantID(0)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *document.InMemory
	index   *index.InMemory
	queue   *indexsync.ChannelPublisher
	service *operation.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = document.NewInMemory()
	s.index = index.NewInMemory()
	s.queue = indexsync.NewChannelPublisher(16)
	mirror := indexsync.NewMirror(s.index, s.queue)
	s.service = operation.New(s.store, mirror, operation.WithMaxResults(3))
}

func (s *ServiceSuite) stored(processID string) models.Document {
	doc, found, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenant, processID)
	s.Require().NoError(err)
	s.Require().True(found)
	return doc
}

func (s *ServiceSuite) TestCreateThenAppend() {
	started := logbooktest.Started("P1")
	res, err := s.service.Create(s.ctx, tenant, "P1", started)
	s.Require().NoError(err)
	s.NoError(res.IndexWarning)
	s.Equal(0, res.Version)

	doc := s.stored("P1")
	s.Equal(0, doc.Version)
	s.Len(doc.Events, 1)

	ok := logbooktest.Event("P1", models.OutcomeOK)
	res, err = s.service.Append(s.ctx, tenant, "P1", ok)
	s.Require().NoError(err)
	s.Equal(1, res.Version)

	s.Run("full view keeps every agent field", func() {
		full, err := s.service.GetByID(s.ctx, tenant, "P1", false)
		s.Require().NoError(err)
		s.Require().Len(full.Events, 2)
		s.True(full.Events[1].HasAgentFields())
	})

	s.Run("sliced view clears agent fields after the master", func() {
		sliced, err := s.service.GetByID(s.ctx, tenant, "P1", true)
		s.Require().NoError(err)
		s.Require().Len(sliced.Events, 2)
		s.True(sliced.Events[0].HasAgentFields())
		s.False(sliced.Events[1].HasAgentFields())
		s.Empty(sliced.Events[1].AgentIdentifierApplication)
		s.Nil(sliced.Events[1].AgIDExt)

		s.True(s.stored("P1").Events[1].HasAgentFields(), "storage is untouched")
	})

	s.Run("mirrored into the index", func() {
		s.Require().NoError(s.index.Refresh(s.ctx, models.CollectionOperation, tenant))
		page, err := s.index.Search(s.ctx, models.CollectionOperation, tenant, query.ByID("P1"), 0, 1)
		s.Require().NoError(err)
		s.Require().Equal(1, page.Total)
		s.Equal(1, page.Hits[0].Version)
	})
}

func (s *ServiceSuite) TestAppendOnlyAndVersionMonotonic() {
	_, err := s.service.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.Require().NoError(err)

	before := s.stored("P1")
	for i := 1; i <= 3; i++ {
		res, err := s.service.Append(s.ctx, tenant, "P1", logbooktest.Event("P1", models.OutcomeOK))
		s.Require().NoError(err)
		s.Equal(before.Version+i, res.Version)
	}
	after := s.stored("P1")
	s.Require().Len(after.Events, len(before.Events)+3)
	for i, e := range before.Events {
		s.True(e.Equal(after.Events[i]), "event %d rewritten", i)
	}
}

func (s *ServiceSuite) TestCreateExclusivity() {
	_, err := s.service.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.Require().NoError(err)
	first := s.stored("P1")

	_, err = s.service.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	s.True(first.Equal(s.stored("P1")))
}

func (s *ServiceSuite) TestCreateValidation() {
	s.Run("master must be STARTED", func() {
		_, err := s.service.Create(s.ctx, tenant, "P1", logbooktest.Event("P1", models.OutcomeOK))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("master needs agent identification", func() {
		_, err := s.service.Create(s.ctx, tenant, "P1", logbooktest.Started("P1", logbooktest.WithoutAgent()))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("event must belong to the process", func() {
		_, err := s.service.Create(s.ctx, tenant, "P1", logbooktest.Started("P2"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("identifier is checked", func() {
		_, err := s.service.Create(s.ctx, tenant, "", logbooktest.Started(""))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	ok, err := s.service.Exists(s.ctx, tenant, "P1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ServiceSuite) TestAppendMissing() {
	_, err := s.service.Append(s.ctx, tenant, "P9", logbooktest.Event("P9", models.OutcomeOK))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestBulkHomogeneity() {
	s.Run("createBulk across processes writes nothing", func() {
		_, err := s.service.CreateBulk(s.ctx, tenant,
			logbooktest.Started("P1"), logbooktest.Started("P2"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		for _, p := range []string{"P1", "P2"} {
			ok, err := s.service.Exists(s.ctx, tenant, p)
			s.Require().NoError(err)
			s.False(ok)
		}
	})

	s.Run("createBulk stores every event at version 0", func() {
		res, err := s.service.CreateBulk(s.ctx, tenant,
			logbooktest.Started("P3"), logbooktest.Event("P3", models.OutcomeOK))
		s.Require().NoError(err)
		s.Equal(0, res.Version)
		s.Len(s.stored("P3").Events, 2)
	})

	s.Run("appendBulk across processes writes nothing", func() {
		_, err := s.service.AppendBulk(s.ctx, tenant, "P3",
			logbooktest.Event("P3", models.OutcomeOK), logbooktest.Event("P4", models.OutcomeOK))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Len(s.stored("P3").Events, 2)
	})

	s.Run("appendBulk for another process is rejected", func() {
		_, err := s.service.AppendBulk(s.ctx, tenant, "P3", logbooktest.Event("P4", models.OutcomeOK))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("appendBulk pushes all events in one version", func() {
		res, err := s.service.AppendBulk(s.ctx, tenant, "P3",
			logbooktest.Event("P3", models.OutcomeOK), logbooktest.Event("P3", models.OutcomeWarning))
		s.Require().NoError(err)
		s.Equal(1, res.Version)
		s.Len(s.stored("P3").Events, 4)
	})

	s.Run("empty bulk", func() {
		_, err := s.service.AppendBulk(s.ctx, tenant, "P3")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestFind() {
	for _, p := range []string{"P1", "P2", "P3", "P4"} {
		_, err := s.service.Create(s.ctx, tenant, p, logbooktest.Started(p))
		s.Require().NoError(err)
	}
	_, err := s.service.Append(s.ctx, tenant, "P2", logbooktest.Event("P2", models.OutcomeKO))
	s.Require().NoError(err)

	s.Run("max results caps unlimited queries", func() {
		docs, err := s.service.Find(s.ctx, tenant, query.All(), false)
		s.Require().NoError(err)
		s.Len(docs, 3)
	})

	s.Run("filter on any event", func() {
		docs, err := s.service.Find(s.ctx, tenant,
			query.MustParse(`{"$query": {"$eq": {"events.outcome": "KO"}}}`), false)
		s.Require().NoError(err)
		s.Require().Len(docs, 1)
		s.Equal("P2", docs[0].ID)
	})

	s.Run("slice hint forces restricted view", func() {
		doc, err := s.service.GetOne(s.ctx, tenant,
			query.MustParse(`{"$query": {"$eq": {"_id": "P2"}}, "$projection": {"$slice": 1}}`), false)
		s.Require().NoError(err)
		s.Require().Len(doc.Events, 2)
		s.False(doc.Events[1].HasAgentFields())
	})

	s.Run("getOne without match", func() {
		_, err := s.service.GetOne(s.ctx, tenant, query.ByID("nope"), false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("other tenants see nothing", func() {
		docs, err := s.service.Find(s.ctx, id.TenantID(9), query.All(), false)
		s.Require().NoError(err)
		s.Empty(docs)
	})
}

func (s *ServiceSuite) TestIndexFailureIsOnlyAWarning() {
	ctrl := gomock.NewController(s.T())
	idx := mocks.NewMockSearchIndex(ctrl)
	idx.EXPECT().BulkUpsert(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(ports.BulkResult{}, sentinel.ErrUnavailable)
	mirror := indexsync.NewMirror(idx, s.queue)
	svc := operation.New(s.store, mirror)

	res, err := svc.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.Require().NoError(err, "the primary write stands")
	s.True(dErrors.HasCode(res.IndexWarning, dErrors.CodeIndexSync))
	s.Len(s.queue.Requests(), 1, "a resync request is queued")

	_, found, err := s.store.FindByID(s.ctx, models.CollectionOperation, tenant, "P1")
	s.Require().NoError(err)
	s.True(found)
}

func (s *ServiceSuite) TestStoreUnavailable() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockDocumentStore(ctrl)
	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.Join(errors.New("dial tcp"), sentinel.ErrUnavailable))
	svc := operation.New(store, indexsync.NewMirror(s.index, s.queue))

	_, err := svc.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

// heldMirror parks the sync of one version until released.
type heldMirror struct {
	inner   operation.Mirror
	version int
	held    chan struct{}
	release chan struct{}
}

func (m *heldMirror) Sync(ctx context.Context, c models.Collection, tenant id.TenantID, docs ...models.Document) error {
	if len(docs) == 1 && docs[0].Version == m.version {
		close(m.held)
		<-m.release
	}
	return m.inner.Sync(ctx, c, tenant, docs...)
}

func (s *ServiceSuite) TestLateSyncOfOlderVersionKeepsIndexCurrent() {
	mirror := &heldMirror{
		inner:   indexsync.NewMirror(s.index, s.queue),
		version: 1,
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := operation.New(s.store, mirror)
	_, err := svc.Create(s.ctx, tenant, "P1", logbooktest.Started("P1"))
	s.Require().NoError(err)

	first := make(chan models.WriteResult, 1)
	go func() {
		res, err := svc.Append(s.ctx, tenant, "P1", logbooktest.Event("P1", models.OutcomeOK))
		s.NoError(err)
		first <- res
	}()
	<-mirror.held

	second, err := svc.Append(s.ctx, tenant, "P1", logbooktest.Event("P1", models.OutcomeOK))
	s.Require().NoError(err)
	s.Equal(2, second.Version)
	s.NoError(second.IndexWarning)

	close(mirror.release)
	late := <-first
	s.Equal(1, late.Version)
	s.NoError(late.IndexWarning)

	s.Require().NoError(s.index.Refresh(s.ctx, models.CollectionOperation, tenant))
	page, err := s.index.Search(s.ctx, models.CollectionOperation, tenant, query.ByID("P1"), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(page.Hits, 1)
	s.Equal(2, page.Hits[0].Version)
	s.Len(page.Hits[0].Events, 3)
	s.Equal(s.stored("P1").Version, page.Hits[0].Version)
}
