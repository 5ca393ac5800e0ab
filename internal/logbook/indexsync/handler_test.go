package indexsync_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/query"
	"logbook/internal/logbook/store/document"
	"logbook/internal/logbook/store/index"
	"logbook/internal/platform/kafka/consumer"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/circuit"
	"logbook/pkg/platform/sentinel"
)

type HandlerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *document.InMemory
	index   *index.InMemory
	breaker *circuit.Breaker
	handler *indexsync.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = document.NewInMemory()
	s.index = index.NewInMemory()
	s.breaker = circuit.New("search-index", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
	s.handler = indexsync.NewHandler(s.store, s.index, s.breaker)
}

func (s *HandlerSuite) seed(docIDs ...string) {
	for _, docID := range docIDs {
		doc := logbooktest.Document(docID, int(tenant), 0, logbooktest.Started(docID))
		s.Require().NoError(s.store.Create(s.ctx, models.CollectionOperation, tenant, doc))
	}
}

func (s *HandlerSuite) visible() []string {
	page, err := s.index.Search(s.ctx, models.CollectionOperation, tenant, query.All(), 0, 0)
	s.Require().NoError(err)
	out := make([]string, 0, len(page.Hits))
	for _, h := range page.Hits {
		out = append(out, h.ID)
	}
	return out
}

func (s *HandlerSuite) TestResyncCopiesFromPrimaryStore() {
	s.seed("op-1", "op-2")
	req := models.NewResyncRequest(models.CollectionOperation, tenant, []string{"op-1", "op-2", "gone"}, "test", time.Now())

	s.Require().NoError(s.handler.Resync(s.ctx, req))
	s.ElementsMatch([]string{"op-1", "op-2"}, s.visible())
}

func (s *HandlerSuite) TestSuccessClosesBreaker() {
	s.breaker.RecordFailure()
	s.Require().True(s.breaker.IsOpen())

	s.seed("op-1")
	req := models.NewResyncRequest(models.CollectionOperation, tenant, []string{"op-1"}, "test", time.Now())
	s.Require().NoError(s.handler.Resync(s.ctx, req))
	s.False(s.breaker.IsOpen())
}

func (s *HandlerSuite) TestUnknownCollectionRejected() {
	req := models.NewResyncRequest(models.Collection("Nope"), tenant, []string{"x"}, "test", time.Now())
	s.Error(s.handler.Resync(s.ctx, req))
}

func (s *HandlerSuite) TestHandleDecodesKafkaMessage() {
	s.seed("op-1")
	req := models.NewResyncRequest(models.CollectionOperation, tenant, []string{"op-1"}, "test", time.Now())
	raw, err := json.Marshal(req)
	s.Require().NoError(err)

	s.Require().NoError(s.handler.Handle(s.ctx, &consumer.Message{Key: []byte(req.Key()), Value: raw}))
	s.Equal([]string{"op-1"}, s.visible())

	s.NoError(s.handler.Handle(s.ctx, &consumer.Message{Value: []byte("not json")}), "poison messages are dropped")
}

// flakyIndex fails EnsureIndex until failures runs out.
type flakyIndex struct {
	*index.InMemory
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyIndex) EnsureIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return sentinel.ErrUnavailable
	}
	return f.InMemory.EnsureIndex(ctx, c, tenant)
}

func (s *HandlerSuite) message(collection models.Collection, ids ...string) *consumer.Message {
	req := models.NewResyncRequest(collection, tenant, ids, "test", time.Now())
	raw, err := json.Marshal(req)
	s.Require().NoError(err)
	return &consumer.Message{Key: []byte(req.Key()), Value: raw}
}

func (s *HandlerSuite) TestHandleRetriesUntilIndexRecovers() {
	s.seed("op-1")
	flaky := &flakyIndex{InMemory: s.index}
	flaky.failures.Store(3)
	handler := indexsync.NewHandler(s.store, flaky, s.breaker,
		indexsync.WithHandlerBackoff(time.Millisecond, 4*time.Millisecond))

	s.Require().NoError(handler.Handle(s.ctx, s.message(models.CollectionOperation, "op-1")))
	s.Equal(int32(4), flaky.calls.Load())
	s.Equal([]string{"op-1"}, s.visible())
	s.False(s.breaker.IsOpen(), "the final success closes the breaker")
}

func (s *HandlerSuite) TestHandleStopsOnCancelWhileIndexDown() {
	s.seed("op-1")
	flaky := &flakyIndex{InMemory: s.index}
	flaky.failures.Store(1 << 20)
	handler := indexsync.NewHandler(s.store, flaky, s.breaker,
		indexsync.WithHandlerBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	err := handler.Handle(ctx, s.message(models.CollectionOperation, "op-1"))
	s.ErrorIs(err, context.DeadlineExceeded, "an unapplied record is never acknowledged")
	s.Greater(flaky.calls.Load(), int32(1))
}

func (s *HandlerSuite) TestHandleDropsRejectedRequest() {
	s.NoError(s.handler.Handle(s.ctx, s.message(models.Collection("Nope"), "x")))
}
