package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/store/index"
)

type InMemoryIndexSuite struct {
	indexContractSuite
	mem *index.InMemory
}

func TestInMemoryIndexSuite(t *testing.T) {
	suite.Run(t, new(InMemoryIndexSuite))
}

func (s *InMemoryIndexSuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = index.NewInMemory()
	s.index = s.mem
}

func (s *InMemoryIndexSuite) TestPendingHelper() {
	s.Require().NoError(s.mem.EnsureIndex(s.ctx, coll, tenantA))
	s.True(s.mem.Has(coll, tenantA))

	_, err := s.mem.BulkUpsert(s.ctx, coll, tenantA, map[string][]byte{"op-1": s.payload("op-1", tenantA)})
	s.Require().NoError(err)
	s.Equal(1, s.mem.Pending(coll, tenantA))

	s.Require().NoError(s.mem.Refresh(s.ctx, coll, tenantA))
	s.Zero(s.mem.Pending(coll, tenantA))
}
