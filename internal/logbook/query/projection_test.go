package query_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/query"
)

type ProjectionSuite struct {
	suite.Suite
	doc models.Document
}

func TestProjectionSuite(t *testing.T) {
	suite.Run(t, new(ProjectionSuite))
}

func (s *ProjectionSuite) SetupTest() {
	s.doc = logbooktest.Document("P1", 2, 1,
		logbooktest.Started("P1"),
		logbooktest.Event("P1", models.OutcomeOK),
	)
}

func (s *ProjectionSuite) TestInclude() {
	p := query.MustParse(`{"$projection": {"events.eventType": 1, "events.outcome": 1}}`).Projection
	out, err := p.Apply(s.doc)
	s.Require().NoError(err)

	s.Equal("P1", out.ID)
	s.Equal(s.doc.Tenant, out.Tenant)
	s.Zero(out.Version)
	s.Require().Len(out.Events, 2)
	s.Equal("STP_INGEST", out.Events[0].EventType)
	s.Equal(models.OutcomeOK, out.Events[1].Outcome)
	s.Empty(out.Events[0].EventIdentifier)
	s.Nil(out.Events[0].EventDetailData)
}

func (s *ProjectionSuite) TestExclude() {
	p := query.MustParse(`{"$projection": {"events.eventDetailData": 0, "_lastPersistedDate": -1}}`).Projection
	out, err := p.Apply(s.doc)
	s.Require().NoError(err)

	s.Equal(1, out.Version)
	s.True(out.LastPersistedDate.IsZero())
	s.Require().Len(out.Events, 2)
	s.Nil(out.Events[1].EventDetailData)
	s.Equal(s.doc.Events[1].EventIdentifier, out.Events[1].EventIdentifier)
	s.NotNil(s.doc.Events[1].EventDetailData, "source is untouched")
}

func (s *ProjectionSuite) TestNone() {
	out, err := query.Projection{}.Apply(s.doc)
	s.Require().NoError(err)
	s.True(s.doc.Equal(out))
}
