package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civicproof/internal/feedback/models"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
)

type FeedbackStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	base  time.Time
}

func (s *FeedbackStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.base = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
}

func TestFeedbackStoreSuite(t *testing.T) {
	suite.Run(t, new(FeedbackStoreSuite))
}

func (s *FeedbackStoreSuite) add(category, location string, offset time.Duration) *models.Feedback {
	f, err := models.NewFeedback(id.NewFeedbackID(), "citizen-1", category, location, models.UrgencyMedium, 0, s.base.Add(offset))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, f))
	return f
}

func (s *FeedbackStoreSuite) TestCreateAndFind() {
	s.Run("finds created feedback", func() {
		f := s.add("roads", "Jakarta", 0)
		found, err := s.store.FindByID(s.ctx, f.ID)
		s.Require().NoError(err)
		s.Equal(f.ID, found.ID)
		s.Equal("roads", *found.Category)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewFeedbackID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate IDs", func() {
		f := s.add("roads", "Bandung", 0)
		s.Require().ErrorIs(s.store.Create(s.ctx, f), sentinel.ErrConflict)
	})
}

func (s *FeedbackStoreSuite) TestListFilters() {
	a := s.add("roads", "Jakarta", 2*time.Minute)
	b := s.add("roads", "Jakarta", time.Minute)
	s.add("water", "Jakarta", 0)
	s.add("", "Jakarta", 0)
	s.add("roads", "", 0)

	s.Run("clusterable excludes null fields", func() {
		list, err := s.store.List(s.ctx, models.Filter{RequireClusterable: true})
		s.Require().NoError(err)
		s.Len(list, 3)
		for _, f := range list {
			s.True(f.Clusterable())
		}
	})

	s.Run("category and location narrow and order by creation", func() {
		cat, loc := "roads", "Jakarta"
		list, err := s.store.List(s.ctx, models.Filter{Category: &cat, Location: &loc})
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(b.ID, list[0].ID)
		s.Equal(a.ID, list[1].ID)
	})

	s.Run("empty filter returns everything", func() {
		list, err := s.store.List(s.ctx, models.Filter{})
		s.Require().NoError(err)
		s.Len(list, 5)
	})
}

func (s *FeedbackStoreSuite) TestReturnedRowsAreCopies() {
	f := s.add("roads", "Jakarta", 0)
	found, err := s.store.FindByID(s.ctx, f.ID)
	s.Require().NoError(err)
	found.Sentiment = 0.9

	again, err := s.store.FindByID(s.ctx, f.ID)
	s.Require().NoError(err)
	s.Equal(0.0, again.Sentiment)
}
