package cluster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/cluster/models"
	feedbackModels "civicproof/internal/feedback/models"
	"civicproof/internal/feedback/store"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/testutil"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

type seeder struct {
	t     *testing.T
	store *store.InMemory
	n     int
}

func (s *seeder) add(category, location string, urgency feedbackModels.Urgency, sentiment float64) *feedbackModels.Feedback {
	s.t.Helper()
	s.n++
	f, err := feedbackModels.NewFeedback(id.NewFeedbackID(), id.UserID(fmt.Sprintf("citizen-%d", s.n)),
		category, location, urgency, sentiment, t0.Add(time.Duration(s.n)*time.Minute))
	require.NoError(s.t, err)
	require.NoError(s.t, s.store.Create(context.Background(), f))
	return f
}

func (s *seeder) addN(n int, category, location string, urgency feedbackModels.Urgency) {
	for range n {
		s.add(category, location, urgency, 0)
	}
}

func newSeeder(t *testing.T) *seeder {
	return &seeder{t: t, store: store.NewInMemory()}
}

func TestComputeRankingScenario(t *testing.T) {
	testutil.Given(t, "5 Jakarta infrastructure complaints (3 high) and 4 Bandung water complaints (1 high)", func(t *testing.T) {
		s := newSeeder(t)
		s.addN(3, "infrastructure", "Jakarta", feedbackModels.UrgencyHigh)
		s.addN(2, "infrastructure", "Jakarta", feedbackModels.UrgencyLow)
		s.addN(1, "water", "Bandung", feedbackModels.UrgencyHigh)
		s.addN(3, "water", "Bandung", feedbackModels.UrgencyMedium)

		testutil.When(t, "clusters are computed", func(t *testing.T) {
			clusters, err := NewAggregator(s.store).Compute(context.Background(), Options{})
			require.NoError(t, err)

			testutil.Then(t, "Jakarta ranks first with its exact counts", func(t *testing.T) {
				require.Len(t, clusters, 2)
				assert.Equal(t, models.Key{Category: "infrastructure", Location: "Jakarta"}, clusters[0].Key)
				assert.Equal(t, 5, clusters[0].FeedbackCount)
				assert.Equal(t, 3, clusters[0].HighUrgencyCount)
				assert.Equal(t, models.Key{Category: "water", Location: "Bandung"}, clusters[1].Key)
				assert.Equal(t, 4, clusters[1].FeedbackCount)
				assert.Equal(t, 1, clusters[1].HighUrgencyCount)
			})
		})
	})
}

func TestComputeThresholdBoundary(t *testing.T) {
	s := newSeeder(t)
	s.addN(2, "infrastructure", "Jakarta", feedbackModels.UrgencyHigh)
	s.addN(3, "lighting", "Medan", feedbackModels.UrgencyLow)
	agg := NewAggregator(s.store)

	clusters, err := agg.Compute(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, clusters, 1, "count 2 is excluded, count 3 is included")
	assert.Equal(t, "Medan", clusters[0].Key.Location)
	assert.True(t, clusters[0].Reportable)

	all, err := agg.Compute(context.Background(), Options{IncludeBelowThreshold: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Jakarta", all[1].Key.Location)
	assert.False(t, all[1].Reportable)
	assert.Equal(t, 2, all[1].FeedbackCount)
}

func TestComputeSkipsNullFieldsAndGroupsExactly(t *testing.T) {
	s := newSeeder(t)
	s.addN(3, "roads", "Jakarta", feedbackModels.UrgencyLow)
	s.addN(3, "", "Jakarta", feedbackModels.UrgencyHigh)
	s.addN(3, "roads", "", feedbackModels.UrgencyHigh)
	s.addN(3, "Roads", "Jakarta", feedbackModels.UrgencyLow)

	clusters, err := NewAggregator(s.store).Compute(context.Background(), Options{IncludeBelowThreshold: true})
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	total := 0
	for _, c := range clusters {
		assert.NotEmpty(t, c.Key.Category)
		assert.NotEmpty(t, c.Key.Location)
		assert.LessOrEqual(t, c.HighUrgencyCount, c.FeedbackCount)
		total += c.FeedbackCount
	}
	assert.Equal(t, 6, total)
	assert.Equal(t, "Roads", clusters[0].Key.Category, "exact equality; ties break on key")
	assert.Equal(t, "roads", clusters[1].Key.Category)
}

func TestComputeAggregates(t *testing.T) {
	s := newSeeder(t)
	s.add("roads", "Jakarta", feedbackModels.UrgencyHigh, -1)
	s.add("roads", "Jakarta", feedbackModels.UrgencyLow, 0)
	last := s.add("roads", "Jakarta", feedbackModels.UrgencyLow, 0.4)

	clusters, err := NewAggregator(s.store).Compute(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.InDelta(t, -0.2, clusters[0].AvgSentiment, 1e-9)
	assert.Equal(t, last.CreatedAt, clusters[0].LatestFeedbackAt)
}

func TestComputeIsDeterministic(t *testing.T) {
	s := newSeeder(t)
	for _, loc := range []string{"Bogor", "Aceh", "Depok", "Cirebon"} {
		s.addN(3, "roads", loc, feedbackModels.UrgencyMedium)
	}
	agg := NewAggregator(s.store)
	first, err := agg.Compute(context.Background(), Options{})
	require.NoError(t, err)
	for range 10 {
		again, err := agg.Compute(context.Background(), Options{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "Aceh", first[0].Key.Location)
}

func TestMinFeedbackCountOption(t *testing.T) {
	s := newSeeder(t)
	s.addN(2, "roads", "Jakarta", feedbackModels.UrgencyLow)
	clusters, err := NewAggregator(s.store, WithMinFeedbackCount(2)).Compute(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

func TestMembersAndGet(t *testing.T) {
	s := newSeeder(t)
	first := s.add("roads", "Jakarta", feedbackModels.UrgencyHigh, 0)
	s.add("roads", "Jakarta", feedbackModels.UrgencyLow, 0)
	s.add("roads", "Bandung", feedbackModels.UrgencyLow, 0)
	agg := NewAggregator(s.store)
	key := models.Key{Category: "roads", Location: "Jakarta"}

	members, err := agg.Members(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, first.ID, members[0].ID)

	c, err := agg.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 2, c.FeedbackCount)
	assert.False(t, c.Reportable)

	_, err = agg.Get(context.Background(), models.Key{Category: "roads", Location: "Nowhere"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

type failingLister struct{ err error }

func (f failingLister) List(context.Context, feedbackModels.Filter) ([]*feedbackModels.Feedback, error) {
	return nil, f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	agg := NewAggregator(failingLister{err: fmt.Errorf("list: %w", sentinel.ErrUnavailable)})
	_, err := agg.Compute(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)

	agg = NewAggregator(failingLister{err: errors.New("boom")})
	_, err = agg.Members(context.Background(), models.Key{Category: "a", Location: "b"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
