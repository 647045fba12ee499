// Package cluster groups clusterable feedback by (category, location) and decides which
// groups are large enough to report on.
package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"civicproof/internal/cluster/models"
	feedbackModels "civicproof/internal/feedback/models"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/sentinel"
)

// FeedbackLister is the read side of the feedback store.
type FeedbackLister interface {
	List(ctx context.Context, filter feedbackModels.Filter) ([]*feedbackModels.Feedback, error)
}

// Options tune a single Compute call.
type Options struct {
	// IncludeBelowThreshold returns every group, marking those under the minimum as not
	// reportable. Used by diagnostics.
	IncludeBelowThreshold bool
}

// Aggregator computes clusters on demand. It never writes.
type Aggregator struct {
	feedback         FeedbackLister
	minFeedbackCount int
	logger           *slog.Logger
}

type Option func(*Aggregator)

func WithMinFeedbackCount(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.minFeedbackCount = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func NewAggregator(feedback FeedbackLister, opts ...Option) *Aggregator {
	a := &Aggregator{
		feedback:         feedback,
		minFeedbackCount: models.DefaultMinFeedbackCount,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MinFeedbackCount is the reportable threshold in effect.
func (a *Aggregator) MinFeedbackCount() int {
	return a.minFeedbackCount
}

// Compute groups all clusterable feedback and returns clusters in reporting order.
func (a *Aggregator) Compute(ctx context.Context, opts Options) ([]models.Cluster, error) {
	rows, err := a.feedback.List(ctx, feedbackModels.Filter{RequireClusterable: true})
	if err != nil {
		return nil, translate(err)
	}

	all := Group(rows, a.minFeedbackCount)
	out := all[:0]
	for _, c := range all {
		if c.Reportable || opts.IncludeBelowThreshold {
			out = append(out, c)
		}
	}
	a.logger.DebugContext(ctx, "clusters computed",
		"feedback_rows", len(rows),
		"groups", len(all),
		"returned", len(out),
		"min_feedback_count", a.minFeedbackCount,
	)
	return out, nil
}

// Get computes a single cluster regardless of threshold.
func (a *Aggregator) Get(ctx context.Context, key models.Key) (models.Cluster, error) {
	members, err := a.Members(ctx, key)
	if err != nil {
		return models.Cluster{}, err
	}
	groups := Group(members, a.minFeedbackCount)
	if len(groups) == 0 {
		return models.Cluster{}, dErrors.Newf(dErrors.CodeNotFound, "no feedback for %s", key)
	}
	return groups[0], nil
}

// Members returns the feedback rows of key ordered by creation time, then ID.
func (a *Aggregator) Members(ctx context.Context, key models.Key) ([]*feedbackModels.Feedback, error) {
	category, location := key.Category, key.Location
	rows, err := a.feedback.List(ctx, feedbackModels.Filter{
		Category:           &category,
		Location:           &location,
		RequireClusterable: true,
	})
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

// Group aggregates rows by exact (category, location) and sorts the result. Rows missing
// either field are skipped.
func Group(rows []*feedbackModels.Feedback, minFeedbackCount int) []models.Cluster {
	type acc struct {
		cluster      models.Cluster
		sentimentSum float64
	}
	groups := make(map[models.Key]*acc)
	for _, f := range rows {
		if !f.Clusterable() {
			continue
		}
		key := models.Key{Category: *f.Category, Location: *f.Location}
		g, ok := groups[key]
		if !ok {
			g = &acc{cluster: models.Cluster{Key: key}}
			groups[key] = g
		}
		g.cluster.FeedbackCount++
		if f.IsHighUrgency() {
			g.cluster.HighUrgencyCount++
		}
		g.sentimentSum += f.Sentiment
		if f.CreatedAt.After(g.cluster.LatestFeedbackAt) {
			g.cluster.LatestFeedbackAt = f.CreatedAt
		}
	}

	out := make([]models.Cluster, 0, len(groups))
	for _, g := range groups {
		c := g.cluster
		c.AvgSentiment = g.sentimentSum / float64(c.FeedbackCount)
		c.Reportable = c.FeedbackCount >= minFeedbackCount
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return models.Less(out[i], out[j]) })
	return out
}

func translate(err error) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "feedback store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read feedback")
}
