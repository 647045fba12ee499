// Package synth turns a cluster's feedback snapshot into a report draft. The text comes
// from an external chat model; snapshot ordering, severity and structural checks are owned
// here so a draft is reproducible for a given store state.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	clusterModels "civicproof/internal/cluster/models"
	feedbackModels "civicproof/internal/feedback/models"
	"civicproof/internal/report/fingerprint"
	"civicproof/internal/report/metrics"
	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/requestcontext"
)

// SystemActor is recorded as GeneratedBy when no authenticated caller is present.
const SystemActor id.UserID = "system"

const maxRecommendations = 8

// ChatModel is the subset of an eino chat model the synthesizer calls.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Synthesizer generates report drafts.
type Synthesizer struct {
	model      ChatModel
	limiter    *rate.Limiter
	cache      DraftCache
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Synthesizer)

// WithRateLimit limits model calls to rpm per minute with the given burst.
func WithRateLimit(rpm, burst int) Option {
	return func(s *Synthesizer) {
		if rpm > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
		}
	}
}

// WithRetries bounds the number of retries after a rate-limited or malformed response.
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(s *Synthesizer) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		s.baseDelay = baseDelay
	}
}

func WithCache(cache DraftCache) Option {
	return func(s *Synthesizer) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) {
		s.metrics = m
	}
}

func New(chatModel ChatModel, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		model:      chatModel,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		cache:      NewMemoryCache(),
		maxRetries: 3,
		baseDelay:  2 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot validates feedbacks against key and returns them ordered by creation time, then
// ID. The input slice is not modified.
func Snapshot(feedbacks []*feedbackModels.Feedback, key clusterModels.Key) ([]*feedbackModels.Feedback, error) {
	if len(feedbacks) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "feedback snapshot is empty")
	}
	seen := make(map[id.FeedbackID]struct{}, len(feedbacks))
	out := make([]*feedbackModels.Feedback, 0, len(feedbacks))
	for _, f := range feedbacks {
		if f == nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "feedback snapshot contains a nil entry")
		}
		if !f.Clusterable() || *f.Category != key.Category || *f.Location != key.Location {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "feedback %s does not belong to cluster %s", f.ID, key)
		}
		if _, dup := seen[f.ID]; dup {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "feedback %s appears twice in snapshot", f.ID)
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Generate builds a draft for key from feedbacks. It has no side effects beyond the draft
// cache; persisting the draft is the registry's job.
func (s *Synthesizer) Generate(ctx context.Context, feedbacks []*feedbackModels.Feedback, key clusterModels.Key) (*models.Draft, error) {
	start := time.Now()
	defer s.metrics.ObserveGeneration(start)

	snapshot, err := Snapshot(feedbacks, key)
	if err != nil {
		return nil, err
	}

	ids := make([]id.FeedbackID, len(snapshot))
	high := 0
	for i, f := range snapshot {
		ids[i] = f.ID
		if f.IsHighUrgency() {
			high++
		}
	}
	digest := fingerprint.SnapshotDigest(ids)
	severity := models.SeverityFor(high, len(snapshot))

	content, err := s.content(ctx, key, snapshot, severity, digest)
	if err != nil {
		return nil, err
	}

	generatedBy := requestcontext.UserID(ctx)
	if generatedBy.IsNil() {
		generatedBy = SystemActor
	}
	draft := &models.Draft{
		Key:               key,
		SourceFeedbackIDs: ids,
		SnapshotDigest:    digest,
		Title:             content.Title,
		Narrative:         content.Narrative,
		Recommendations:   content.Recommendations,
		Severity:          severity,
		FeedbackCount:     len(snapshot),
		HighUrgencyCount:  high,
		GeneratedBy:       generatedBy,
		CreatedAt:         requestcontext.Now(ctx).UTC(),
	}
	if err := draft.Validate(); err != nil {
		s.metrics.IncGenerationFailure("invalid_draft")
		return nil, err
	}
	s.metrics.IncDraftGenerated()
	s.logger.InfoContext(ctx, "report draft generated",
		"cluster", key.String(),
		"feedback_count", draft.FeedbackCount,
		"severity", severity,
		"snapshot_digest", digest,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return draft, nil
}

func (s *Synthesizer) content(ctx context.Context, key clusterModels.Key, snapshot []*feedbackModels.Feedback, severity models.Severity, digest string) (*Content, error) {
	if cached, ok, err := s.cache.Get(ctx, digest); err != nil {
		s.logger.WarnContext(ctx, "draft cache read failed", "error", err, "snapshot_digest", digest)
	} else if ok {
		s.metrics.IncDraftCacheHit()
		return cached, nil
	}

	generated, err := s.callModel(ctx, key, snapshot, severity)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(ctx, digest, *generated); err != nil {
		s.logger.WarnContext(ctx, "draft cache write failed", "error", err, "snapshot_digest", digest)
		return generated, nil
	}
	// Another generator may have stored first; converge on the stored content.
	if stored, ok, err := s.cache.Get(ctx, digest); err == nil && ok {
		return stored, nil
	}
	return generated, nil
}

func (s *Synthesizer) callModel(ctx context.Context, key clusterModels.Key, snapshot []*feedbackModels.Feedback, severity models.Severity) (*Content, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildPrompt(key, snapshot, severity)),
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeGeneration, "report generation cancelled")
		}

		resp, err := s.model.Generate(ctx, messages, model.WithTemperature(0))
		if err != nil {
			if !isRateLimited(err) {
				s.metrics.IncGenerationFailure("model_error")
				return nil, dErrors.Wrap(err, dErrors.CodeGeneration, "report generation failed")
			}
			lastErr = err
			s.logger.WarnContext(ctx, "report model rate limited", "attempt", attempt+1, "cluster", key.String())
			if err := s.backoff(ctx, attempt); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeGeneration, "report generation cancelled")
			}
			continue
		}

		content, err := parseContent(resp)
		if err != nil {
			lastErr = err
			s.logger.WarnContext(ctx, "report model returned malformed output",
				"attempt", attempt+1,
				"cluster", key.String(),
				"error", err,
			)
			continue
		}
		return content, nil
	}
	s.metrics.IncGenerationFailure("exhausted")
	return nil, dErrors.Wrap(lastErr, dErrors.CodeGeneration, "report generation failed after retries")
}

func (s *Synthesizer) backoff(ctx context.Context, attempt int) error {
	if attempt >= s.maxRetries || s.baseDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.baseDelay * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errMalformed = errors.New("malformed model output")

func parseContent(resp *schema.Message) (*Content, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", errMalformed)
	}
	clean := strings.TrimSpace(resp.Content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var content Content
	if err := json.Unmarshal([]byte(clean), &content); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	content.Title = strings.TrimSpace(content.Title)
	content.Narrative = strings.TrimSpace(content.Narrative)
	if content.Title == "" || content.Narrative == "" {
		return nil, fmt.Errorf("%w: title and narrative are required", errMalformed)
	}
	recs := make([]string, 0, len(content.Recommendations))
	for _, r := range content.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
		if len(recs) == maxRecommendations {
			break
		}
	}
	content.Recommendations = recs
	return &content, nil
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}
