package service

import (
	"context"
	"errors"
	"log/slog"

	"civicproof/internal/feedback/models"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/requestcontext"
)

// Store is the feedback persistence capability.
type Store interface {
	Create(ctx context.Context, f *models.Feedback) error
	FindByID(ctx context.Context, feedbackID id.FeedbackID) (*models.Feedback, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Feedback, error)
}

// SubmitRequest carries a new complaint from an authenticated author.
type SubmitRequest struct {
	AuthorID  id.UserID
	Category  string
	Location  string
	Urgency   models.Urgency
	Sentiment float64
}

// Service exposes the feedback store to the rest of the pipeline with domain-coded errors.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and stores a new feedback.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Feedback, error) {
	f, err := models.NewFeedback(id.NewFeedbackID(), req.AuthorID, req.Category, req.Location, req.Urgency, req.Sentiment, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, f); err != nil {
		return nil, translate(err, "failed to store feedback")
	}
	s.logger.InfoContext(ctx, "feedback submitted",
		"feedback_id", f.ID.String(),
		"clusterable", f.Clusterable(),
		"urgency", f.Urgency,
	)
	return f, nil
}

// Get returns a single feedback.
func (s *Service) Get(ctx context.Context, feedbackID id.FeedbackID) (*models.Feedback, error) {
	f, err := s.store.FindByID(ctx, feedbackID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "feedback not found")
		}
		return nil, translate(err, "failed to load feedback")
	}
	return f, nil
}

// List returns feedback matching filter.
func (s *Service) List(ctx context.Context, filter models.Filter) ([]*models.Feedback, error) {
	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, translate(err, "failed to list feedback")
	}
	return list, nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "feedback store unavailable")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "feedback already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
