package store

import (
	"context"
	"sort"
	"sync"

	"civicproof/internal/feedback/models"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
)

// InMemory is a process-local feedback store used in development and tests.
type InMemory struct {
	mu        sync.RWMutex
	feedbacks map[id.FeedbackID]*models.Feedback
}

func NewInMemory() *InMemory {
	return &InMemory{feedbacks: make(map[id.FeedbackID]*models.Feedback)}
}

func (s *InMemory) Create(_ context.Context, f *models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feedbacks[f.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *f
	s.feedbacks[f.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, feedbackID id.FeedbackID) (*models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feedbacks[feedbackID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *f
	return &clone, nil
}

// List returns matching feedback ordered by creation time, then ID.
func (s *InMemory) List(_ context.Context, filter models.Filter) ([]*models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Feedback, 0, len(s.feedbacks))
	for _, f := range s.feedbacks {
		if filter.Matches(f) {
			clone := *f
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
