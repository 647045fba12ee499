package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
)

// InMemory is a process-local report store. A single mutex makes every transition atomic.
type InMemory struct {
	mu      sync.Mutex
	reports map[id.ReportID]*models.Report
}

func NewInMemory() *InMemory {
	return &InMemory{reports: make(map[id.ReportID]*models.Report)}
}

func (s *InMemory) Create(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.reports {
		if existing.Key == r.Key && existing.SnapshotDigest == r.SnapshotDigest {
			return sentinel.ErrConflict
		}
	}
	s.reports[r.ID] = clone(r)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, reportID id.ReportID) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

func (s *InMemory) FindBySnapshot(_ context.Context, key clusterModels.Key, digest string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.Key == key && r.SnapshotDigest == digest {
			return clone(r), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByCluster returns the reports of key, newest first.
func (s *InMemory) ListByCluster(_ context.Context, key clusterModels.Key) ([]*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Report
	for _, r := range s.reports {
		if r.Key == key {
			out = append(out, clone(r))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) LatestByCluster(ctx context.Context, key clusterModels.Key) (*models.Report, error) {
	list, err := s.ListByCluster(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return list[0], nil
}

// MarkSuperseded points every other unsuperseded report of key at newID.
func (s *InMemory) MarkSuperseded(_ context.Context, key clusterModels.Key, newID id.ReportID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reports {
		if r.Key == key && r.ID != newID && r.SupersededBy == nil {
			replacement := newID
			r.SupersededBy = &replacement
			n++
		}
	}
	return n, nil
}

func (s *InMemory) Claim(_ context.Context, reportID id.ReportID, p ClaimParams) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !claimable(r, p) {
		return nil, sentinel.ErrInvalidState
	}
	r.ClaimPrevStatus = r.AnchorStatus
	r.AnchorStatus = models.AnchorPending
	r.AnchorAttempts++
	r.AnchorUpdatedAt = timePtr(p.Now)
	return clone(r), nil
}

func (s *InMemory) RecordSubmission(_ context.Context, reportID id.ReportID, txRef string, now time.Time) error {
	return s.transition(reportID, func(r *models.Report) bool {
		if r.AnchorStatus != models.AnchorPending {
			return false
		}
		r.PendingTxRef = txRef
		r.AnchorUpdatedAt = timePtr(now)
		return true
	})
}

func (s *InMemory) ReleaseClaim(_ context.Context, reportID id.ReportID, restoreTxRef string, now time.Time) error {
	return s.transition(reportID, func(r *models.Report) bool {
		if r.AnchorStatus != models.AnchorPending {
			return false
		}
		r.AnchorStatus = r.ClaimPrevStatus
		if r.AnchorStatus == "" {
			r.AnchorStatus = models.AnchorUnanchored
		}
		r.ClaimPrevStatus = ""
		r.AnchorAttempts = max(r.AnchorAttempts-1, 0)
		r.PendingTxRef = restoreTxRef
		r.AnchorUpdatedAt = timePtr(now)
		return true
	})
}

func (s *InMemory) MarkAnchored(_ context.Context, reportID id.ReportID, proof models.AnchorProof, now time.Time) error {
	return s.transition(reportID, func(r *models.Report) bool {
		if r.AnchorStatus != models.AnchorPending && r.AnchorStatus != models.AnchorFailed {
			return false
		}
		if r.PendingTxRef != proof.TxRef {
			return false
		}
		p := proof
		r.Proof = &p
		r.AnchorStatus = models.AnchorAnchored
		r.AnchorFailureKind = ""
		r.AnchorFailureReason = ""
		r.ClaimPrevStatus = ""
		r.PendingTxRef = ""
		r.AnchorUpdatedAt = timePtr(now)
		return true
	})
}

func (s *InMemory) MarkFailed(_ context.Context, reportID id.ReportID, kind models.FailureKind, reason string, now time.Time) error {
	return s.transition(reportID, func(r *models.Report) bool {
		if r.AnchorStatus != models.AnchorPending && r.AnchorStatus != models.AnchorFailed {
			return false
		}
		r.AnchorStatus = models.AnchorFailed
		r.AnchorFailureKind = kind
		r.AnchorFailureReason = reason
		r.ClaimPrevStatus = ""
		r.AnchorUpdatedAt = timePtr(now)
		return true
	})
}

// ListStalePending returns pending reports whose last transition is older than before.
func (s *InMemory) ListStalePending(_ context.Context, before time.Time, limit int) ([]*models.Report, error) {
	return s.list(limit, func(r *models.Report) bool {
		return r.AnchorStatus == models.AnchorPending && r.AnchorUpdatedAt != nil && r.AnchorUpdatedAt.Before(before)
	}), nil
}

// ListTimedOut returns reports that failed on timeout after a transaction was recorded.
func (s *InMemory) ListTimedOut(_ context.Context, limit int) ([]*models.Report, error) {
	return s.list(limit, func(r *models.Report) bool {
		return r.AnchorStatus == models.AnchorFailed && r.AnchorFailureKind == models.FailureTimeout && r.PendingTxRef != ""
	}), nil
}

func (s *InMemory) list(limit int, match func(*models.Report) bool) []*models.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Report
	for _, r := range s.reports {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnchorUpdatedAt.Before(*out[j].AnchorUpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *InMemory) transition(reportID id.ReportID, apply func(*models.Report) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !apply(r) {
		return sentinel.ErrInvalidState
	}
	return nil
}

func sortNewestFirst(list []*models.Report) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID.String() > list[j].ID.String()
	})
}

func clone(r *models.Report) *models.Report {
	c := *r
	c.SourceFeedbackIDs = slices.Clone(r.SourceFeedbackIDs)
	c.Recommendations = slices.Clone(r.Recommendations)
	if r.Proof != nil {
		p := *r.Proof
		c.Proof = &p
	}
	if r.AnchorUpdatedAt != nil {
		c.AnchorUpdatedAt = timePtr(*r.AnchorUpdatedAt)
	}
	if r.SupersededBy != nil {
		sb := *r.SupersededBy
		c.SupersededBy = &sb
	}
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
