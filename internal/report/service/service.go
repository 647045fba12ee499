// Package service is the report registry: it persists drafts idempotently and owns every
// anchor status transition. Transitions are delegated to conditional store updates, so the
// registry is safe to call from concurrent requests and from the watchdog.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"civicproof/internal/audit"
	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/platform/config"
	"civicproof/internal/report/fingerprint"
	"civicproof/internal/report/metrics"
	"civicproof/internal/report/models"
	"civicproof/internal/report/store"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/platform/tx"
	"civicproof/pkg/requestcontext"
)

// Store is the report persistence capability.
type Store interface {
	Create(ctx context.Context, r *models.Report) error
	FindByID(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	FindBySnapshot(ctx context.Context, key clusterModels.Key, digest string) (*models.Report, error)
	ListByCluster(ctx context.Context, key clusterModels.Key) ([]*models.Report, error)
	LatestByCluster(ctx context.Context, key clusterModels.Key) (*models.Report, error)
	MarkSuperseded(ctx context.Context, key clusterModels.Key, newID id.ReportID) (int, error)
	Claim(ctx context.Context, reportID id.ReportID, p store.ClaimParams) (*models.Report, error)
	RecordSubmission(ctx context.Context, reportID id.ReportID, txRef string, now time.Time) error
	ReleaseClaim(ctx context.Context, reportID id.ReportID, restoreTxRef string, now time.Time) error
	MarkAnchored(ctx context.Context, reportID id.ReportID, proof models.AnchorProof, now time.Time) error
	MarkFailed(ctx context.Context, reportID id.ReportID, kind models.FailureKind, reason string, now time.Time) error
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Report, error)
	ListTimedOut(ctx context.Context, limit int) ([]*models.Report, error)
}

// SaveResult reports whether SaveDraft created a row or found the existing one.
type SaveResult struct {
	Report  *models.Report
	Created bool
	// Superseded counts older reports of the same cluster that now point at Report.
	Superseded int
}

// ClaimResult is the outcome of ClaimForAnchoring. When Claimed is false the report is
// already pending or anchored and the caller must not submit.
type ClaimResult struct {
	Report  *models.Report
	Claimed bool
}

// Service is the report registry.
type Service struct {
	store       Store
	tx          tx.Runner
	history     config.HistoryMode
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       audit.Emitter
}

type Option func(*Service)

func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithHistoryMode(mode config.HistoryMode) Option {
	return func(s *Service) {
		s.history = mode
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAudit(emitter audit.Emitter) Option {
	return func(s *Service) {
		s.audit = emitter
	}
}

func New(st Store, opts ...Option) *Service {
	defaults := config.DefaultPolicy()
	s := &Service{
		store:       st,
		tx:          tx.NoopRunner{},
		history:     defaults.Reports.HistoryMode,
		maxAttempts: defaults.Anchoring.MaxAttempts,
		logger:      slog.Default(),
		audit:       audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAttempts is the anchoring attempt budget per report.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// SaveDraft persists draft, or returns the report already saved for the same cluster and
// snapshot. In supersede mode a newly created report replaces every older report of its
// cluster within the same transaction.
func (s *Service) SaveDraft(ctx context.Context, draft *models.Draft) (*SaveResult, error) {
	if draft == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "draft is required")
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if fingerprint.SnapshotDigest(draft.SourceFeedbackIDs) != draft.SnapshotDigest {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "snapshot digest does not match source feedback")
	}
	fp, err := fingerprint.OfDraft(draft)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint draft")
	}

	var result SaveResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindBySnapshot(ctx, draft.Key, draft.SnapshotDigest)
		if err == nil {
			result = SaveResult{Report: existing}
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		report := newReport(draft, fp, requestcontext.Now(ctx))
		if err := s.store.Create(ctx, report); err != nil {
			if !errors.Is(err, sentinel.ErrConflict) {
				return err
			}
			// A concurrent save of the same snapshot won.
			existing, findErr := s.store.FindBySnapshot(ctx, draft.Key, draft.SnapshotDigest)
			if findErr != nil {
				return findErr
			}
			result = SaveResult{Report: existing}
			return nil
		}
		result = SaveResult{Report: report, Created: true}

		if s.history == config.HistorySupersede {
			n, err := s.store.MarkSuperseded(ctx, draft.Key, report.ID)
			if err != nil {
				return err
			}
			result.Superseded = n
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "failed to save report")
	}

	s.metrics.IncReportSaved(!result.Created)
	r := result.Report
	if !result.Created {
		s.logger.InfoContext(ctx, "report already saved for snapshot",
			"report_id", r.ID.String(),
			"cluster", r.Key.String(),
		)
		return &result, nil
	}
	s.logger.InfoContext(ctx, "report saved",
		"report_id", r.ID.String(),
		"cluster", r.Key.String(),
		"severity", r.Severity,
		"fingerprint", r.Fingerprint,
		"superseded", result.Superseded,
	)
	s.emit(ctx, audit.ActionReportGenerated, r, "")
	if result.Superseded > 0 {
		s.emit(ctx, audit.ActionReportSuperseded, r, fmt.Sprintf("%d older report(s) superseded", result.Superseded))
	}
	return &result, nil
}

func newReport(d *models.Draft, fp fingerprint.Fingerprint, now time.Time) *models.Report {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	recommendations := d.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}
	return &models.Report{
		ID:                id.NewReportID(),
		Key:               d.Key,
		SourceFeedbackIDs: d.SourceFeedbackIDs,
		SnapshotDigest:    d.SnapshotDigest,
		Fingerprint:       fp.Hex(),
		Title:             d.Title,
		Narrative:         d.Narrative,
		Recommendations:   recommendations,
		Severity:          d.Severity,
		GeneratedBy:       d.GeneratedBy,
		CreatedAt:         createdAt.UTC(),
		AnchorStatus:      models.AnchorUnanchored,
	}
}

// Get returns a report by id.
func (s *Service) Get(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	r, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		return nil, translate(err, "failed to load report")
	}
	return r, nil
}

// GetByCluster returns the most recent report for key.
func (s *Service) GetByCluster(ctx context.Context, key clusterModels.Key) (*models.Report, error) {
	r, err := s.store.LatestByCluster(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no report for cluster %s", key)
		}
		return nil, translate(err, "failed to load report")
	}
	return r, nil
}

// History returns every report of key, newest first.
func (s *Service) History(ctx context.Context, key clusterModels.Key) ([]*models.Report, error) {
	list, err := s.store.ListByCluster(ctx, key)
	if err != nil {
		return nil, translate(err, "failed to list reports")
	}
	return list, nil
}

// ClaimForAnchoring moves the report into pending. Exactly one concurrent caller wins; the
// others get Claimed=false together with the current report.
func (s *Service) ClaimForAnchoring(ctx context.Context, reportID id.ReportID) (*ClaimResult, error) {
	claimed, err := s.store.Claim(ctx, reportID, store.ClaimParams{
		MaxAttempts:     s.maxAttempts,
		AllowSuperseded: s.history == config.HistoryAppend,
		Now:             requestcontext.Now(ctx).UTC(),
	})
	if err == nil {
		s.metrics.IncAnchorTransition(string(models.AnchorPending))
		s.logger.InfoContext(ctx, "report claimed for anchoring",
			"report_id", reportID.String(),
			"attempt", claimed.AnchorAttempts,
		)
		s.emit(ctx, audit.ActionAnchorClaimed, claimed, "")
		return &ClaimResult{Report: claimed, Claimed: true}, nil
	}
	if !errors.Is(err, sentinel.ErrInvalidState) {
		return nil, translate(err, "failed to claim report")
	}

	current, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		return nil, translate(err, "failed to load report")
	}
	switch {
	case current.AnchorStatus == models.AnchorPending || current.AnchorStatus == models.AnchorAnchored:
		s.logger.InfoContext(ctx, "anchor already in progress or complete",
			"report_id", reportID.String(),
			"anchor_status", current.AnchorStatus,
		)
		return &ClaimResult{Report: current}, nil
	case current.IsSuperseded() && s.history == config.HistorySupersede:
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "report was superseded by %s", current.SupersededBy.String())
	case current.AnchorStatus == models.AnchorFailed && !current.AnchorFailureKind.Retryable():
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "anchoring failed permanently (%s); generate a new report", current.AnchorFailureKind)
	case current.AnchorStatus == models.AnchorFailed:
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "anchor attempts exhausted (%d of %d)", current.AnchorAttempts, s.maxAttempts)
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "report cannot be anchored from status %s", current.AnchorStatus)
	}
}

// RecordSubmission stores the hash of the signed transaction before it is broadcast so
// the watchdog can find it if the process dies mid-confirmation.
func (s *Service) RecordSubmission(ctx context.Context, reportID id.ReportID, txRef string) error {
	if txRef == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "transaction reference is required")
	}
	if err := s.store.RecordSubmission(ctx, reportID, txRef, requestcontext.Now(ctx).UTC()); err != nil {
		return translate(err, "failed to record submission")
	}
	if r, err := s.store.FindByID(ctx, reportID); err == nil {
		s.emit(ctx, audit.ActionAnchorSubmitted, r, "")
	}
	return nil
}

// ReleaseClaim undoes a claim whose transaction was never broadcast, restoring the status
// the report had before. restoreTxRef is the transaction recorded by an earlier attempt.
func (s *Service) ReleaseClaim(ctx context.Context, reportID id.ReportID, restoreTxRef, reason string) (*models.Report, error) {
	if err := s.store.ReleaseClaim(ctx, reportID, restoreTxRef, requestcontext.Now(ctx).UTC()); err != nil {
		return nil, translate(err, "failed to release claim")
	}
	r, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		return nil, translate(err, "failed to load report")
	}
	s.logger.WarnContext(ctx, "anchor claim released",
		"report_id", reportID.String(),
		"anchor_status", r.AnchorStatus,
		"reason", reason,
	)
	s.emit(ctx, audit.ActionAnchorReleased, r, reason)
	return r, nil
}

// MarkAnchored records a confirmed proof. The proof must belong to the transaction
// recorded by RecordSubmission. Re-applying the same proof is a no-op.
func (s *Service) MarkAnchored(ctx context.Context, reportID id.ReportID, proof models.AnchorProof) (*models.Report, error) {
	if proof.TxRef == "" || proof.BlockRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "anchor proof requires transaction and block references")
	}
	err := s.store.MarkAnchored(ctx, reportID, proof, requestcontext.Now(ctx).UTC())
	if err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return nil, translate(err, "failed to mark report anchored")
	}
	r, findErr := s.store.FindByID(ctx, reportID)
	if findErr != nil {
		return nil, translate(findErr, "failed to load report")
	}
	if err != nil {
		if r.AnchorStatus == models.AnchorAnchored && r.Proof != nil && r.Proof.TxRef == proof.TxRef {
			return r, nil
		}
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "report cannot be marked anchored from status %s", r.AnchorStatus)
	}

	s.metrics.IncAnchorTransition(string(models.AnchorAnchored))
	s.logger.InfoContext(ctx, "report anchored",
		"report_id", reportID.String(),
		"tx_ref", proof.TxRef,
		"block_number", proof.BlockNumber,
	)
	s.emit(ctx, audit.ActionAnchorConfirmed, r, "")
	return r, nil
}

// MarkAnchorFailed moves a pending (or already failed) report to failed with kind.
func (s *Service) MarkAnchorFailed(ctx context.Context, reportID id.ReportID, kind models.FailureKind, reason string) (*models.Report, error) {
	if err := s.store.MarkFailed(ctx, reportID, kind, reason, requestcontext.Now(ctx).UTC()); err != nil {
		return nil, translate(err, "failed to mark anchor failure")
	}
	r, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		return nil, translate(err, "failed to load report")
	}
	s.metrics.IncAnchorTransition(string(models.AnchorFailed))
	s.logger.WarnContext(ctx, "report anchoring failed",
		"report_id", reportID.String(),
		"kind", kind,
		"reason", reason,
		"attempts", r.AnchorAttempts,
	)
	s.emit(ctx, audit.ActionAnchorFailed, r, reason)
	return r, nil
}

// ListStalePending returns reports pending since before the given time.
func (s *Service) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Report, error) {
	list, err := s.store.ListStalePending(ctx, before, limit)
	if err != nil {
		return nil, translate(err, "failed to list stale reports")
	}
	return list, nil
}

// ListTimedOut returns reports whose confirmation timed out after broadcast.
func (s *Service) ListTimedOut(ctx context.Context, limit int) ([]*models.Report, error) {
	list, err := s.store.ListTimedOut(ctx, limit)
	if err != nil {
		return nil, translate(err, "failed to list timed out reports")
	}
	return list, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, r *models.Report, reason string) {
	txRef := r.PendingTxRef
	if r.Proof != nil {
		txRef = r.Proof.TxRef
	}
	s.audit.Emit(ctx, audit.Event{
		Action:   action,
		ReportID: r.ID.String(),
		Category: r.Key.Category,
		Location: r.Key.Location,
		Status:   string(r.AnchorStatus),
		TxRef:    txRef,
		Reason:   reason,
	})
}

func translate(err error, msg string) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "report not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "report is not in a state that allows this change")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "report already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "report store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
