// Package pipeline drives clusters through report generation and anchoring, and runs the
// watchdog that settles anchor attempts left without a confirmed answer.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"civicproof/internal/anchor"
	"civicproof/internal/cluster"
	clusterModels "civicproof/internal/cluster/models"
	feedbackModels "civicproof/internal/feedback/models"
	"civicproof/internal/report/models"
	"civicproof/internal/report/service"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
)

const tracerName = "civicproof/pipeline"

// ClusterSource provides clusters and their member feedback.
type ClusterSource interface {
	Compute(ctx context.Context, opts cluster.Options) ([]clusterModels.Cluster, error)
	Get(ctx context.Context, key clusterModels.Key) (clusterModels.Cluster, error)
	Members(ctx context.Context, key clusterModels.Key) ([]*feedbackModels.Feedback, error)
}

// Synthesizer turns a feedback snapshot into a draft.
type Synthesizer interface {
	Generate(ctx context.Context, feedbacks []*feedbackModels.Feedback, key clusterModels.Key) (*models.Draft, error)
}

// Registry persists reports and owns anchor transitions.
type Registry interface {
	SaveDraft(ctx context.Context, draft *models.Draft) (*service.SaveResult, error)
	Get(ctx context.Context, reportID id.ReportID) (*models.Report, error)
	ClaimForAnchoring(ctx context.Context, reportID id.ReportID) (*service.ClaimResult, error)
	RecordSubmission(ctx context.Context, reportID id.ReportID, txRef string) error
	ReleaseClaim(ctx context.Context, reportID id.ReportID, restoreTxRef, reason string) (*models.Report, error)
	MarkAnchored(ctx context.Context, reportID id.ReportID, proof models.AnchorProof) (*models.Report, error)
	MarkAnchorFailed(ctx context.Context, reportID id.ReportID, kind models.FailureKind, reason string) (*models.Report, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Report, error)
	ListTimedOut(ctx context.Context, limit int) ([]*models.Report, error)
}

// Anchorer submits fingerprints to the ledger.
type Anchorer interface {
	Preflight(ctx context.Context) *anchor.Failure
	Anchor(ctx context.Context, r *models.Report, onSigned anchor.SubmitHook) (anchor.Outcome, error)
	TransactionStatus(ctx context.Context, txRef string) (*anchor.TxStatus, error)
}

// Orchestrator runs the aggregation, synthesis, registry and anchoring stages.
type Orchestrator struct {
	clusters    ClusterSource
	synth       Synthesizer
	registry    Registry
	anchorer    Anchorer
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Orchestrator)

// WithConcurrency bounds how many clusters a batch processes at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func New(clusters ClusterSource, synth Synthesizer, registry Registry, anchorer Anchorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clusters:    clusters,
		synth:       synth,
		registry:    registry,
		anchorer:    anchorer,
		concurrency: 4,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateForCluster builds and saves a report from the cluster's current feedback.
// Regenerating an unchanged cluster returns the report already saved for that snapshot.
func (o *Orchestrator) GenerateForCluster(ctx context.Context, key clusterModels.Key) (result *service.SaveResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.GenerateForCluster", trace.WithAttributes(
		attribute.String("cluster.category", key.Category),
		attribute.String("cluster.location", key.Location),
	))
	defer func() { endSpan(span, err) }()

	c, err := o.clusters.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !c.Reportable {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "cluster %s has %d feedback, below the reporting threshold", key, c.FeedbackCount)
	}
	members, err := o.clusters.Members(ctx, key)
	if err != nil {
		return nil, err
	}
	draft, err := o.synth.Generate(ctx, members, key)
	if err != nil {
		return nil, err
	}
	result, err = o.registry.SaveDraft(ctx, draft)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("report.id", result.Report.ID.String()),
		attribute.Bool("report.created", result.Created),
	)
	return result, nil
}

// AnchorResult describes what one AnchorReport call did.
type AnchorResult struct {
	Report *models.Report `json:"report"`
	// Submitted is true when this call broadcast a transaction.
	Submitted bool `json:"submitted"`
	// Reconciled is true when an earlier transaction was found confirmed instead.
	Reconciled bool `json:"reconciled"`
}

// AnchorReport anchors a saved report. Only the caller that claims the report talks to the
// ledger; concurrent callers get the report's current state back. Ledger failures are
// recorded on the report and returned as domain errors carrying the failure kind's code.
func (o *Orchestrator) AnchorReport(ctx context.Context, reportID id.ReportID) (result *AnchorResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.AnchorReport", trace.WithAttributes(
		attribute.String("report.id", reportID.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := o.registry.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if current.AnchorStatus == models.AnchorPending || current.AnchorStatus == models.AnchorAnchored {
		return &AnchorResult{Report: current}, nil
	}
	if f := o.anchorer.Preflight(ctx); f != nil {
		o.logger.WarnContext(ctx, "anchor preflight failed",
			"report_id", reportID.String(),
			"kind", f.Kind,
			"reason", f.Reason,
		)
		return nil, f.Err()
	}

	claim, err := o.registry.ClaimForAnchoring(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !claim.Claimed {
		return &AnchorResult{Report: claim.Report}, nil
	}

	// From here the report is pending and must leave that state no matter what happens to
	// the caller's request.
	ctx = context.WithoutCancel(ctx)
	claimed := claim.Report
	prevTx := claimed.PendingTxRef

	if prevTx != "" {
		settled, res, err := o.settlePrevious(ctx, claimed)
		if settled {
			return res, err
		}
	}

	outcome, err := o.anchorer.Anchor(ctx, claimed, func(ctx context.Context, txRef string) error {
		return o.registry.RecordSubmission(ctx, reportID, txRef)
	})
	if err != nil {
		if _, relErr := o.registry.ReleaseClaim(ctx, reportID, prevTx, err.Error()); relErr != nil {
			o.logger.ErrorContext(ctx, "failed to release anchor claim", "report_id", reportID.String(), "error", relErr)
		}
		return nil, err
	}
	return o.apply(ctx, claimed, prevTx, outcome)
}

// settlePrevious checks the transaction recorded by an earlier attempt before a retry
// signs a new one, so a slow confirmation cannot turn into a second anchor.
func (o *Orchestrator) settlePrevious(ctx context.Context, r *models.Report) (bool, *AnchorResult, error) {
	status, err := o.anchorer.TransactionStatus(ctx, r.PendingTxRef)
	if err != nil {
		o.failAttempt(ctx, r.ID, models.FailureNetworkUnreachable, "could not check earlier transaction: "+err.Error())
		return true, nil, dErrors.Wrap(err, dErrors.CodeNetworkUnreachable, "ledger unreachable")
	}
	switch status.State {
	case anchor.TxConfirmed:
		report, err := o.registry.MarkAnchored(ctx, r.ID, *status.Proof)
		if err != nil {
			return true, nil, err
		}
		return true, &AnchorResult{Report: report, Reconciled: true}, nil
	case anchor.TxReverted:
		o.failAttempt(ctx, r.ID, models.FailureReverted, status.Reason)
		return true, nil, dErrors.New(dErrors.CodeTransactionReverted, status.Reason)
	case anchor.TxPending:
		o.failAttempt(ctx, r.ID, models.FailureTimeout, "earlier transaction still unconfirmed: "+status.Reason)
		return true, nil, dErrors.New(dErrors.CodeTimeout, "earlier transaction is still unconfirmed")
	default:
		// The earlier transaction was dropped; a fresh submission is safe.
		return false, nil, nil
	}
}

func (o *Orchestrator) apply(ctx context.Context, r *models.Report, prevTx string, outcome anchor.Outcome) (*AnchorResult, error) {
	if outcome.Anchored() {
		report, err := o.registry.MarkAnchored(ctx, r.ID, *outcome.Proof)
		if err != nil {
			return nil, err
		}
		return &AnchorResult{Report: report, Submitted: true}, nil
	}

	f := outcome.Failure
	if f == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "anchor attempt returned neither proof nor failure")
	}
	if f.Kind == models.FailureInsufficientFunds && !f.Broadcast {
		if _, err := o.registry.ReleaseClaim(ctx, r.ID, prevTx, f.Reason); err != nil {
			return nil, err
		}
		return nil, f.Err()
	}
	kind := f.Kind
	if kind == models.FailureNetworkUnreachable && f.Broadcast {
		// The transaction may be in the pool; let the watchdog find out before any retry.
		kind = models.FailureTimeout
	}
	o.failAttempt(ctx, r.ID, kind, f.Reason)
	return nil, dErrors.New(kind.Code(), f.Reason)
}

func (o *Orchestrator) failAttempt(ctx context.Context, reportID id.ReportID, kind models.FailureKind, reason string) {
	if _, err := o.registry.MarkAnchorFailed(ctx, reportID, kind, reason); err != nil {
		o.logger.ErrorContext(ctx, "failed to record anchor failure",
			"report_id", reportID.String(),
			"kind", kind,
			"error", err,
		)
	}
}

// BatchRequest selects what RunBatch does for every reportable cluster.
type BatchRequest struct {
	Anchor bool `json:"anchor"`
}

// BatchItem is the per-cluster result of a batch run.
type BatchItem struct {
	Category     string `json:"category"`
	Location     string `json:"location"`
	ReportID     string `json:"report_id,omitempty"`
	Created      bool   `json:"created"`
	AnchorStatus string `json:"anchor_status,omitempty"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
}

// BatchResult lists items in cluster ranking order.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// RunBatch generates (and optionally anchors) a report for every reportable cluster.
// Clusters run in parallel up to the configured concurrency; one cluster failing does not
// stop the others.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest) (result *BatchResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.RunBatch", trace.WithAttributes(attribute.Bool("anchor", req.Anchor)))
	defer func() { endSpan(span, err) }()

	clusters, err := o.clusters.Compute(ctx, cluster.Options{})
	if err != nil {
		return nil, err
	}
	items := make([]BatchItem, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, c := range clusters {
		g.Go(func() error {
			items[i] = o.runOne(gctx, c.Key, req)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result = &BatchResult{Items: items}
	for _, item := range items {
		if item.Error == "" {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	span.SetAttributes(attribute.Int("batch.clusters", len(items)), attribute.Int("batch.failed", result.Failed))
	o.logger.InfoContext(ctx, "batch run finished",
		"clusters", len(items),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"anchor", req.Anchor,
	)
	return result, nil
}

func (o *Orchestrator) runOne(ctx context.Context, key clusterModels.Key, req BatchRequest) BatchItem {
	item := BatchItem{Category: key.Category, Location: key.Location}
	saved, err := o.GenerateForCluster(ctx, key)
	if err != nil {
		return withError(item, err)
	}
	item.ReportID = saved.Report.ID.String()
	item.Created = saved.Created
	item.AnchorStatus = string(saved.Report.AnchorStatus)
	if !req.Anchor {
		return item
	}
	res, err := o.AnchorReport(ctx, saved.Report.ID)
	if err != nil {
		return withError(item, err)
	}
	item.AnchorStatus = string(res.Report.AnchorStatus)
	return item
}

func withError(item BatchItem, err error) BatchItem {
	item.Error = string(dErrors.CodeOf(err))
	item.Message = dErrors.MessageOf(err)
	return item
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
