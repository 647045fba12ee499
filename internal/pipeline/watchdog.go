package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civicproof/internal/anchor"
	"civicproof/internal/audit"
	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
	"civicproof/pkg/requestcontext"
)

const sweepBatch = 100

// Watchdog settles anchor attempts that ended without a definite answer: reports left
// pending past the grace period (a crashed or stuck attempt) and reports that timed out
// after broadcasting.
type Watchdog struct {
	registry Registry
	anchorer Anchorer
	grace    time.Duration
	interval time.Duration
	audit    audit.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
}

type WatchdogOption func(*Watchdog)

func WithGrace(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.grace = d
		}
	}
}

func WithInterval(d time.Duration) WatchdogOption {
	return func(w *Watchdog) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWatchdogLogger(logger *slog.Logger) WatchdogOption {
	return func(w *Watchdog) {
		w.logger = logger
	}
}

func WithWatchdogAudit(e audit.Emitter) WatchdogOption {
	return func(w *Watchdog) {
		if e != nil {
			w.audit = e
		}
	}
}

func NewWatchdog(registry Registry, anchorer Anchorer, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		registry: registry,
		anchorer: anchorer,
		grace:    10 * time.Minute,
		interval: time.Minute,
		audit:    audit.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked   int
	Anchored  int
	Failed    int
	Unchanged int
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "anchor watchdog started", "interval", w.interval, "grace", w.grace)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(context.WithoutCancel(ctx), "anchor watchdog stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "anchor watchdog sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs a single reconciliation pass.
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := w.tracer.Start(ctx, "pipeline.Watchdog.Sweep")
	var res SweepResult
	var err error
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.checked", res.Checked),
			attribute.Int("sweep.anchored", res.Anchored),
			attribute.Int("sweep.failed", res.Failed),
		)
		endSpan(span, err)
	}()

	now := requestcontext.Now(ctx)
	stale, err := w.registry.ListStalePending(ctx, now.Add(-w.grace), sweepBatch)
	if err != nil {
		return res, err
	}
	// A stale report failed as a timeout here would otherwise be listed again below.
	seen := make(map[id.ReportID]struct{}, len(stale))
	for _, r := range stale {
		seen[r.ID] = struct{}{}
		w.settle(ctx, r, &res)
	}

	timedOut, err := w.registry.ListTimedOut(ctx, sweepBatch)
	if err != nil {
		return res, err
	}
	for _, r := range timedOut {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		w.settle(ctx, r, &res)
	}

	if res.Checked > 0 {
		w.logger.InfoContext(ctx, "anchor watchdog sweep",
			"checked", res.Checked,
			"anchored", res.Anchored,
			"failed", res.Failed,
			"unchanged", res.Unchanged,
		)
	}
	return res, nil
}

func (w *Watchdog) settle(ctx context.Context, r *models.Report, res *SweepResult) {
	res.Checked++
	pending := r.AnchorStatus == models.AnchorPending

	if r.PendingTxRef == "" {
		// Nothing was signed, so nothing can be on the ledger.
		w.fail(ctx, r, models.FailureNetworkUnreachable, "anchor attempt abandoned before broadcast", res)
		return
	}

	status, err := w.anchorer.TransactionStatus(ctx, r.PendingTxRef)
	if err != nil {
		w.logger.WarnContext(ctx, "watchdog could not read transaction status",
			"report_id", r.ID.String(),
			"tx_ref", r.PendingTxRef,
			"error", err,
		)
		if pending {
			w.fail(ctx, r, models.FailureTimeout, "confirmation unknown: ledger unreachable", res)
		} else {
			res.Unchanged++
		}
		return
	}

	switch status.State {
	case anchor.TxConfirmed:
		if _, err := w.registry.MarkAnchored(ctx, r.ID, *status.Proof); err != nil {
			w.logger.ErrorContext(ctx, "watchdog failed to record confirmation", "report_id", r.ID.String(), "error", err)
			res.Unchanged++
			return
		}
		res.Anchored++
		w.reconciled(ctx, r, string(models.AnchorAnchored), status.Reason)
	case anchor.TxReverted:
		w.fail(ctx, r, models.FailureReverted, status.Reason, res)
	case anchor.TxUnknown:
		if pending {
			w.fail(ctx, r, models.FailureTimeout, status.Reason, res)
			return
		}
		// Dropped from the pool; leave it retryable but out of the timeout sweep.
		w.fail(ctx, r, models.FailureNetworkUnreachable, "transaction dropped: "+status.Reason, res)
	default:
		if pending {
			w.fail(ctx, r, models.FailureTimeout, status.Reason, res)
			return
		}
		res.Unchanged++
	}
}

func (w *Watchdog) fail(ctx context.Context, r *models.Report, kind models.FailureKind, reason string, res *SweepResult) {
	if _, err := w.registry.MarkAnchorFailed(ctx, r.ID, kind, reason); err != nil {
		w.logger.ErrorContext(ctx, "watchdog failed to record anchor failure",
			"report_id", r.ID.String(),
			"kind", kind,
			"error", err,
		)
		res.Unchanged++
		return
	}
	res.Failed++
	w.reconciled(ctx, r, string(kind), reason)
}

func (w *Watchdog) reconciled(ctx context.Context, r *models.Report, status, reason string) {
	w.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionAnchorReconciled,
		ReportID: r.ID.String(),
		Category: r.Key.Category,
		Location: r.Key.Location,
		Status:   status,
		TxRef:    r.PendingTxRef,
		Reason:   reason,
	})
}
