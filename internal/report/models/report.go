package models

import (
	"slices"
	"time"

	clusterModels "civicproof/internal/cluster/models"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
)

// Severity is derived from the share of high-urgency feedback in the snapshot.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Ratio thresholds (highUrgencyCount / feedbackCount), checked from the top down.
const (
	CriticalRatio = 0.75
	HighRatio     = 0.50
	MediumRatio   = 0.25
)

// SeverityFor classifies a snapshot. total must be positive.
func SeverityFor(highUrgency, total int) Severity {
	if total <= 0 {
		return SeverityLow
	}
	ratio := float64(highUrgency) / float64(total)
	switch {
	case ratio >= CriticalRatio:
		return SeverityCritical
	case ratio >= HighRatio:
		return SeverityHigh
	case ratio >= MediumRatio:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnchorStatus is the report's position in the anchoring lifecycle.
type AnchorStatus string

const (
	AnchorUnanchored AnchorStatus = "unanchored"
	AnchorPending    AnchorStatus = "pending"
	AnchorAnchored   AnchorStatus = "anchored"
	AnchorFailed     AnchorStatus = "failed"
)

// FailureKind distinguishes why an anchor attempt did not produce a proof.
type FailureKind string

const (
	FailureInsufficientFunds  FailureKind = "insufficient_funds"
	FailureNetworkUnreachable FailureKind = "network_unreachable"
	FailureReverted           FailureKind = "reverted"
	FailureTimeout            FailureKind = "timeout"
)

// RetryableFailureKinds lists the kinds that let a failed report re-enter pending. The
// Postgres claim filters on this list.
func RetryableFailureKinds() []FailureKind {
	return []FailureKind{FailureNetworkUnreachable, FailureTimeout}
}

// Retryable reports whether a report failed with this kind may re-enter pending.
// A reverted transaction burns the fingerprint; a fresh report is required.
func (k FailureKind) Retryable() bool {
	return slices.Contains(RetryableFailureKinds(), k)
}

// Code maps the failure kind to its stable caller-facing error code.
func (k FailureKind) Code() dErrors.Code {
	switch k {
	case FailureInsufficientFunds:
		return dErrors.CodeInsufficientFunds
	case FailureNetworkUnreachable:
		return dErrors.CodeNetworkUnreachable
	case FailureReverted:
		return dErrors.CodeTransactionReverted
	case FailureTimeout:
		return dErrors.CodeTimeout
	default:
		return dErrors.CodeInternal
	}
}

// AnchorProof is the on-chain evidence of a confirmed anchoring transaction.
type AnchorProof struct {
	TxRef       string    `json:"tx_ref"`
	BlockRef    string    `json:"block_ref"`
	BlockNumber uint64    `json:"block_number"`
	ChainID     int64     `json:"chain_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Draft is a generated, not yet persisted report.
type Draft struct {
	Key               clusterModels.Key `json:"key"`
	SourceFeedbackIDs []id.FeedbackID   `json:"source_feedback_ids"`
	SnapshotDigest    string            `json:"snapshot_digest"`
	Title             string            `json:"title"`
	Narrative         string            `json:"narrative"`
	Recommendations   []string          `json:"recommendations"`
	Severity          Severity          `json:"severity"`
	FeedbackCount     int               `json:"feedback_count"`
	HighUrgencyCount  int               `json:"high_urgency_count"`
	GeneratedBy       id.UserID         `json:"generated_by"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Validate checks the structural minimum a draft needs before it may be persisted.
func (d *Draft) Validate() error {
	if d.Key.Category == "" || d.Key.Location == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "draft has no cluster key")
	}
	if len(d.SourceFeedbackIDs) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "draft has no source feedback")
	}
	if d.SnapshotDigest == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "draft has no snapshot digest")
	}
	if d.Title == "" || d.Narrative == "" {
		return dErrors.New(dErrors.CodeGeneration, "draft is missing title or narrative")
	}
	return nil
}

// Report is a persisted draft plus its anchoring state. Content fields never change after
// creation; only anchor fields and SupersededBy move.
type Report struct {
	ID                id.ReportID       `json:"id"`
	Key               clusterModels.Key `json:"key"`
	SourceFeedbackIDs []id.FeedbackID   `json:"source_feedback_ids"`
	SnapshotDigest    string            `json:"snapshot_digest"`
	Fingerprint       string            `json:"fingerprint"`
	Title             string            `json:"title"`
	Narrative         string            `json:"narrative"`
	Recommendations   []string          `json:"recommendations"`
	Severity          Severity          `json:"severity"`
	GeneratedBy       id.UserID         `json:"generated_by"`
	CreatedAt         time.Time         `json:"created_at"`

	AnchorStatus        AnchorStatus `json:"anchor_status"`
	AnchorAttempts      int          `json:"anchor_attempts"`
	AnchorFailureKind   FailureKind  `json:"anchor_failure_kind,omitempty"`
	AnchorFailureReason string       `json:"anchor_failure_reason,omitempty"`
	ClaimPrevStatus     AnchorStatus `json:"-"`
	PendingTxRef        string       `json:"pending_tx_ref,omitempty"`
	Proof               *AnchorProof `json:"anchor_proof,omitempty"`
	AnchorUpdatedAt     *time.Time   `json:"anchor_updated_at,omitempty"`
	SupersededBy        *id.ReportID `json:"superseded_by,omitempty"`
}

// IsSuperseded reports whether a newer report replaced this one.
func (r *Report) IsSuperseded() bool {
	return r.SupersededBy != nil
}

// Claimable reports whether an anchoring attempt may start from the current state.
func (r *Report) Claimable(maxAttempts int) bool {
	switch r.AnchorStatus {
	case AnchorUnanchored:
		return true
	case AnchorFailed:
		return r.AnchorFailureKind.Retryable() && r.AnchorAttempts < maxAttempts
	default:
		return false
	}
}
