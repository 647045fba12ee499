package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/platform/postgres"
	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/platform/tx"
)

const reportColumns = `id, category, location, source_feedback_ids, snapshot_digest, fingerprint,
	title, narrative, recommendations, severity, generated_by, created_at,
	anchor_status, anchor_attempts, anchor_failure_kind, anchor_failure_reason, claim_prev_status,
	pending_tx_ref, anchor_tx_ref, anchor_block_ref, anchor_block_number, anchor_chain_id,
	anchored_at, anchor_updated_at, superseded_by`

// PostgresStore persists reports in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Report) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reports (id, category, location, source_feedback_ids, snapshot_digest, fingerprint,
			title, narrative, recommendations, severity, generated_by, created_at, anchor_status, anchor_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0)
	`, uuid.UUID(r.ID), r.Key.Category, r.Key.Location, pq.Array(idStrings(r.SourceFeedbackIDs)),
		r.SnapshotDigest, r.Fingerprint, r.Title, r.Narrative, pq.Array(nonNil(r.Recommendations)),
		string(r.Severity), r.GeneratedBy.String(), r.CreatedAt, string(models.AnchorUnanchored))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return wrapStoreErr(err, "create report")
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, reportID id.ReportID) (*models.Report, error) {
	return s.findOne(ctx, "find report", `SELECT `+reportColumns+` FROM reports WHERE id = $1`, uuid.UUID(reportID))
}

func (s *PostgresStore) FindBySnapshot(ctx context.Context, key clusterModels.Key, digest string) (*models.Report, error) {
	return s.findOne(ctx, "find report by snapshot",
		`SELECT `+reportColumns+` FROM reports WHERE category = $1 AND location = $2 AND snapshot_digest = $3`,
		key.Category, key.Location, digest)
}

func (s *PostgresStore) LatestByCluster(ctx context.Context, key clusterModels.Key) (*models.Report, error) {
	return s.findOne(ctx, "latest report", `
		SELECT `+reportColumns+` FROM reports
		WHERE category = $1 AND location = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, key.Category, key.Location)
}

// ListByCluster returns the reports of key, newest first.
func (s *PostgresStore) ListByCluster(ctx context.Context, key clusterModels.Key) ([]*models.Report, error) {
	return s.findMany(ctx, "list reports", `
		SELECT `+reportColumns+` FROM reports
		WHERE category = $1 AND location = $2
		ORDER BY created_at DESC, id DESC
	`, key.Category, key.Location)
}

// MarkSuperseded points every other unsuperseded report of key at newID.
func (s *PostgresStore) MarkSuperseded(ctx context.Context, key clusterModels.Key, newID id.ReportID) (int, error) {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE reports SET superseded_by = $3
		WHERE category = $1 AND location = $2 AND id <> $3 AND superseded_by IS NULL
	`, key.Category, key.Location, uuid.UUID(newID))
	if err != nil {
		return 0, wrapStoreErr(err, "mark superseded")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr(err, "mark superseded")
	}
	return int(n), nil
}

// Claim moves a report into pending in a single conditional statement. Of any number of
// concurrent callers at most one sees a row come back.
func (s *PostgresStore) Claim(ctx context.Context, reportID id.ReportID, p ClaimParams) (*models.Report, error) {
	r, err := s.findOne(ctx, "claim report", `
		UPDATE reports SET
			claim_prev_status = anchor_status,
			anchor_status = 'pending',
			anchor_attempts = anchor_attempts + 1,
			anchor_updated_at = $2
		WHERE id = $1
		  AND ($4 OR superseded_by IS NULL)
		  AND (
			anchor_status = 'unanchored'
			OR (anchor_status = 'failed'
				AND anchor_failure_kind = ANY($5)
				AND anchor_attempts < $3)
		  )
		RETURNING `+reportColumns,
		uuid.UUID(reportID), p.Now, p.MaxAttempts, p.AllowSuperseded, pq.Array(retryableKinds()))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.missingOrInvalid(ctx, reportID)
	}
	return r, err
}

func (s *PostgresStore) RecordSubmission(ctx context.Context, reportID id.ReportID, txRef string, now time.Time) error {
	return s.exec(ctx, reportID, "record submission", `
		UPDATE reports SET pending_tx_ref = $2, anchor_updated_at = $3
		WHERE id = $1 AND anchor_status = 'pending'
	`, uuid.UUID(reportID), txRef, now)
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, reportID id.ReportID, restoreTxRef string, now time.Time) error {
	return s.exec(ctx, reportID, "release claim", `
		UPDATE reports SET
			anchor_status = COALESCE(claim_prev_status, 'unanchored'),
			claim_prev_status = NULL,
			anchor_attempts = GREATEST(anchor_attempts - 1, 0),
			pending_tx_ref = NULLIF($2, ''),
			anchor_updated_at = $3
		WHERE id = $1 AND anchor_status = 'pending'
	`, uuid.UUID(reportID), restoreTxRef, now)
}

// MarkAnchored records a confirmed proof. The proof must be for the transaction the
// registry recorded before broadcast.
func (s *PostgresStore) MarkAnchored(ctx context.Context, reportID id.ReportID, proof models.AnchorProof, now time.Time) error {
	return s.exec(ctx, reportID, "mark anchored", `
		UPDATE reports SET
			anchor_status = 'anchored',
			anchor_tx_ref = $2,
			anchor_block_ref = $3,
			anchor_block_number = $4,
			anchor_chain_id = $5,
			anchored_at = $6,
			anchor_failure_kind = NULL,
			anchor_failure_reason = NULL,
			claim_prev_status = NULL,
			pending_tx_ref = NULL,
			anchor_updated_at = $7
		WHERE id = $1 AND anchor_status IN ('pending', 'failed') AND pending_tx_ref = $2
	`, uuid.UUID(reportID), proof.TxRef, proof.BlockRef, int64(proof.BlockNumber), proof.ChainID, proof.ConfirmedAt, now)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, reportID id.ReportID, kind models.FailureKind, reason string, now time.Time) error {
	return s.exec(ctx, reportID, "mark failed", `
		UPDATE reports SET
			anchor_status = 'failed',
			anchor_failure_kind = $2,
			anchor_failure_reason = $3,
			claim_prev_status = NULL,
			anchor_updated_at = $4
		WHERE id = $1 AND anchor_status IN ('pending', 'failed')
	`, uuid.UUID(reportID), string(kind), reason, now)
}

func (s *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*models.Report, error) {
	return s.findMany(ctx, "list stale pending", `
		SELECT `+reportColumns+` FROM reports
		WHERE anchor_status = 'pending' AND anchor_updated_at < $1
		ORDER BY anchor_updated_at ASC
		LIMIT $2
	`, before, limitOrAll(limit))
}

func (s *PostgresStore) ListTimedOut(ctx context.Context, limit int) ([]*models.Report, error) {
	return s.findMany(ctx, "list timed out", `
		SELECT `+reportColumns+` FROM reports
		WHERE anchor_status = 'failed' AND anchor_failure_kind = 'timeout' AND pending_tx_ref IS NOT NULL
		ORDER BY anchor_updated_at ASC
		LIMIT $1
	`, limitOrAll(limit))
}

func (s *PostgresStore) exec(ctx context.Context, reportID id.ReportID, op, query string, args ...any) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return wrapStoreErr(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr(err, op)
	}
	if n == 0 {
		return s.missingOrInvalid(ctx, reportID)
	}
	return nil
}

func (s *PostgresStore) missingOrInvalid(ctx context.Context, reportID id.ReportID) error {
	var exists bool
	if err := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, uuid.UUID(reportID),
	).Scan(&exists); err != nil {
		return wrapStoreErr(err, "check report")
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) findOne(ctx context.Context, op, query string, args ...any) (*models.Report, error) {
	r, err := scanReport(tx.Conn(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapStoreErr(err, op)
	}
	return r, nil
}

func (s *PostgresStore) findMany(ctx context.Context, op, query string, args ...any) ([]*models.Report, error) {
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr(err, op)
	}
	defer rows.Close()

	var out []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err, op)
	}
	return out, nil
}

type reportRow interface {
	Scan(dest ...any) error
}

func scanReport(row reportRow) (*models.Report, error) {
	var (
		r               models.Report
		rawID           uuid.UUID
		sourceIDs       []string
		recommendations []string
		severity        string
		generatedBy     string
		status          string
		failureKind     sql.NullString
		failureReason   sql.NullString
		claimPrev       sql.NullString
		pendingTx       sql.NullString
		txRef           sql.NullString
		blockRef        sql.NullString
		blockNumber     sql.NullInt64
		chainID         sql.NullInt64
		anchoredAt      sql.NullTime
		updatedAt       sql.NullTime
		supersededBy    uuid.NullUUID
	)
	if err := row.Scan(
		&rawID, &r.Key.Category, &r.Key.Location, pq.Array(&sourceIDs), &r.SnapshotDigest, &r.Fingerprint,
		&r.Title, &r.Narrative, pq.Array(&recommendations), &severity, &generatedBy, &r.CreatedAt,
		&status, &r.AnchorAttempts, &failureKind, &failureReason, &claimPrev,
		&pendingTx, &txRef, &blockRef, &blockNumber, &chainID,
		&anchoredAt, &updatedAt, &supersededBy,
	); err != nil {
		return nil, err
	}

	r.ID = id.ReportID(rawID)
	r.SourceFeedbackIDs = make([]id.FeedbackID, 0, len(sourceIDs))
	for _, raw := range sourceIDs {
		fid, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse source feedback id %q: %w", raw, err)
		}
		r.SourceFeedbackIDs = append(r.SourceFeedbackIDs, id.FeedbackID(fid))
	}
	r.Recommendations = nonNil(recommendations)
	r.Severity = models.Severity(severity)
	r.GeneratedBy = id.UserID(generatedBy)
	r.AnchorStatus = models.AnchorStatus(status)
	r.AnchorFailureKind = models.FailureKind(failureKind.String)
	r.AnchorFailureReason = failureReason.String
	r.ClaimPrevStatus = models.AnchorStatus(claimPrev.String)
	r.PendingTxRef = pendingTx.String
	if txRef.Valid {
		r.Proof = &models.AnchorProof{
			TxRef:       txRef.String,
			BlockRef:    blockRef.String,
			BlockNumber: uint64(blockNumber.Int64),
			ChainID:     chainID.Int64,
			ConfirmedAt: anchoredAt.Time,
		}
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		r.AnchorUpdatedAt = &t
	}
	if supersededBy.Valid {
		sb := id.ReportID(supersededBy.UUID)
		r.SupersededBy = &sb
	}
	return &r, nil
}

func idStrings(ids []id.FeedbackID) []string {
	out := make([]string, len(ids))
	for i, fid := range ids {
		out[i] = fid.String()
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func wrapStoreErr(err error, op string) error {
	if postgres.IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func retryableKinds() []string {
	kinds := models.RetryableFailureKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
