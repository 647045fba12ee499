package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"civicproof/internal/feedback/models"
	"civicproof/internal/platform/postgres"
	id "civicproof/pkg/domain"
	"civicproof/pkg/platform/sentinel"
	"civicproof/pkg/platform/tx"
)

// PostgresStore persists feedback in PostgreSQL.
// This store is pure I/O; validation lives in models and the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, f *models.Feedback) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO feedbacks (id, author_id, category, location, urgency, sentiment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(f.ID), f.AuthorID.String(), f.Category, f.Location, string(f.Urgency), f.Sentiment, f.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return wrapStoreErr(err, "create feedback")
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, feedbackID id.FeedbackID) (*models.Feedback, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, author_id, category, location, urgency, sentiment, created_at
		FROM feedbacks
		WHERE id = $1
	`, uuid.UUID(feedbackID))
	f, err := scanFeedback(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, wrapStoreErr(err, "find feedback")
	}
	return f, nil
}

// List returns matching feedback ordered by creation time, then ID.
func (s *PostgresStore) List(ctx context.Context, filter models.Filter) ([]*models.Feedback, error) {
	var (
		where []string
		args  []any
	)
	if filter.RequireClusterable {
		where = append(where, "category IS NOT NULL", "location IS NOT NULL")
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Location != nil {
		args = append(args, *filter.Location)
		where = append(where, fmt.Sprintf("location = $%d", len(args)))
	}
	query := `SELECT id, author_id, category, location, urgency, sentiment, created_at FROM feedbacks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr(err, "list feedback")
	}
	defer rows.Close()

	var out []*models.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err, "iterate feedback")
	}
	return out, nil
}

type feedbackRow interface {
	Scan(dest ...any) error
}

func scanFeedback(row feedbackRow) (*models.Feedback, error) {
	var (
		f        models.Feedback
		rawID    uuid.UUID
		author   string
		category sql.NullString
		location sql.NullString
		urgency  string
	)
	if err := row.Scan(&rawID, &author, &category, &location, &urgency, &f.Sentiment, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ID = id.FeedbackID(rawID)
	f.AuthorID = id.UserID(author)
	f.Urgency = models.Urgency(urgency)
	if category.Valid {
		f.Category = &category.String
	}
	if location.Valid {
		f.Location = &location.String
	}
	return &f, nil
}

func wrapStoreErr(err error, op string) error {
	if postgres.IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
