package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pinclab/derived-image-qa/internal/models"
)

// Review table column order is part of the contract collaborators assert on:
// record_id first, the per-item columns in canonical order, then notes and
// reviewer_id. review_time is assigned by the store.
const reviewColumns = `review_id, record_id, t2_average, t1_average, labels_tissue,
caudate_left, caudate_right, accumben_left, accumben_right, putamen_left, putamen_right,
globus_left, globus_right, thalamus_left, thalamus_right, hippocampus_left, hippocampus_right,
notes, reviewer_id, review_time`

// ReviewRepository persists image review rows.
type ReviewRepository struct {
	db     *sqlx.DB
	schema string
}

// NewReviewRepository constructs the repository for the given schema.
func NewReviewRepository(db *sqlx.DB, schema string) *ReviewRepository {
	return &ReviewRepository{db: db, schema: schema}
}

func (r *ReviewRepository) table() string {
	return r.schema + ".image_reviews"
}

// Insert writes one review row. review_time is set by the database default.
func (r *ReviewRepository) Insert(ctx context.Context, review *models.ImageReview) error {
	query := fmt.Sprintf(`INSERT INTO %s (record_id, t2_average, t1_average, labels_tissue,
caudate_left, caudate_right, accumben_left, accumben_right, putamen_left, putamen_right,
globus_left, globus_right, thalamus_left, thalamus_right, hippocampus_left, hippocampus_right,
notes, reviewer_id) VALUES (:record_id, :t2_average, :t1_average, :labels_tissue,
:caudate_left, :caudate_right, :accumben_left, :accumben_right, :putamen_left, :putamen_right,
:globus_left, :globus_right, :thalamus_left, :thalamus_right, :hippocampus_left, :hippocampus_right,
:notes, :reviewer_id)`, r.table())
	if _, err := r.db.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// LatestByReviewer returns the most recent review a reviewer wrote for a
// record, or nil when none exists. Used to merge robo-rater pre-ratings.
func (r *ReviewRepository) LatestByReviewer(ctx context.Context, recordID, reviewerID int64) (*models.ImageReview, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE record_id = $1 AND reviewer_id = $2
ORDER BY review_time DESC LIMIT 1`, reviewColumns, r.table())
	var review models.ImageReview
	if err := r.db.GetContext(ctx, &review, query, recordID, reviewerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch reviewer rating: %w", err)
	}
	return &review, nil
}

// CompletedReview joins a review row with the session identity of its record.
type CompletedReview struct {
	models.ImageReview
	Experiment string `db:"experiment"`
	Site       string `db:"site"`
	Subject    string `db:"subject"`
	Session    string `db:"session"`
	Login      string `db:"login"`
}

// CompletedFilter narrows the completed-review listing.
type CompletedFilter struct {
	ReviewerID *int64
	Since      *time.Time
	Limit      int
}

// ListCompleted returns reviews of records that reached the Reviewed status,
// oldest first, joined with record identity and reviewer login.
func (r *ReviewRepository) ListCompleted(ctx context.Context, filter CompletedFilter) ([]CompletedReview, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	cols := make([]string, 0, 8)
	for _, c := range strings.Split(reviewColumns, ",") {
		cols = append(cols, "ir."+strings.TrimSpace(c))
	}
	query := fmt.Sprintf(`SELECT %s, di.experiment, di.site, di.subject, di.session, rv.login
FROM %s ir
JOIN %s.derived_images di ON di.record_id = ir.record_id
JOIN %s.reviewers rv ON rv.reviewer_id = ir.reviewer_id
WHERE di.status = 'R'`, strings.Join(cols, ", "), r.table(), r.schema, r.schema)

	args := []interface{}{}
	if filter.ReviewerID != nil {
		args = append(args, *filter.ReviewerID)
		query += fmt.Sprintf(" AND ir.reviewer_id = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND ir.review_time >= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY ir.review_time ASC LIMIT $%d", len(args))

	var reviews []CompletedReview
	if err := r.db.SelectContext(ctx, &reviews, query, args...); err != nil {
		return nil, fmt.Errorf("list completed reviews: %w", err)
	}
	return reviews, nil
}
