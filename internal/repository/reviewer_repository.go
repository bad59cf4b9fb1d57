package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
)

// ReviewerRepository resolves reviewer identities.
type ReviewerRepository struct {
	db     *sqlx.DB
	schema string
}

// NewReviewerRepository constructs the repository for the given schema.
func NewReviewerRepository(db *sqlx.DB, schema string) *ReviewerRepository {
	return &ReviewerRepository{db: db, schema: schema}
}

// ResolveID maps a login to its reviewer_id. An unknown login yields
// ErrNotRegistered; there is no anonymous review.
func (r *ReviewerRepository) ResolveID(ctx context.Context, login string) (int64, error) {
	query := fmt.Sprintf(`SELECT reviewer_id FROM %s.reviewers WHERE login = $1`, r.schema)
	var id int64
	if err := r.db.GetContext(ctx, &id, query, login); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("reviewer %s is not registered", login))
		}
		return 0, fmt.Errorf("resolve reviewer id: %w", err)
	}
	return id, nil
}
