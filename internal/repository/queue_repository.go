package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pinclab/derived-image-qa/internal/models"
)

const queueColumns = "record_id, experiment, site, subject, session, location, status, priority, previous_status"

// QueueRepository persists the shared review queue. Every status mutation
// funnels through one conditional update so the database is the only
// synchronization point between sessions.
type QueueRepository struct {
	db     *sqlx.DB
	schema string
}

// NewQueueRepository constructs the repository for the given schema.
func NewQueueRepository(db *sqlx.DB, schema string) *QueueRepository {
	return &QueueRepository{db: db, schema: schema}
}

func (r *QueueRepository) table() string {
	return r.schema + ".derived_images"
}

// FetchEligible returns the highest-priority record still eligible for
// review, or nil when the queue is empty. AutoRated sorts before Unassigned
// within a priority tier; insertion order breaks remaining ties. When
// priorityTier is non-nil only that tier is considered.
func (r *QueueRepository) FetchEligible(ctx context.Context, priorityTier *int) (*models.DerivedImage, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status IN ('U', 'A')`, queueColumns, r.table())
	args := []interface{}{}
	if priorityTier != nil {
		query += " AND priority = $1"
		args = append(args, *priorityTier)
	}
	query += " ORDER BY priority ASC, status ASC, record_id ASC LIMIT 1"

	var rec models.DerivedImage
	if err := r.db.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch eligible record: %w", err)
	}
	return &rec, nil
}

// Lock atomically moves a record from its expected eligible status into
// Locked, capturing previous_status in the same statement. Returns false when
// another session won the race.
func (r *QueueRepository) Lock(ctx context.Context, recordID int64, expected models.Status) (bool, error) {
	if !models.CanTransition(expected, models.StatusLocked) {
		return false, fmt.Errorf("illegal transition %s -> %s for record %d", expected, models.StatusLocked, recordID)
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'L', previous_status = $2 WHERE record_id = $1 AND status = $2`, r.table())
	result, err := r.db.ExecContext(ctx, query, recordID, expected)
	if err != nil {
		return false, fmt.Errorf("lock record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check locked rows: %w", err)
	}
	return affected > 0, nil
}

// SetStatus conditionally transitions a record; it succeeds only while the
// stored status still equals expected at write time. Illegal transitions are
// rejected before touching the store.
func (r *QueueRepository) SetStatus(ctx context.Context, recordID int64, next, expected models.Status) (bool, error) {
	if !models.CanTransition(expected, next) {
		return false, fmt.Errorf("illegal transition %s -> %s for record %d", expected, next, recordID)
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE record_id = $1 AND status = $3`, r.table())
	result, err := r.db.ExecContext(ctx, query, recordID, next, expected)
	if err != nil {
		return false, fmt.Errorf("set record status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check updated rows: %w", err)
	}
	return affected > 0, nil
}

// MarkInconsistent stamps a record with the Error status unconditionally.
// Reserved for the recovery-of-recovery path; the record stays parked until
// an operator intervenes.
func (r *QueueRepository) MarkInconsistent(ctx context.Context, recordID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'E' WHERE record_id = $1`, r.table())
	if _, err := r.db.ExecContext(ctx, query, recordID); err != nil {
		return fmt.Errorf("mark record inconsistent: %w", err)
	}
	return nil
}

// Status reads the current status of a record.
func (r *QueueRepository) Status(ctx context.Context, recordID int64) (models.Status, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE record_id = $1`, r.table())
	var status models.Status
	if err := r.db.GetContext(ctx, &status, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("read record status: %w", err)
	}
	return status, nil
}

// CountsByStatus returns the number of records per status.
func (r *QueueRepository) CountsByStatus(ctx context.Context) (map[models.Status]int, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) AS total FROM %s GROUP BY status`, r.table())
	rows := []struct {
		Status models.Status `db:"status"`
		Total  int           `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count records by status: %w", err)
	}
	counts := make(map[models.Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ListByStatus returns records in the given status ordered by priority.
func (r *QueueRepository) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.DerivedImage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY priority ASC, record_id ASC LIMIT $2`, queueColumns, r.table())
	var records []models.DerivedImage
	if err := r.db.SelectContext(ctx, &records, query, status, limit); err != nil {
		return nil, fmt.Errorf("list records by status: %w", err)
	}
	return records, nil
}

// Requeue moves a remediated record back to Unassigned. Legal only from
// Missing or Error; returns false when the stored status changed underneath.
func (r *QueueRepository) Requeue(ctx context.Context, recordID int64, expected models.Status) (bool, error) {
	if expected != models.StatusMissing && expected != models.StatusError {
		return false, fmt.Errorf("requeue from status %s is not allowed", expected)
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'U', previous_status = NULL WHERE record_id = $1 AND status = $2`, r.table())
	result, err := r.db.ExecContext(ctx, query, recordID, expected)
	if err != nil {
		return false, fmt.Errorf("requeue record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check requeued rows: %w", err)
	}
	return affected > 0, nil
}
