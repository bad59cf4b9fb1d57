package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/dto"
	"github.com/pinclab/derived-image-qa/internal/models"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
)

type fakeAdminQueue struct {
	counts   map[models.Status]int
	records  map[int64]models.Status
	requeued []int64
}

func (q *fakeAdminQueue) CountsByStatus(ctx context.Context) (map[models.Status]int, error) {
	return q.counts, nil
}

func (q *fakeAdminQueue) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.DerivedImage, error) {
	var out []models.DerivedImage
	for id, s := range q.records {
		if s == status {
			out = append(out, models.DerivedImage{RecordID: id, Status: s})
		}
	}
	return out, nil
}

func (q *fakeAdminQueue) Status(ctx context.Context, recordID int64) (models.Status, error) {
	status, ok := q.records[recordID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return status, nil
}

func (q *fakeAdminQueue) Requeue(ctx context.Context, recordID int64, expected models.Status) (bool, error) {
	if q.records[recordID] != expected {
		return false, nil
	}
	q.records[recordID] = models.StatusUnassigned
	q.requeued = append(q.requeued, recordID)
	return true, nil
}

func newAdminService(queue *fakeAdminQueue) *QueueAdminService {
	return NewQueueAdminService(queue, zap.NewNop(), NewMetricsService())
}

func TestQueueAdminStats(t *testing.T) {
	queue := &fakeAdminQueue{counts: map[models.Status]int{
		models.StatusUnassigned: 4,
		models.StatusAutoRated:  2,
		models.StatusLocked:     1,
		models.StatusReviewed:   10,
		models.StatusMissing:    3,
	}}

	stats, err := newAdminService(queue).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Total)
	assert.Equal(t, 6, stats.Eligible)
	assert.Equal(t, 3, stats.Counts[models.StatusMissing])
}

func TestQueueAdminListRejectsUnknownStatus(t *testing.T) {
	_, err := newAdminService(&fakeAdminQueue{}).List(context.Background(), models.Status("X"), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestQueueAdminRequeue(t *testing.T) {
	queue := &fakeAdminQueue{records: map[int64]models.Status{7: models.StatusMissing}}

	resp, err := newAdminService(queue).Requeue(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, &dto.RequeueResponse{
		RecordID:       7,
		PreviousStatus: models.StatusMissing,
		Status:         models.StatusUnassigned,
	}, resp)
	assert.Equal(t, models.StatusUnassigned, queue.records[7])
}

func TestQueueAdminRequeueRejectsActiveRecord(t *testing.T) {
	queue := &fakeAdminQueue{records: map[int64]models.Status{7: models.StatusLocked}}

	_, err := newAdminService(queue).Requeue(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Empty(t, queue.requeued)
}

func TestQueueAdminRequeueUnknownRecord(t *testing.T) {
	queue := &fakeAdminQueue{records: map[int64]models.Status{}}

	_, err := newAdminService(queue).Requeue(context.Background(), 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
