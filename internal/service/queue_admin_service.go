package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/dto"
	"github.com/pinclab/derived-image-qa/internal/models"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
)

type adminQueueStore interface {
	CountsByStatus(ctx context.Context) (map[models.Status]int, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.DerivedImage, error)
	Status(ctx context.Context, recordID int64) (models.Status, error)
	Requeue(ctx context.Context, recordID int64, expected models.Status) (bool, error)
}

// QueueAdminService backs the operator API: queue visibility and remediation
// of parked records.
type QueueAdminService struct {
	queue   adminQueueStore
	logger  *zap.Logger
	metrics *MetricsService
}

// NewQueueAdminService constructs the admin service.
func NewQueueAdminService(queue adminQueueStore, logger *zap.Logger, metrics *MetricsService) *QueueAdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueAdminService{queue: queue, logger: logger, metrics: metrics}
}

// Stats returns per-status counts and refreshes the queue depth gauge.
func (s *QueueAdminService) Stats(ctx context.Context) (*dto.QueueStatsResponse, error) {
	counts, err := s.queue.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetQueueDepth(counts)

	total := 0
	eligible := 0
	for status, n := range counts {
		total += n
		if status.Eligible() {
			eligible += n
		}
	}
	return &dto.QueueStatsResponse{Counts: counts, Total: total, Eligible: eligible}, nil
}

// List returns records in one status.
func (s *QueueAdminService) List(ctx context.Context, status models.Status, limit int) ([]models.DerivedImage, error) {
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}
	return s.queue.ListByStatus(ctx, status, limit)
}

// Requeue moves a Missing or Error record back to Unassigned after an
// operator fixed the underlying problem.
func (s *QueueAdminService) Requeue(ctx context.Context, recordID int64) (*dto.RequeueResponse, error) {
	current, err := s.queue.Status(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("record %d not found", recordID))
		}
		return nil, err
	}
	if current != models.StatusMissing && current != models.StatusError {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("record %d is %s; only Missing or Error records can be requeued", recordID, current))
	}

	ok, err := s.queue.Requeue(ctx, recordID, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("record %d changed status during requeue", recordID))
	}

	s.logger.Sugar().Infow("record requeued", "record_id", recordID, "previous_status", current)
	return &dto.RequeueResponse{
		RecordID:       recordID,
		PreviousStatus: current,
		Status:         models.StatusUnassigned,
	}, nil
}
