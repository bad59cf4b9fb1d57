package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/dto"
	"github.com/pinclab/derived-image-qa/internal/models"
	"github.com/pinclab/derived-image-qa/internal/repository"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
	"github.com/pinclab/derived-image-qa/pkg/export"
	"github.com/pinclab/derived-image-qa/pkg/jobs"
	"github.com/pinclab/derived-image-qa/pkg/storage"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
}

type completedReviewLister interface {
	ListCompleted(ctx context.Context, filter repository.CompletedFilter) ([]repository.CompletedReview, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	URL          string
	ExpiresAt    time.Time
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService manages asynchronous review exports: job lifecycle, dataset
// assembly, rendering, and signed download resolution.
type ExportService struct {
	repo     exportJobStore
	reviews  completedReviewLister
	storage  fileStorage
	queue    jobDispatcher
	signer   *storage.Signer
	validate *validator.Validate
	logger   *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(repo exportJobStore, reviews completedReviewLister, store fileStorage, queue jobDispatcher, signer *storage.Signer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		repo:     repo,
		reviews:  reviews,
		storage:  store,
		queue:    queue,
		signer:   signer,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateJob persists a new export job and enqueues it for processing.
func (s *ExportService) CreateJob(ctx context.Context, req dto.ExportRequest, createdBy string) (*dto.ExportJobResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
			fmt.Sprintf("invalid export request for format %q", req.Format))
	}

	job := &models.ExportJob{
		Params: models.ExportJobParams{
			Format:     req.Format,
			ReviewerID: req.ReviewerID,
			Since:      req.Since,
		},
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(req.Format)}); err != nil {
		s.logger.Sugar().Warnw("export job persisted but not enqueued", "job_id", job.ID, "error", err)
	}
	return jobResponse(job), nil
}

// GetStatus returns the current state of a job.
func (s *ExportService) GetStatus(ctx context.Context, id string) (*dto.ExportJobResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return jobResponse(job), nil
}

// ResolveDownload validates a signed token and opens the rendered file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export is not ready")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs re-enqueues jobs left queued by a previous process.
func (s *ExportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Params.Format)}); err != nil {
			s.logger.Sugar().Warnw("requeue pending export job", "job_id", job.ID, "error", err)
		}
	}
}

// Generate assembles the completed-review dataset, renders it, stores the
// file, and signs a download URL.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	completed, err := s.reviews.ListCompleted(ctx, repository.CompletedFilter{
		ReviewerID: job.Params.ReviewerID,
		Since:      job.Params.Since,
	})
	if err != nil {
		return nil, err
	}
	table := buildReviewTable(completed)

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = export.RenderCSV(table)
	case models.ExportFormatPDF:
		payload, err = export.RenderPDF(table)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("reviews_%s.%s", time.Now().UTC().Format("20060102_150405"), job.Params.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Sign(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		RelativePath: relPath,
		URL:          "/api/v1/exports/download/" + token,
		ExpiresAt:    expiresAt,
	}, nil
}

// buildReviewTable flattens completed reviews into export rows, record
// identity first, then the per-item judgments in column order.
func buildReviewTable(completed []repository.CompletedReview) export.Table {
	headers := []string{"record_id", "experiment", "site", "subject", "session", "reviewer", "review_time"}
	headers = append(headers, models.ReviewItems()...)
	headers = append(headers, "notes")

	rows := make([]map[string]string, 0, len(completed))
	for i := range completed {
		review := &completed[i]
		row := map[string]string{
			"record_id":   strconv.FormatInt(review.RecordID, 10),
			"experiment":  review.Experiment,
			"site":        review.Site,
			"subject":     review.Subject,
			"session":     review.Session,
			"reviewer":    review.Login,
			"review_time": review.ReviewTime.UTC().Format(time.RFC3339),
		}
		for item, judgment := range review.Values() {
			row[item] = strconv.Itoa(int(judgment))
		}
		if review.Notes != nil {
			row["notes"] = *review.Notes
		}
		rows = append(rows, row)
	}
	return export.Table{Title: "Completed image reviews", Headers: headers, Rows: rows}
}

func jobResponse(job *models.ExportJob) *dto.ExportJobResponse {
	return &dto.ExportJobResponse{
		ID:           job.ID,
		Format:       job.Params.Format,
		Status:       job.Status,
		Progress:     job.Progress,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		FinishedAt:   job.FinishedAt,
	}
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error)
}

// ExportWorker bridges queue jobs to the export generator.
type ExportWorker struct {
	repo       exportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo exportJobStore, exporter *ExportService, maxRetries int, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ExportWorker{repo: repo, exporter: exporter, logger: logger, maxRetries: maxRetries}
}

// Handle renders one queued export and records the outcome.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	processing := models.ExportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ExportStatusFailed
			progress = 100
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &failed,
				Progress:     &progress,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("mark export job failed", "job_id", job.ID, "error", updateErr)
			}
		} else {
			queued := models.ExportStatusQueued
			reset := 0
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
				Status:       &queued,
				Progress:     &reset,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Sugar().Warnw("mark export job queued", "job_id", job.ID, "error", updateErr)
			}
		}
		return err
	}

	finished := models.ExportStatusFinished
	progress = 100
	now := time.Now().UTC()
	url := result.URL
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("mark export job finished", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}
