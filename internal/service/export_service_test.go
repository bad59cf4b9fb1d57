package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/dto"
	"github.com/pinclab/derived-image-qa/internal/models"
	"github.com/pinclab/derived-image-qa/internal/repository"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
	"github.com/pinclab/derived-image-qa/pkg/jobs"
	"github.com/pinclab/derived-image-qa/pkg/storage"
)

type fakeExportJobStore struct {
	jobs    map[string]*models.ExportJob
	updates []repository.UpdateExportJobParams
}

func newFakeExportJobStore() *fakeExportJobStore {
	return &fakeExportJobStore{jobs: make(map[string]*models.ExportJob)}
}

func (s *fakeExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = "job-1"
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *fakeExportJobStore) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (s *fakeExportJobStore) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		url := *params.ResultURL
		job.ResultURL = &url
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.FinishedAt != nil {
		at := *params.FinishedAt
		job.FinishedAt = &at
	}
	s.updates = append(s.updates, params)
	return nil
}

func (s *fakeExportJobStore) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

type fakeReviewLister struct {
	completed  []repository.CompletedReview
	lastFilter repository.CompletedFilter
}

func (l *fakeReviewLister) ListCompleted(ctx context.Context, filter repository.CompletedFilter) ([]repository.CompletedReview, error) {
	l.lastFilter = filter
	var out []repository.CompletedReview
	for _, review := range l.completed {
		if filter.Since != nil && review.ReviewTime.Before(*filter.Since) {
			continue
		}
		out = append(out, review)
	}
	return out, nil
}

type memoryStorage struct {
	files map[string][]byte
	dir   string
}

func newMemoryStorage(t *testing.T) *memoryStorage {
	return &memoryStorage{files: make(map[string][]byte), dir: t.TempDir()}
}

func (m *memoryStorage) Save(filename string, data []byte) (string, error) {
	m.files[filename] = data
	if err := os.WriteFile(filepath.Join(m.dir, filename), data, 0o644); err != nil {
		return "", err
	}
	return filename, nil
}

func (m *memoryStorage) Open(filename string) (*os.File, error) {
	return os.Open(filepath.Join(m.dir, filename))
}

func (m *memoryStorage) Delete(filename string) error {
	delete(m.files, filename)
	return os.Remove(filepath.Join(m.dir, filename))
}

type recordingDispatcher struct {
	enqueued []jobs.Job
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	d.enqueued = append(d.enqueued, job)
	return nil
}

func completedFixture() []repository.CompletedReview {
	review := models.NewImageReview(7, 3)
	for _, item := range models.ReviewItems() {
		review.Apply(models.Evaluation{item: models.JudgmentGood})
	}
	review.ReviewTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return []repository.CompletedReview{{
		ImageReview: *review,
		Experiment:  "exp",
		Site:        "site",
		Subject:     "sbj",
		Session:     "ses-7",
		Login:       "user1",
	}}
}

func newExportFixture(t *testing.T) (*ExportService, *fakeExportJobStore, *recordingDispatcher, *memoryStorage) {
	repo := newFakeExportJobStore()
	dispatcher := &recordingDispatcher{}
	store := newMemoryStorage(t)
	signer := storage.NewSigner("secret", time.Hour)
	svc := NewExportService(repo, &fakeReviewLister{completed: completedFixture()}, store, dispatcher, signer, zap.NewNop())
	return svc, repo, dispatcher, store
}

func TestExportServiceCreateJobEnqueues(t *testing.T) {
	svc, repo, dispatcher, _ := newExportFixture(t)

	resp, err := svc.CreateJob(context.Background(), dto.ExportRequest{Format: models.ExportFormatCSV}, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, resp.ID, dispatcher.enqueued[0].ID)
	_, ok := repo.jobs[resp.ID]
	assert.True(t, ok)
}

func TestExportServiceCreateJobRejectsUnknownFormat(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.CreateJob(context.Background(), dto.ExportRequest{Format: "xlsx"}, "operator")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportServiceGetStatusUnknownJob(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.GetStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportServiceGenerateCSV(t *testing.T) {
	svc, _, _, store := newExportFixture(t)

	job := &models.ExportJob{ID: "job-1", Params: models.ExportJobParams{Format: models.ExportFormatCSV}}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/download/"))

	payload := store.files[result.RelativePath]
	require.NotEmpty(t, payload)
	content := string(payload)
	assert.Contains(t, content, "record_id,experiment,site,subject,session,reviewer,review_time")
	assert.Contains(t, content, "7,exp,site,sbj,ses-7,user1")
}

func TestExportServiceGenerateSinceFilter(t *testing.T) {
	lister := &fakeReviewLister{completed: completedFixture()}
	store := newMemoryStorage(t)
	signer := storage.NewSigner("secret", time.Hour)
	svc := NewExportService(newFakeExportJobStore(), lister, store, &recordingDispatcher{}, signer, zap.NewNop())

	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	job := &models.ExportJob{ID: "job-1", Params: models.ExportJobParams{Format: models.ExportFormatCSV, Since: &since}}
	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)

	// The cutoff travels with the store query instead of trimming rows after
	// the fact, so the listing limit cannot hide newer reviews.
	require.NotNil(t, lister.lastFilter.Since)
	assert.True(t, lister.lastFilter.Since.Equal(since))
	content := string(store.files[result.RelativePath])
	assert.NotContains(t, content, "ses-7")
}

func TestExportWorkerHappyPath(t *testing.T) {
	svc, repo, _, _ := newExportFixture(t)

	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "job-1",
		Params: models.ExportJobParams{Format: models.ExportFormatCSV},
	}))

	worker := NewExportWorker(repo, svc, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.NotNil(t, job.FinishedAt)
}

func TestExportWorkerRequeuesThenFails(t *testing.T) {
	repo := newFakeExportJobStore()
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "job-1",
		Params: models.ExportJobParams{Format: "xlsx"},
	}))
	store := newMemoryStorage(t)
	signer := storage.NewSigner("secret", time.Hour)
	svc := NewExportService(repo, &fakeReviewLister{}, store, &recordingDispatcher{}, signer, zap.NewNop())
	worker := NewExportWorker(repo, svc, 2, zap.NewNop())

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0}))
	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2}))
	job, err = repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
}

func TestExportServiceDownloadRoundTrip(t *testing.T) {
	svc, repo, _, _ := newExportFixture(t)

	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "job-1",
		Params: models.ExportJobParams{Format: models.ExportFormatCSV},
	}))
	worker := NewExportWorker(repo, svc, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.ResultURL)
	token := (*job.ResultURL)[strings.LastIndex(*job.ResultURL, "/")+1:]

	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
}

func TestExportServiceDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "not.a.real.token")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, dispatcher, _ := newExportFixture(t)

	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "job-1",
		Params: models.ExportJobParams{Format: models.ExportFormatCSV},
	}))
	svc.RecoverPendingJobs(context.Background())
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, "job-1", dispatcher.enqueued[0].ID)
}
