package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pinclab/derived-image-qa/internal/models"
	"github.com/pinclab/derived-image-qa/internal/source"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
)

type queueStore interface {
	FetchEligible(ctx context.Context, priorityTier *int) (*models.DerivedImage, error)
	Lock(ctx context.Context, recordID int64, expected models.Status) (bool, error)
	SetStatus(ctx context.Context, recordID int64, next, expected models.Status) (bool, error)
	MarkInconsistent(ctx context.Context, recordID int64) error
}

type reviewStore interface {
	Insert(ctx context.Context, review *models.ImageReview) error
	LatestByReviewer(ctx context.Context, recordID, reviewerID int64) (*models.ImageReview, error)
}

type reviewerStore interface {
	ResolveID(ctx context.Context, login string) (int64, error)
}

// Assignment is one record handed to a review session, together with the
// automated pre-ratings to seed the form and the resolved source files.
type Assignment struct {
	Record  *models.DerivedImage
	Prefill models.Evaluation
	Sources map[string]string
}

// Session coordinates one reviewer's walk through the shared queue. A session
// holds at most one locked record at a time; the database row is the only
// lock, so concurrent sessions against the same store stay safe.
type Session struct {
	queue     queueStore
	reviews   reviewStore
	reviewers reviewerStore
	resolver  source.Resolver
	logger    *zap.Logger
	metrics   *MetricsService
	cfg       SessionConfig

	login      string
	reviewerID int64
	started    bool
	current    *Assignment
}

// SessionConfig governs acquisition behavior.
type SessionConfig struct {
	// RoboReviewerID identifies the automated pre-rater whose judgments seed
	// AutoRated records.
	RoboReviewerID int64
	// PriorityTier restricts acquisition to one tier; negative means all.
	PriorityTier int
	// MaxAcquireAttempts bounds the lock-retry loop under contention.
	MaxAcquireAttempts int
}

// NewSession constructs a session for the given reviewer login.
func NewSession(queue queueStore, reviews reviewStore, reviewers reviewerStore, resolver source.Resolver, logger *zap.Logger, metrics *MetricsService, login string, cfg SessionConfig) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RoboReviewerID <= 0 {
		cfg.RoboReviewerID = models.DefaultRoboReviewerID
	}
	if cfg.MaxAcquireAttempts <= 0 {
		cfg.MaxAcquireAttempts = 16
	}
	return &Session{
		queue:     queue,
		reviews:   reviews,
		reviewers: reviewers,
		resolver:  resolver,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		login:     login,
	}
}

// Start resolves the reviewer identity. It must succeed before any record is
// touched; an unregistered login never reaches the queue.
func (s *Session) Start(ctx context.Context) error {
	id, err := s.reviewers.ResolveID(ctx, s.login)
	if err != nil {
		return err
	}
	s.reviewerID = id
	s.started = true
	s.logger.Sugar().Infow("review session started", "login", s.login, "reviewer_id", id)
	return nil
}

// ReviewerID returns the resolved reviewer identity.
func (s *Session) ReviewerID() int64 {
	return s.reviewerID
}

// Current returns the assignment the session holds, or nil.
func (s *Session) Current() *Assignment {
	return s.current
}

// AcquireNext locks the next eligible record and returns it as an assignment.
// Records whose source files cannot be found are parked as Missing and the
// loop moves on. Lost lock races are retried up to MaxAcquireAttempts times.
func (s *Session) AcquireNext(ctx context.Context) (*Assignment, error) {
	if !s.started {
		return nil, appErrors.Clone(appErrors.ErrNotRegistered, "session has not been started")
	}
	if s.current != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session already holds a record; release it first")
	}

	var tier *int
	if s.cfg.PriorityTier >= 0 {
		t := s.cfg.PriorityTier
		tier = &t
	}

	// Only lost lock races count against the attempt budget. Missing-source
	// parks each remove a record from the eligible pool, so they terminate on
	// their own and must not exhaust the budget into a conflict error.
	lostRaces := 0
	for lostRaces < s.cfg.MaxAcquireAttempts {
		rec, err := s.queue.FetchEligible(ctx, tier)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, appErrors.Clone(appErrors.ErrNoEligibleRecords, "")
		}

		eligibleStatus := rec.Status
		locked, err := s.queue.Lock(ctx, rec.RecordID, eligibleStatus)
		if err != nil {
			return nil, err
		}
		if !locked {
			lostRaces++
			s.metrics.RecordConflict()
			s.logger.Sugar().Debugw("lost lock race, retrying",
				"record_id", rec.RecordID, "lost_races", lostRaces)
			continue
		}
		rec.PreviousStatus = &eligibleStatus
		rec.Status = models.StatusLocked

		assignment, err := s.prepare(ctx, rec)
		if err != nil {
			if appErrors.FromError(err).Code == appErrors.ErrSourceMissing.Code {
				if err := s.park(ctx, rec); err != nil {
					return nil, err
				}
				continue
			}
			if relErr := s.revert(ctx, rec, models.OutcomeError); relErr != nil {
				s.logger.Sugar().Errorw("release after failed preparation",
					"record_id", rec.RecordID, "error", relErr)
			}
			return nil, err
		}

		s.current = assignment
		s.metrics.RecordAcquisition()
		s.logger.Sugar().Infow("record acquired",
			"record_id", rec.RecordID, "session", rec.Session, "previous_status", eligibleStatus)
		return assignment, nil
	}

	return nil, appErrors.Clone(appErrors.ErrAssignmentConflict,
		fmt.Sprintf("lost %d lock races without acquiring a record", s.cfg.MaxAcquireAttempts))
}

// prepare resolves source files and merges automated pre-ratings.
func (s *Session) prepare(ctx context.Context, rec *models.DerivedImage) (*Assignment, error) {
	sources, err := s.resolver.Resolve(ctx, rec)
	if err != nil {
		return nil, err
	}

	prefill := models.Evaluation{}
	if rec.PreviousStatus != nil && *rec.PreviousStatus == models.StatusAutoRated {
		robo, err := s.reviews.LatestByReviewer(ctx, rec.RecordID, s.cfg.RoboReviewerID)
		if err != nil {
			return nil, err
		}
		if robo == nil {
			// The status claims a pre-rating exists. Keep going with an
			// empty form; the data question is for operators, not reviewers.
			s.logger.Sugar().Errorw("auto-rated record has no robo-rater review",
				"record_id", rec.RecordID, "robo_reviewer_id", s.cfg.RoboReviewerID)
		} else {
			for item, judgment := range robo.Values() {
				if judgment != models.JudgmentUnset {
					prefill[item] = judgment
				}
			}
		}
	}

	return &Assignment{Record: rec, Prefill: prefill, Sources: sources}, nil
}

// park moves a locked record to Missing after its sources failed to resolve.
func (s *Session) park(ctx context.Context, rec *models.DerivedImage) error {
	ok, err := s.queue.SetStatus(ctx, rec.RecordID, models.StatusMissing, models.StatusLocked)
	if err != nil {
		return err
	}
	if !ok {
		return s.inconsistent(ctx, rec.RecordID, models.StatusMissing)
	}
	s.metrics.RecordSkippedMissing()
	s.metrics.RecordRelease(models.OutcomeSourceMissing)
	s.logger.Sugar().Warnw("record parked, source files missing",
		"record_id", rec.RecordID, "session", rec.Session)
	return nil
}

// Submit validates the evaluation, persists the review row, and completes the
// record. Validation failures leave both the review table and record status
// untouched.
func (s *Session) Submit(ctx context.Context, eval models.Evaluation, notes string) error {
	if s.current == nil {
		return appErrors.Clone(appErrors.ErrConflict, "no record is held by this session")
	}
	rec := s.current.Record

	notes = CleanNotes(notes)
	if err := validateEvaluation(eval, notes); err != nil {
		return err
	}

	review := models.NewImageReview(rec.RecordID, s.reviewerID)
	review.Apply(eval)
	if notes != "" {
		review.Notes = &notes
	}

	if err := s.reviews.Insert(ctx, review); err != nil {
		s.logger.Sugar().Errorw("review insert failed, releasing record",
			"record_id", rec.RecordID, "error", err)
		if _, relErr := s.Release(ctx, models.OutcomeError); relErr != nil {
			return relErr
		}
		return err
	}

	ok, err := s.queue.SetStatus(ctx, rec.RecordID, models.StatusReviewed, models.StatusLocked)
	if err != nil {
		s.current = nil
		return appErrors.Wrap(err, appErrors.ErrPartialCommit.Code,
			appErrors.ErrPartialCommit.Status, appErrors.ErrPartialCommit.Message)
	}
	if !ok {
		s.current = nil
		return appErrors.Clone(appErrors.ErrPartialCommit,
			fmt.Sprintf("record %d left the Locked status before completion", rec.RecordID))
	}

	s.current = nil
	s.metrics.RecordSubmission()
	s.metrics.RecordRelease(models.OutcomeCompleted)
	s.logger.Sugar().Infow("review submitted",
		"record_id", rec.RecordID, "session", rec.Session, "reviewer_id", s.reviewerID)
	return nil
}

// Release lets go of the held record. Completed is a no-op (Submit already
// transitioned the row). Abandoned and Error restore the pre-lock status.
// SourceMissing parks the record and immediately acquires the next one, which
// is returned. Releasing with no held record is a no-op.
func (s *Session) Release(ctx context.Context, outcome models.ReleaseOutcome) (*Assignment, error) {
	if s.current == nil {
		return nil, nil
	}
	rec := s.current.Record
	s.current = nil

	switch outcome {
	case models.OutcomeCompleted:
		return nil, nil
	case models.OutcomeSourceMissing:
		if err := s.park(ctx, rec); err != nil {
			return nil, err
		}
		return s.AcquireNext(ctx)
	case models.OutcomeAbandoned, models.OutcomeError:
		if err := s.revert(ctx, rec, outcome); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown release outcome %q", outcome)
	}
}

// revert restores the status a record held before this session locked it.
func (s *Session) revert(ctx context.Context, rec *models.DerivedImage, outcome models.ReleaseOutcome) error {
	previous := models.StatusUnassigned
	if rec.PreviousStatus != nil {
		previous = *rec.PreviousStatus
	}
	ok, err := s.queue.SetStatus(ctx, rec.RecordID, previous, models.StatusLocked)
	if err != nil {
		return err
	}
	if !ok {
		return s.inconsistent(ctx, rec.RecordID, previous)
	}
	s.metrics.RecordRelease(outcome)
	s.logger.Sugar().Infow("record released",
		"record_id", rec.RecordID, "restored_status", previous, "outcome", outcome)
	return nil
}

// inconsistent parks a record as Error after a release-time conditional
// update found an unexpected stored status.
func (s *Session) inconsistent(ctx context.Context, recordID int64, wanted models.Status) error {
	s.logger.Sugar().Errorw("record status diverged during release, escalating",
		"record_id", recordID, "wanted", wanted)
	if err := s.queue.MarkInconsistent(ctx, recordID); err != nil {
		return err
	}
	s.metrics.RecordRelease(models.OutcomeError)
	return appErrors.Clone(appErrors.ErrInconsistentState,
		fmt.Sprintf("record %d was not Locked at release time", recordID))
}

// Close abandons any held record. Safe to call repeatedly; wired to process
// shutdown so an interrupted session never strands a lock.
func (s *Session) Close(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	_, err := s.Release(ctx, models.OutcomeAbandoned)
	return err
}

// validateEvaluation enforces completeness and the notes obligation.
func validateEvaluation(eval models.Evaluation, notes string) error {
	var unjudged []string
	var flaggedWithoutNotes []string
	for _, item := range models.ReviewItems() {
		j, ok := eval[item]
		if !ok || j == models.JudgmentUnset || !j.Valid() {
			unjudged = append(unjudged, item)
			continue
		}
		if j.NeedsNotes() && !strings.Contains(notes, item) {
			flaggedWithoutNotes = append(flaggedWithoutNotes, item)
		}
	}
	if len(unjudged) > 0 {
		return appErrors.Clone(appErrors.ErrIncompleteSubmission,
			fmt.Sprintf("unjudged items: %s", strings.Join(unjudged, ", ")))
	}
	if len(flaggedWithoutNotes) > 0 {
		return appErrors.Clone(appErrors.ErrMissingNotes,
			fmt.Sprintf("notes must mention: %s", strings.Join(flaggedWithoutNotes, ", ")))
	}
	return nil
}

// CleanNotes normalizes the notes text before validation and persistence:
// whitespace runs collapse to single spaces, and comma-separated sections
// that are a bare "item:" stub with nothing after the colon are dropped. A
// flagged item therefore cannot be satisfied by an empty stub.
func CleanNotes(notes string) string {
	sections := strings.Split(notes, ",")
	kept := make([]string, 0, len(sections))
	for _, section := range sections {
		section = strings.Join(strings.Fields(section), " ")
		if section == "" || strings.HasSuffix(section, ":") {
			continue
		}
		kept = append(kept, section)
	}
	return strings.Join(kept, ", ")
}
