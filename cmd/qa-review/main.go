// qa-review is the interactive terminal client reviewers use to work
// through the shared derived-image queue.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pinclab/derived-image-qa/internal/models"
	"github.com/pinclab/derived-image-qa/internal/repository"
	"github.com/pinclab/derived-image-qa/internal/service"
	"github.com/pinclab/derived-image-qa/internal/source"
	"github.com/pinclab/derived-image-qa/pkg/config"
	"github.com/pinclab/derived-image-qa/pkg/database"
	appErrors "github.com/pinclab/derived-image-qa/pkg/errors"
	"github.com/pinclab/derived-image-qa/pkg/logger"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCommand() *cobra.Command {
	var login string
	var priorityTier int

	cmd := &cobra.Command{
		Use:          "qa-review",
		Short:        "Review derived medical image records from the shared queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(login, priorityTier)
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "reviewer login (defaults to REVIEWER_LOGIN)")
	cmd.Flags().IntVar(&priorityTier, "priority-tier", -2, "restrict to one priority tier, -1 for all")
	return cmd
}

func run(login string, priorityTier int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if login == "" {
		login = cfg.Review.Login
	}
	if priorityTier == -2 {
		priorityTier = cfg.Review.PriorityTier
	}
	if login == "" {
		return fmt.Errorf("no reviewer login; pass --login or set REVIEWER_LOGIN")
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := service.NewSession(
		repository.NewQueueRepository(db, cfg.Database.Schema),
		repository.NewReviewRepository(db, cfg.Database.Schema),
		repository.NewReviewerRepository(db, cfg.Database.Schema),
		source.NewFilesystemResolver(logr),
		logr,
		nil, // no metrics endpoint in the interactive CLI
		login,
		service.SessionConfig{
			RoboReviewerID:     cfg.Review.RoboReviewerID,
			PriorityTier:       priorityTier,
			MaxAcquireAttempts: cfg.Review.MaxAcquireAttempts,
		},
	)
	if err := session.Start(ctx); err != nil {
		return err
	}
	// Locks never outlive the process. A second Close after a clean loop
	// exit is a no-op.
	defer func() {
		if err := session.Close(context.Background()); err != nil {
			logr.Sugar().Warnw("session close", "error", err)
		}
	}()

	return reviewLoop(ctx, session, bufio.NewScanner(os.Stdin))
}

func reviewLoop(ctx context.Context, session *service.Session, input *bufio.Scanner) error {
	assignment, err := session.AcquireNext(ctx)
	for {
		if err != nil {
			if errors.Is(err, appErrors.ErrNoEligibleRecords) {
				fmt.Println("Queue is empty. Nothing left to review.")
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		printAssignment(assignment)

	record:
		for {
			action, eval, notes := collectReview(assignment, input)
			switch action {
			case actionQuit:
				_, relErr := session.Release(ctx, models.OutcomeAbandoned)
				return relErr
			case actionSkip:
				if _, relErr := session.Release(ctx, models.OutcomeAbandoned); relErr != nil {
					return relErr
				}
				assignment, err = session.AcquireNext(ctx)
				break record
			case actionMissing:
				// Parks the record and hands back the next one.
				assignment, err = session.Release(ctx, models.OutcomeSourceMissing)
				break record
			}

			subErr := session.Submit(ctx, eval, notes)
			if subErr == nil {
				fmt.Printf("Record %d submitted.\n\n", assignment.Record.RecordID)
				assignment, err = session.AcquireNext(ctx)
				break record
			}
			if errors.Is(subErr, appErrors.ErrIncompleteSubmission) || errors.Is(subErr, appErrors.ErrMissingNotes) {
				fmt.Printf("Submission rejected: %v\nThe record is still yours; try again.\n", subErr)
				continue
			}
			return subErr
		}
	}
}

type reviewAction int

const (
	actionSubmit reviewAction = iota
	actionSkip
	actionMissing
	actionQuit
)

func printAssignment(a *service.Assignment) {
	rec := a.Record
	fmt.Printf("\n=== Record %d  %s / %s / %s / %s ===\n",
		rec.RecordID, rec.Experiment, rec.Site, rec.Subject, rec.Session)

	items := make([]string, 0, len(a.Sources))
	for item := range a.Sources {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		path := a.Sources[item]
		if path == "" {
			path = "(not acquired)"
		}
		fmt.Printf("  %-20s %s\n", item, path)
	}
	if len(a.Prefill) > 0 {
		fmt.Println("Automated pre-ratings are available; press enter to accept them per item.")
	}
}

// collectReview prompts for one judgment per item, then notes.
func collectReview(a *service.Assignment, input *bufio.Scanner) (reviewAction, models.Evaluation, string) {
	fmt.Println("Judgments: g=good  b=bad  f=follow-up  n=not-applicable")
	fmt.Println("Commands:  skip  missing  quit")

	eval := models.Evaluation{}
	for _, item := range models.ReviewItems() {
		if a.Sources[item] == "" {
			eval[item] = models.JudgmentNotApplicable
			continue
		}
		judgment, action, ok := promptJudgment(item, a.Prefill, input)
		if !ok {
			return action, nil, ""
		}
		eval[item] = judgment
	}

	fmt.Print("Notes (mention each bad/follow-up item by name): ")
	notes := ""
	if input.Scan() {
		notes = input.Text()
	}
	return actionSubmit, eval, notes
}

func promptJudgment(item string, prefill models.Evaluation, input *bufio.Scanner) (models.Judgment, reviewAction, bool) {
	for {
		suggestion := ""
		if j, ok := prefill[item]; ok {
			suggestion = fmt.Sprintf(" [%s]", judgmentLetter(j))
		}
		fmt.Printf("  %s%s: ", item, suggestion)
		if !input.Scan() {
			return 0, actionQuit, false
		}
		answer := strings.ToLower(strings.TrimSpace(input.Text()))
		switch answer {
		case "skip":
			return 0, actionSkip, false
		case "missing":
			return 0, actionMissing, false
		case "quit", "q":
			return 0, actionQuit, false
		case "":
			if j, ok := prefill[item]; ok {
				return j, actionSubmit, true
			}
		case "g":
			return models.JudgmentGood, actionSubmit, true
		case "b":
			return models.JudgmentBad, actionSubmit, true
		case "f":
			return models.JudgmentFollowUp, actionSubmit, true
		case "n":
			return models.JudgmentNotApplicable, actionSubmit, true
		}
		fmt.Println("  please answer g, b, f, n or a command")
	}
}

func judgmentLetter(j models.Judgment) string {
	switch j {
	case models.JudgmentGood:
		return "g"
	case models.JudgmentBad:
		return "b"
	case models.JudgmentFollowUp:
		return "f"
	case models.JudgmentNotApplicable:
		return "n"
	default:
		return "?"
	}
}
