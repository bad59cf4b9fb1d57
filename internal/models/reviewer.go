package models

// DefaultRoboReviewerID is the reviewer_id reserved for the automated
// pre-rater in the reviewers table.
const DefaultRoboReviewerID int64 = 9

// Reviewer is a registered human or automated rater.
type Reviewer struct {
	ReviewerID int64  `db:"reviewer_id" json:"reviewer_id"`
	Login      string `db:"login" json:"login"`
}
