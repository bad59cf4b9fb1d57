package models

// Status is the single-letter lifecycle state stored on a queue record.
type Status string

const (
	// StatusUnassigned marks a record nobody has touched yet.
	StatusUnassigned Status = "U"
	// StatusAutoRated marks a record the automated pre-rater has already scored.
	StatusAutoRated Status = "A"
	// StatusLocked marks a record held by exactly one review session.
	StatusLocked Status = "L"
	// StatusReviewed is terminal for the human-review path.
	StatusReviewed Status = "R"
	// StatusMissing marks a record whose source files could not be found.
	StatusMissing Status = "M"
	// StatusError marks a record that needs manual operator intervention.
	StatusError Status = "E"
)

// AllStatuses lists every legal status value.
func AllStatuses() []Status {
	return []Status{StatusUnassigned, StatusAutoRated, StatusLocked, StatusReviewed, StatusMissing, StatusError}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusUnassigned, StatusAutoRated, StatusLocked, StatusReviewed, StatusMissing, StatusError:
		return true
	default:
		return false
	}
}

// Eligible reports whether a record in this status may be picked up for review.
func (s Status) Eligible() bool {
	return s == StatusUnassigned || s == StatusAutoRated
}

// Terminal reports whether the status ends the automatic lifecycle.
// Missing and Error stay terminal until an operator requeues the record.
func (s Status) Terminal() bool {
	return s == StatusReviewed || s == StatusMissing || s == StatusError
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
// Everything outside this table is a programming error and must be rejected
// before any write happens.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUnassigned, StatusAutoRated:
		return to == StatusLocked
	case StatusLocked:
		switch to {
		case StatusReviewed, StatusMissing, StatusUnassigned, StatusAutoRated, StatusError:
			return true
		}
	}
	return false
}

// ReleaseOutcome tells the recovery manager why a locked record is let go.
type ReleaseOutcome string

const (
	// OutcomeCompleted follows a successful submission; the record is already Reviewed.
	OutcomeCompleted ReleaseOutcome = "completed"
	// OutcomeAbandoned reverts the record to the status it held before locking.
	OutcomeAbandoned ReleaseOutcome = "abandoned"
	// OutcomeSourceMissing parks the record as Missing and moves on.
	OutcomeSourceMissing ReleaseOutcome = "source_missing"
	// OutcomeError reverts like Abandoned but escalates to Error when the
	// stored status no longer matches what the session expects.
	OutcomeError ReleaseOutcome = "error"
)

// DerivedImage is one row of the shared review queue.
type DerivedImage struct {
	RecordID       int64   `db:"record_id" json:"record_id"`
	Experiment     string  `db:"experiment" json:"experiment"`
	Site           string  `db:"site" json:"site"`
	Subject        string  `db:"subject" json:"subject"`
	Session        string  `db:"session" json:"session"`
	Location       string  `db:"location" json:"location"`
	Status         Status  `db:"status" json:"status"`
	Priority       int     `db:"priority" json:"priority"`
	PreviousStatus *Status `db:"previous_status" json:"previous_status,omitempty"`
}

// BaseDir is the session directory all derived image files live under.
// Column order in the original database put location last, not second.
func (d *DerivedImage) BaseDir() []string {
	return []string{d.Location, d.Experiment, d.Site, d.Subject, d.Session}
}
