package models

import "time"

// Judgment is the tri-state evaluation value stored per reviewable item.
// The numeric encoding matches the historical database contents.
type Judgment int16

const (
	// JudgmentGood passes the item.
	JudgmentGood Judgment = 1
	// JudgmentBad fails the item; notes are required.
	JudgmentBad Judgment = 0
	// JudgmentFollowUp defers the item to a later look; notes are required.
	JudgmentFollowUp Judgment = -1
	// JudgmentNotApplicable marks an item that cannot be judged for this
	// session, e.g. t2_average on a T1-only acquisition.
	JudgmentNotApplicable Judgment = -2
	// JudgmentUnset is the "not yet judged" sentinel. Submissions carrying it
	// are rejected before any write.
	JudgmentUnset Judgment = -3
)

// Valid reports whether j is one of the known encodings.
func (j Judgment) Valid() bool {
	return j >= JudgmentUnset && j <= JudgmentGood
}

// NeedsNotes reports whether this judgment obliges the reviewer to explain it.
func (j Judgment) NeedsNotes() bool {
	return j == JudgmentBad || j == JudgmentFollowUp
}

// Reviewable items, in review table column order. The two whole-image volumes
// come first (T1 second so reviewers see it as background for regions), then
// the tissue label map and the bilateral subcortical regions.
var (
	ReviewImages = []string{"t2_average", "t1_average"}

	ReviewRegions = []string{
		"labels_tissue",
		"caudate_left", "caudate_right",
		"accumben_left", "accumben_right",
		"putamen_left", "putamen_right",
		"globus_left", "globus_right",
		"thalamus_left", "thalamus_right",
		"hippocampus_left", "hippocampus_right",
	}
)

// ReviewItems returns every reviewable item in column order.
func ReviewItems() []string {
	items := make([]string, 0, len(ReviewImages)+len(ReviewRegions))
	items = append(items, ReviewImages...)
	items = append(items, ReviewRegions...)
	return items
}

// Evaluation maps item name to the reviewer's judgment for it.
type Evaluation map[string]Judgment

// ImageReview is one persisted review row. The per-item columns sit between
// record_id and notes in exactly this order; collaborators assert on it.
type ImageReview struct {
	ReviewID        int64     `db:"review_id" json:"review_id"`
	RecordID        int64     `db:"record_id" json:"record_id"`
	T2Average       Judgment  `db:"t2_average" json:"t2_average"`
	T1Average       Judgment  `db:"t1_average" json:"t1_average"`
	LabelsTissue    Judgment  `db:"labels_tissue" json:"labels_tissue"`
	CaudateLeft     Judgment  `db:"caudate_left" json:"caudate_left"`
	CaudateRight    Judgment  `db:"caudate_right" json:"caudate_right"`
	AccumbenLeft    Judgment  `db:"accumben_left" json:"accumben_left"`
	AccumbenRight   Judgment  `db:"accumben_right" json:"accumben_right"`
	PutamenLeft     Judgment  `db:"putamen_left" json:"putamen_left"`
	PutamenRight    Judgment  `db:"putamen_right" json:"putamen_right"`
	GlobusLeft      Judgment  `db:"globus_left" json:"globus_left"`
	GlobusRight     Judgment  `db:"globus_right" json:"globus_right"`
	ThalamusLeft    Judgment  `db:"thalamus_left" json:"thalamus_left"`
	ThalamusRight   Judgment  `db:"thalamus_right" json:"thalamus_right"`
	HippocampusLeft Judgment  `db:"hippocampus_left" json:"hippocampus_left"`
	HippocampusRt   Judgment  `db:"hippocampus_right" json:"hippocampus_right"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	ReviewerID      int64     `db:"reviewer_id" json:"reviewer_id"`
	ReviewTime      time.Time `db:"review_time" json:"review_time"`
}

func (r *ImageReview) itemFields() map[string]*Judgment {
	return map[string]*Judgment{
		"t2_average":        &r.T2Average,
		"t1_average":        &r.T1Average,
		"labels_tissue":     &r.LabelsTissue,
		"caudate_left":      &r.CaudateLeft,
		"caudate_right":     &r.CaudateRight,
		"accumben_left":     &r.AccumbenLeft,
		"accumben_right":    &r.AccumbenRight,
		"putamen_left":      &r.PutamenLeft,
		"putamen_right":     &r.PutamenRight,
		"globus_left":       &r.GlobusLeft,
		"globus_right":      &r.GlobusRight,
		"thalamus_left":     &r.ThalamusLeft,
		"thalamus_right":    &r.ThalamusRight,
		"hippocampus_left":  &r.HippocampusLeft,
		"hippocampus_right": &r.HippocampusRt,
	}
}

// Item returns the judgment stored for the named item, or JudgmentUnset for
// an unknown name.
func (r *ImageReview) Item(name string) Judgment {
	if p, ok := r.itemFields()[name]; ok {
		return *p
	}
	return JudgmentUnset
}

// Apply copies an evaluation map onto the per-item columns. Unknown item
// names are ignored.
func (r *ImageReview) Apply(eval Evaluation) {
	fields := r.itemFields()
	for name, j := range eval {
		if p, ok := fields[name]; ok {
			*p = j
		}
	}
}

// Values returns the per-item judgments keyed by item name.
func (r *ImageReview) Values() Evaluation {
	eval := make(Evaluation, len(ReviewImages)+len(ReviewRegions))
	for name, p := range r.itemFields() {
		eval[name] = *p
	}
	return eval
}

// NewImageReview builds a review row with every item set to the unset sentinel.
func NewImageReview(recordID, reviewerID int64) *ImageReview {
	r := &ImageReview{RecordID: recordID, ReviewerID: reviewerID}
	for _, p := range r.itemFields() {
		*p = JudgmentUnset
	}
	return r
}
