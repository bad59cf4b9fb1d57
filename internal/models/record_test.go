package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusUnassigned.Eligible())
	assert.True(t, StatusAutoRated.Eligible())
	assert.False(t, StatusLocked.Eligible())
	assert.False(t, StatusReviewed.Eligible())

	assert.True(t, StatusReviewed.Terminal())
	assert.True(t, StatusMissing.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusLocked.Terminal())

	assert.False(t, Status("X").Valid())
	for _, s := range AllStatuses() {
		assert.True(t, s.Valid(), string(s))
	}
}

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusUnassigned, StatusLocked},
		{StatusAutoRated, StatusLocked},
		{StatusLocked, StatusReviewed},
		{StatusLocked, StatusMissing},
		{StatusLocked, StatusUnassigned},
		{StatusLocked, StatusAutoRated},
		{StatusLocked, StatusError},
	}
	allowed := map[[2]Status]bool{}
	for _, pair := range legal {
		allowed[pair] = true
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			if !allowed[[2]Status{from, to}] {
				assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestReviewItemsOrder(t *testing.T) {
	items := ReviewItems()
	require.Len(t, items, 15)
	assert.Equal(t, "t2_average", items[0])
	assert.Equal(t, "t1_average", items[1])
	assert.Equal(t, "labels_tissue", items[2])
	assert.Equal(t, "hippocampus_right", items[len(items)-1])
}

func TestImageReviewApplyAndItem(t *testing.T) {
	r := NewImageReview(42, 7)
	for _, item := range ReviewItems() {
		assert.Equal(t, JudgmentUnset, r.Item(item))
	}

	r.Apply(Evaluation{
		"t1_average":   JudgmentGood,
		"caudate_left": JudgmentBad,
		"bogus_item":   JudgmentGood,
	})
	assert.Equal(t, JudgmentGood, r.Item("t1_average"))
	assert.Equal(t, JudgmentBad, r.Item("caudate_left"))
	assert.Equal(t, JudgmentUnset, r.Item("bogus_item"))

	values := r.Values()
	require.Len(t, values, 15)
	assert.Equal(t, JudgmentBad, values["caudate_left"])
}

func TestJudgmentNeedsNotes(t *testing.T) {
	assert.True(t, JudgmentBad.NeedsNotes())
	assert.True(t, JudgmentFollowUp.NeedsNotes())
	assert.False(t, JudgmentGood.NeedsNotes())
	assert.False(t, JudgmentNotApplicable.NeedsNotes())
	assert.False(t, JudgmentUnset.NeedsNotes())
}
