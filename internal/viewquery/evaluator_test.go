package viewquery

import (
	"testing"
	"time"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, now time.Time, query string) Predicate {
	t.Helper()
	node, err := Parse(query)
	require.NoError(t, err)
	pred, err := NewEvaluator(now).Compile(node)
	require.NoError(t, err)
	return pred
}

func TestEvaluatorBooleanField(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pred := compile(t, now, "is_completed=true")

	assert.True(t, pred(&model.Task{IsCompleted: true}))
	assert.False(t, pred(&model.Task{IsCompleted: false}))
}

func TestEvaluatorAndOr(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pred := compile(t, now, "archived=false AND is_completed=false")

	assert.True(t, pred(&model.Task{Archived: false, IsCompleted: false}))
	assert.False(t, pred(&model.Task{Archived: true, IsCompleted: false}))
}

func TestEvaluatorNot(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pred := compile(t, now, "NOT archived=true")

	assert.True(t, pred(&model.Task{Archived: false}))
	assert.False(t, pred(&model.Task{Archived: true}))
}

func TestEvaluatorDueDateDurationRelative(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pred := compile(t, now, "due_date<7d")

	within := now.Add(3 * 24 * time.Hour)
	beyond := now.Add(30 * 24 * time.Hour)

	assert.True(t, pred(&model.Task{DueDate: within}))
	assert.False(t, pred(&model.Task{DueDate: beyond}))
	assert.False(t, pred(&model.Task{}), "zero due date never matches a relative bound")
}

func TestEvaluatorScheduledDateStaging(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pred := compile(t, now, "scheduled_date=staging")

	assert.True(t, pred(&model.Task{ScheduledDate: ""}))
	assert.False(t, pred(&model.Task{ScheduledDate: "2026-03-02"}))
}

func TestEvaluatorAreaIDEquality(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	areaID := model.NewID()
	pred := compile(t, now, "area_id="+areaID.String())

	assert.True(t, pred(&model.Task{AreaID: areaID}))
	assert.False(t, pred(&model.Task{AreaID: model.NewID()}))
}

func TestEvaluatorUnknownFieldErrors(t *testing.T) {
	node, err := Parse("nonexistent=1")
	require.NoError(t, err)
	_, err = NewEvaluator(time.Now()).Compile(node)
	assert.Error(t, err)
}
