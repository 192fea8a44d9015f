package view

import (
	"fmt"
	"testing"
	"time"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dueDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// TestDeadlineViewOrderingWithRecurringDedup exercises S6: three due
// dates, one of them a recurring group with two incomplete instances,
// only the earliest of which should survive.
func TestDeadlineViewOrderingWithRecurringDedup(t *testing.T) {
	s := store.New()
	recID := model.NewID()

	t1 := &model.Task{ID: model.NewID(), DueDate: dueDate("2025-01-05")}
	t2 := &model.Task{ID: model.NewID(), DueDate: dueDate("2025-01-02"), RecurrenceID: recID, RecurrenceOriginalDate: "2025-01-02"}
	t3 := &model.Task{ID: model.NewID(), DueDate: dueDate("2025-01-10")}
	t4 := &model.Task{ID: model.NewID(), DueDate: dueDate("2025-01-09"), RecurrenceID: recID, RecurrenceOriginalDate: "2025-01-09"}

	for _, t := range []*model.Task{t1, t2, t3, t4} {
		s.AddOrUpdate(model.KindTask, t)
	}

	l := New(s)
	got, err := l.GetView(KeyDeadline)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, t2.ID, got[0].ID)
	assert.Equal(t, t1.ID, got[1].ID)
	assert.Equal(t, t3.ID, got[2].ID)
}

// TestDeadlineViewDropsCompletedRecurringInstances: if every instance
// in a recurrence group is completed, the group contributes nothing.
func TestDeadlineViewDropsCompletedRecurringInstances(t *testing.T) {
	s := store.New()
	recID := model.NewID()
	t1 := &model.Task{ID: model.NewID(), DueDate: dueDate("2025-02-01"), RecurrenceID: recID, RecurrenceOriginalDate: "2025-02-01", IsCompleted: true}
	s.AddOrUpdate(model.KindTask, t1)

	l := New(s)
	got, err := l.GetView(KeyDeadline)
	require.NoError(t, err)
	assert.Empty(t, got, "a recurrence group with no incomplete instance contributes nothing")
}

// TestViewProjectionPureFunctionOfStoreAndPreference exercises P5: two
// Layer instances over independently-populated but identical Store and
// ViewPreference snapshots produce identical results.
func TestViewProjectionPureFunctionOfStoreAndPreference(t *testing.T) {
	build := func() *store.Store {
		s := store.New()
		a := &model.Task{ID: model.NewID(), ScheduledDate: "2026-01-01"}
		b := &model.Task{ID: model.NewID(), ScheduledDate: "2026-01-02"}
		s.AddOrUpdate(model.KindTask, a)
		s.AddOrUpdate(model.KindTask, b)
		s.AddOrUpdate(model.KindViewPreference, &model.ViewPreference{
			ID: model.NewID(), ViewKey: KeyPlanned, OrderedID: []model.ID{b.ID, a.ID},
		})
		return s
	}

	l1 := New(build())
	l2 := New(build())

	got1, err := l1.GetView(KeyPlanned)
	require.NoError(t, err)
	got2, err := l2.GetView(KeyPlanned)
	require.NoError(t, err)

	require.Len(t, got1, 2)
	require.Len(t, got2, 2)
	assert.Equal(t, got1[0].ScheduledDate, got2[0].ScheduledDate)
	assert.Equal(t, got1[1].ScheduledDate, got2[1].ScheduledDate)
	assert.Equal(t, "2026-01-02", got1[0].ScheduledDate, "overlay order places b before a")
}

// TestAtMostOneIncompleteInstancePerRecurrenceGroup exercises P6 across
// every built-in dedup-enabled view.
func TestAtMostOneIncompleteInstancePerRecurrenceGroup(t *testing.T) {
	s := store.New()
	recID := model.NewID()
	for i, date := range []string{"2025-03-01", "2025-03-05", "2025-03-10"} {
		s.AddOrUpdate(model.KindTask, &model.Task{
			ID: model.NewID(), DueDate: dueDate(date),
			RecurrenceID: recID, RecurrenceOriginalDate: date,
			IsCompleted: i == 2, // the latest instance is complete; irrelevant to the winner
		})
	}

	l := New(s)
	got, err := l.GetView(KeyDeadline)
	require.NoError(t, err)

	seen := make(map[model.ID]int)
	for _, t := range got {
		if !t.RecurrenceID.IsZero() {
			seen[t.RecurrenceID]++
		}
	}
	for _, count := range seen {
		assert.LessOrEqual(t, count, 1)
	}
}

func TestStagingAndPlannedArePartitioned(t *testing.T) {
	s := store.New()
	staged := &model.Task{ID: model.NewID(), ScheduledDate: ""}
	planned := &model.Task{ID: model.NewID(), ScheduledDate: "2026-04-01"}
	s.AddOrUpdate(model.KindTask, staged)
	s.AddOrUpdate(model.KindTask, planned)

	l := New(s)
	stagingResult, err := l.GetView(KeyStaging)
	require.NoError(t, err)
	plannedResult, err := l.GetView(KeyPlanned)
	require.NoError(t, err)

	require.Len(t, stagingResult, 1)
	assert.Equal(t, staged.ID, stagingResult[0].ID)
	require.Len(t, plannedResult, 1)
	assert.Equal(t, planned.ID, plannedResult[0].ID)
}

func TestAreaAndProjectAdHocFilters(t *testing.T) {
	s := store.New()
	areaID := model.NewID()
	projectID := model.NewID()
	sectionID := model.NewID()

	inArea := &model.Task{ID: model.NewID(), AreaID: areaID}
	inProjectSection := &model.Task{ID: model.NewID(), ProjectID: projectID, SectionID: sectionID}
	unrelated := &model.Task{ID: model.NewID()}
	for _, t := range []*model.Task{inArea, inProjectSection, unrelated} {
		s.AddOrUpdate(model.KindTask, t)
	}

	l := New(s)
	areaResult, err := l.GetAdHoc(Area(areaID))
	require.NoError(t, err)
	require.Len(t, areaResult, 1)
	assert.Equal(t, inArea.ID, areaResult[0].ID)

	projResult, err := l.GetAdHoc(Project(projectID, &sectionID))
	require.NoError(t, err)
	require.Len(t, projResult, 1)
	assert.Equal(t, inProjectSection.ID, projResult[0].ID)
}

func TestApplySortingPersistsOverlayAndIsIdempotentOnKey(t *testing.T) {
	s := store.New()
	l := New(s)
	a := model.NewID()
	b := model.NewID()

	l.ApplySorting(KeyStaging, []model.ID{b, a})
	l.ApplySorting(KeyStaging, []model.ID{a, b})

	count := 0
	for _, e := range s.Iter(model.KindViewPreference) {
		if e.(*model.ViewPreference).ViewKey == KeyStaging {
			count++
		}
	}
	assert.Equal(t, 1, count, "re-applying sorting for the same view_key must update in place, not duplicate")
}

func TestGetViewUnknownKeyErrors(t *testing.T) {
	l := New(store.New())
	_, err := l.GetView("nonexistent")
	assert.Error(t, err)
}

// TestGetByQueryParsesAndEvaluatesExpression exercises the viewquery
// compile path end to end: a compound boolean expression parsed,
// compiled against a reference instant, and evaluated as an ad-hoc view.
func TestGetByQueryParsesAndEvaluatesExpression(t *testing.T) {
	s := store.New()
	areaID := model.NewID()

	match := &model.Task{ID: model.NewID(), Title: "renew passport", AreaID: areaID, IsCompleted: false}
	wrongArea := &model.Task{ID: model.NewID(), Title: "renew library card", AreaID: model.NewID(), IsCompleted: false}
	completed := &model.Task{ID: model.NewID(), Title: "renew gym pass", AreaID: areaID, IsCompleted: true}

	for _, task := range []*model.Task{match, wrongArea, completed} {
		s.AddOrUpdate(model.KindTask, task)
	}

	l := New(s)
	got, err := l.GetByQuery(fmt.Sprintf("area_id=%s AND is_completed=false", areaID.String()), time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, match.ID, got[0].ID)
}

func TestGetByQueryRejectsMalformedExpression(t *testing.T) {
	l := New(store.New())
	_, err := l.GetByQuery("title====", time.Now())
	assert.Error(t, err)
}

func TestGetByQueryRejectsUnknownField(t *testing.T) {
	l := New(store.New())
	_, err := l.GetByQuery("nonexistent_field=x", time.Now())
	assert.Error(t, err)
}
