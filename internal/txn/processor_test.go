package txn

import (
	"testing"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUpsertsPrimary(t *testing.T) {
	s := store.New()
	p := New(s)
	id := model.NewID()

	p.Apply(Envelope{
		PrimaryKind: model.KindTask,
		Primary:     &model.Task{ID: id, Title: "hello"},
	}, Meta{Source: SourceHTTP})

	got, ok := s.Get(model.KindTask, id)
	require.True(t, ok)
	assert.Equal(t, "hello", got.(*model.Task).Title)
}

// TestApplyIsIdempotent exercises P3: apply(X, t) twice == apply(X, t) once.
func TestApplyIsIdempotent(t *testing.T) {
	s := store.New()
	p := New(s)
	taskID := model.NewID()
	corrID := model.NewID()

	env := Envelope{
		PrimaryKind:   model.KindTask,
		Primary:       &model.Task{ID: taskID, Title: "v1"},
		CorrelationID: corrID,
	}
	meta := Meta{CorrelationID: corrID, Source: SourceHTTP}

	p.Apply(env, meta)
	before, _ := s.Get(model.KindTask, taskID)

	// Apply again with a different primary payload but the same token:
	// dedup must short-circuit before the second payload is ever upserted.
	env2 := env
	env2.Primary = &model.Task{ID: taskID, Title: "v2-should-not-apply"}
	p.Apply(env2, meta)

	after, _ := s.Get(model.KindTask, taskID)
	assert.Equal(t, before.(*model.Task).Title, after.(*model.Task).Title)
	assert.Equal(t, "v1", after.(*model.Task).Title)
}

func TestApplyWithoutTokenAlwaysExecutes(t *testing.T) {
	s := store.New()
	p := New(s)
	taskID := model.NewID()

	p.Apply(Envelope{PrimaryKind: model.KindTask, Primary: &model.Task{ID: taskID, Title: "v1"}}, Meta{Source: SourcePush})
	p.Apply(Envelope{PrimaryKind: model.KindTask, Primary: &model.Task{ID: taskID, Title: "v2"}}, Meta{Source: SourcePush})

	got, _ := s.Get(model.KindTask, taskID)
	assert.Equal(t, "v2", got.(*model.Task).Title)
}

// TestApplyPrimaryAndSideEffectRemovalLandTogether exercises spec.md S5:
// the primary upsert and a side-effect removal both land in one Apply.
func TestApplyPrimaryAndSideEffectRemovalLandTogether(t *testing.T) {
	s := store.New()
	p := New(s)
	taskID := model.NewID()
	blockID := model.NewID()

	s.AddOrUpdate(model.KindTimeBlock, &model.TimeBlock{ID: blockID, TaskID: taskID})
	s.AddOrUpdate(model.KindTask, &model.Task{ID: taskID})

	p.Apply(Envelope{
		PrimaryKind: model.KindTask,
		Primary:     &model.Task{ID: taskID, IsDeleted: true},
		SideEffects: []SideEffectGroup{
			{Kind: model.KindTimeBlock, Removed: []model.ID{blockID}},
		},
		CorrelationID: model.NewID(),
	}, Meta{Source: SourceHTTP})

	task, ok := s.Get(model.KindTask, taskID)
	require.True(t, ok)
	assert.True(t, task.(*model.Task).IsDeleted)

	_, ok = s.Get(model.KindTimeBlock, blockID)
	assert.False(t, ok)
}

func TestDedupRespectsEventID(t *testing.T) {
	s := store.New()
	p := New(s)
	eventID := model.NewID()
	remoteID := model.NewID()

	env := Envelope{PrimaryKind: model.KindTask, Primary: &model.Task{ID: remoteID, Title: "remote"}, EventID: eventID}
	meta := Meta{EventID: eventID, Source: SourcePush}

	p.Apply(env, meta)
	assert.True(t, p.Seen(eventID))

	// A duplicate push with the same event_id is a no-op (spec.md S4).
	p.Apply(Envelope{PrimaryKind: model.KindTask, Primary: &model.Task{ID: remoteID, Title: "changed"}, EventID: eventID}, meta)
	got, _ := s.Get(model.KindTask, remoteID)
	assert.Equal(t, "remote", got.(*model.Task).Title)
}
