package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestack/taskpipe/internal/interrupt"
	"github.com/corestack/taskpipe/internal/isa"
	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/txn"
)

// TestPushEchoAfterWBLeavesStoreUnchanged exercises P2: a push event
// whose correlation id matches an instruction that has already
// completed WB must leave the store unchanged. The Interrupt
// Controller suppresses the echo (the Correlation Registry entry
// registered at EX is still present, since nothing consumes it until
// either an echo or a TTL sweep does), so the Transaction Processor
// never even sees the stale payload.
func TestPushEchoAfterWBLeavesStoreUnchanged(t *testing.T) {
	taskID := model.NewID()
	var correlationID model.ID

	executor := &fakeExecutor{fn: func(def isa.Definition, payload any, correlationID model.ID) (isa.ExecuteResult, error) {
		p := payload.(completePayload)
		return isa.ExecuteResult{Envelope: &isa.Envelope{
			PrimaryKind:   model.KindTask,
			Primary:       &model.Task{ID: p.id, IsCompleted: true},
			CorrelationID: correlationID,
		}}, nil
	}}

	pipe, s, reg := newTestPipeline(t, executor)
	def := completeDef(model.KindTask)
	innerApply := def.Optimistic.Apply
	def.Optimistic.Apply = func(payload any, ctx *isa.Context) (any, error) {
		correlationID = ctx.CorrelationID
		return innerApply(payload, ctx)
	}
	reg.Register("task.complete", def)
	s.AddOrUpdate(model.KindTask, &model.Task{ID: taskID, IsCompleted: false})

	done := make(chan struct{})
	var dispatchErr error
	go func() {
		_, dispatchErr = pipe.Dispatch("task.complete", completePayload{id: taskID}, "test")
		close(done)
	}()
	driveUntil(pipe, done)
	require.NoError(t, dispatchErr)

	got, _ := s.Get(model.KindTask, taskID)
	require.True(t, got.(*model.Task).IsCompleted)
	require.False(t, correlationID.IsZero())
	require.Equal(t, 1, pipe.corr.Len(), "precondition: the registry entry must still be present for this test to be meaningful")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	controller := interrupt.New(pipe.corr, log)
	var applied bool
	controller.Register("task.updated", func(event interrupt.Event) {
		applied = true
		env := event.Payload.(txn.Envelope)
		pipe.txnProc.Apply(env, txn.Meta{CorrelationID: event.CorrelationID, Source: txn.SourcePush})
	})

	staleEnvelope := txn.Envelope{
		PrimaryKind: model.KindTask,
		Primary:     &model.Task{ID: taskID, IsCompleted: false, Title: "stale echo"},
	}
	controller.Dispatch(interrupt.Event{
		Source:        "push",
		Type:          "task.updated",
		CorrelationID: correlationID,
		Payload:       staleEnvelope,
	})

	assert.False(t, applied, "a correlation-id hit must suppress the handler entirely")
	got, _ = s.Get(model.KindTask, taskID)
	assert.True(t, got.(*model.Task).IsCompleted, "store must be unchanged by the suppressed echo")
	assert.Empty(t, got.(*model.Task).Title, "the stale echo's payload must never reach the store")
	assert.Equal(t, 0, pipe.corr.Len(), "Consume removes the entry once the echo is suppressed")
}

// TestOptimisticRevertRestoresExactPriorState exercises P4: after a
// failed instruction's WB, the store holds exactly the entity that was
// present immediately before EX began -- not just a reverted flag, but
// the whole prior record, including fields the instruction never
// touched.
func TestOptimisticRevertRestoresExactPriorState(t *testing.T) {
	taskID := model.NewID()
	prior := model.Task{
		ID:          taskID,
		Title:       "original title",
		IsCompleted: false,
		AreaID:      model.NewID(),
		Notes:       "untouched notes",
	}

	executor := &fakeExecutor{fn: func(def isa.Definition, payload any, correlationID model.ID) (isa.ExecuteResult, error) {
		return isa.ExecuteResult{}, assertError{}
	}}

	pipe, s, reg := newTestPipeline(t, executor)
	reg.Register("task.complete", completeDef(model.KindTask))
	s.AddOrUpdate(model.KindTask, &prior)

	done := make(chan struct{})
	var dispatchErr error
	go func() {
		_, dispatchErr = pipe.Dispatch("task.complete", completePayload{id: taskID}, "test")
		close(done)
	}()
	driveUntil(pipe, done)

	require.Error(t, dispatchErr)

	got, ok := s.Get(model.KindTask, taskID)
	require.True(t, ok)
	assert.Equal(t, prior, *got.(*model.Task), "post-WB state must equal the exact pre-EX snapshot, field for field")
}
