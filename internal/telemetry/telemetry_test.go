package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterGaugesReturnsWorkingUnregister(t *testing.T) {
	calls := 0
	unregister, err := RegisterGauges(GaugeReaders{
		QueueDepth:          func() int64 { calls++; return 3 },
		ActiveResourceCount: func() int64 { return 1 },
		CorrelationEntries:  func() int64 { return 0 },
	})
	require.NoError(t, err)
	require.NotNil(t, unregister)
	unregister()
}

func TestEndInstructionToleratesNilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		EndInstruction(context.Background(), nil, 12.5, nil)
	})
}

func TestStartInstructionReturnsUsableSpan(t *testing.T) {
	ctx, span := StartInstruction(context.Background(), "task.complete", "c1")
	require.NotNil(t, span)
	require.NotNil(t, ctx)
	EndInstruction(ctx, span, 1.0, nil)
}
