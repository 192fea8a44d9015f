package isa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMeta() Meta {
	return Meta{ResourceIdentifier: func(payload any) []string { return []string{"task:x"} }}
}

func TestRegisterRejectsMissingResourceIdentifier(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register("task.bad", Definition{
			Request: &RequestTemplate{Method: "POST", Path: func(any) string { return "/" }},
		})
	})
}

func TestRegisterRejectsBothRequestAndExecute(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register("task.bad", Definition{
			Meta:    validMeta(),
			Request: &RequestTemplate{Method: "POST", Path: func(any) string { return "/" }},
			Execute: func(ctx context.Context, payload any, rctx *Context) (ExecuteResult, error) {
				return ExecuteResult{}, nil
			},
		})
	})
}

func TestRegisterRejectsNeitherRequestNorExecute(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register("task.bad", Definition{Meta: validMeta()})
	})
}

func TestRegisterRejectsOptimisticApplyWithoutRevert(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register("task.bad", Definition{
			Meta:    validMeta(),
			Request: &RequestTemplate{Method: "POST", Path: func(any) string { return "/" }},
			Optimistic: &Optimistic{
				Apply: func(payload any, ctx *Context) (any, error) { return nil, nil },
			},
		})
	})
}

func TestRegisterRejectsDuplicateInstructionType(t *testing.T) {
	r := NewRegistry()
	def := Definition{
		Meta:    validMeta(),
		Request: &RequestTemplate{Method: "POST", Path: func(any) string { return "/" }},
	}
	r.Register("task.once", def)
	assert.Panics(t, func() {
		r.Register("task.once", def)
	})
}

func TestRegisterAcceptsWellFormedDefinition(t *testing.T) {
	r := NewRegistry()
	require.NotPanics(t, func() {
		r.Register("task.fine", Definition{
			Meta:    validMeta(),
			Request: &RequestTemplate{Method: "POST", Path: func(any) string { return "/" }},
			Optimistic: &Optimistic{
				Apply:  func(payload any, ctx *Context) (any, error) { return nil, nil },
				Revert: func(snapshot any, ctx *Context) {},
			},
		})
	})

	got, ok := r.Lookup("task.fine")
	require.True(t, ok)
	assert.NotNil(t, got.Request)
}

func TestLookupUnknownInstructionTypeMisses(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("nonexistent")
	assert.False(t, ok)
}
