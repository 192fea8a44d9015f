// Package isa implements the Instruction Set (spec.md §4.E): a registry,
// immutable after startup, of declarative per-instruction-type metadata
// the pipeline dispatches against without ever knowing a concrete
// instruction type.
package isa

import (
	"context"
	"fmt"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
)

// Context is threaded through every ISA hook. It exposes the Entity
// Store (for optimistic apply/revert) and the caller-visible metadata
// the instruction was submitted with.
type Context struct {
	Store           *store.Store
	CorrelationID   model.ID
	CallerTag       string
	InstructionType string
}

// RequestTemplate is the declarative alternative to Execute: a shape the
// pipeline's transport turns into an HTTP call (spec.md §6).
type RequestTemplate struct {
	Method string
	Path   func(payload any) string
	Body   func(payload any) any
}

// Optimistic bundles the optimistic-apply/revert pair. Revert is
// required whenever Apply is set (spec.md §4.E table).
type Optimistic struct {
	Apply  func(payload any, ctx *Context) (snapshot any, err error)
	Revert func(snapshot any, ctx *Context)
}

// Meta is the required per-instruction-type declarative metadata.
type Meta struct {
	// ResourceIdentifier enumerates the resource keys this instruction
	// touches; it drives the scheduler's hazard detection (spec.md §3).
	ResourceIdentifier func(payload any) []string
	// TimeoutMS, if non-zero, is the deadline SCH→EX enforces.
	TimeoutMS int
	// Priority is the scheduler's tie-breaker; higher runs first.
	Priority int
	// EntityKind names the Kind a Request's TransactionEnvelope response
	// decodes its primary entity as. Unused by Execute-shaped
	// definitions, which decode their own response.
	EntityKind model.Kind
}

// ExecuteResult is what ISA.Execute (or the transport executing a
// Request template) returns to the RES stage.
type ExecuteResult struct {
	// Envelope is set when the response matched the TransactionEnvelope
	// shape (spec.md §4.F RES); nil otherwise.
	Envelope *Envelope
	// Raw is the opaque result handed to on_success / the caller.
	Raw any
}

// Envelope mirrors txn.Envelope without importing package txn, so isa
// has no dependency on the Transaction Processor; pipeline performs the
// conversion. Kept as a thin transport-facing shape.
type Envelope struct {
	PrimaryKind   model.Kind
	Primary       model.Entity
	SideEffects   []SideEffectGroup
	CorrelationID model.ID
	EventID       model.ID
}

// SideEffectGroup mirrors txn.SideEffectGroup; see Envelope's doc.
type SideEffectGroup struct {
	Kind           model.Kind
	AddedOrUpdated []model.Entity
	Removed        []model.ID
}

// Definition is one instruction type's full declarative record.
// Exactly one of Request or Execute must be set.
type Definition struct {
	Meta       Meta
	Validate   func(payload any, ctx *Context) error
	Optimistic *Optimistic
	Request    *RequestTemplate
	Execute    func(ctx context.Context, payload any, rctx *Context) (ExecuteResult, error)
	OnSuccess  func(result ExecuteResult, ctx *Context)
	OnFailure  func(err error, ctx *Context)
}

func (d Definition) validateShape(instructionType string) error {
	if d.Meta.ResourceIdentifier == nil {
		return fmt.Errorf("isa: %q: meta.resource_identifier is required", instructionType)
	}
	hasRequest := d.Request != nil
	hasExecute := d.Execute != nil
	if hasRequest == hasExecute {
		return fmt.Errorf("isa: %q: exactly one of request or execute must be set", instructionType)
	}
	if d.Optimistic != nil && d.Optimistic.Apply != nil && d.Optimistic.Revert == nil {
		return fmt.Errorf("isa: %q: optimistic.revert is required when optimistic.apply is set", instructionType)
	}
	return nil
}

// Registry holds instruction-type definitions. It is built once at
// startup and then treated as immutable (spec.md §5: "ISA registry:
// immutable after startup") — Register is not safe to call concurrently
// with Lookup, by design: all registration happens before the pipeline
// driver starts.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry returns an empty, mutable Registry. Stop calling Register
// before handing it to the pipeline.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition under instructionType. It panics on a
// malformed definition (missing resource identifier, both or neither of
// request/execute set, or apply without revert) because these are
// startup-time programmer errors, not runtime conditions.
func (r *Registry) Register(instructionType string, def Definition) {
	if err := def.validateShape(instructionType); err != nil {
		panic(err)
	}
	if _, exists := r.defs[instructionType]; exists {
		panic(fmt.Sprintf("isa: duplicate registration for %q", instructionType))
	}
	r.defs[instructionType] = def
}

// Lookup returns the definition for instructionType.
func (r *Registry) Lookup(instructionType string) (Definition, bool) {
	d, ok := r.defs[instructionType]
	return d, ok
}
