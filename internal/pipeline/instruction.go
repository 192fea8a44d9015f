// Package pipeline implements the five-stage driver — IF → SCH → EX →
// RES → WB — spec.md §4.F describes: the heart of the instruction
// pipeline, ISA-agnostic and ticking at a fixed cadence with an
// event-driven wakeup alongside it.
package pipeline

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/corestack/taskpipe/internal/isa"
	"github.com/corestack/taskpipe/internal/model"
)

// Status is a QueuedInstruction's lifecycle state (spec.md §3).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusIssued     Status = "ISSUED"
	StatusExecuting  Status = "EXECUTING"
	StatusResolved   Status = "RESOLVED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// ErrorKind classifies a pipeline failure (spec.md §7).
type ErrorKind string

const (
	ErrValidation      ErrorKind = "Validation"
	ErrTransport       ErrorKind = "Transport"
	ErrServer          ErrorKind = "Server"
	ErrTimeout         ErrorKind = "Timeout"
	ErrConflictInternal ErrorKind = "ConflictInternal"
	ErrApplyFailure    ErrorKind = "ApplyFailure"
	ErrRateLimited     ErrorKind = "RateLimited"
)

// Error is the structured error every terminal-failure caller promise
// carries (spec.md §7: "the caller surface receives a structured error
// containing status and server message").
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Result is what a caller's submission ultimately resolves to.
type Result struct {
	Value any
	Err   error
}

// Timestamps records when each stage last touched the instruction
// (spec.md §3 "per-stage timestamps").
type Timestamps struct {
	IF, SCH, EX, RES, WB time.Time
}

// instruction is pipeline-internal bookkeeping for one submission. It
// is only ever touched by the driver goroutine once past submission,
// honoring spec.md §5's single-threaded-cooperative model.
type instruction struct {
	id              model.ID
	instructionType string
	payload         any
	callerTag       string
	correlationID   model.ID
	def             isa.Definition
	resourceKeys    []string
	priority        int

	status     Status
	timestamps Timestamps

	optimisticSnapshot any
	hasSnapshot        bool

	result   any
	envelope *isa.Envelope
	err      error

	span      trace.Span
	resolveCh chan Result
}
