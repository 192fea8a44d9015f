package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/corestack/taskpipe/internal/correlation"
	"github.com/corestack/taskpipe/internal/isa"
	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
	"github.com/corestack/taskpipe/internal/telemetry"
	"github.com/corestack/taskpipe/internal/txn"
)

// Executor launches an ISA Request template. internal/transport.Client
// satisfies this; tests substitute a fake.
type Executor interface {
	Execute(ctx context.Context, def isa.Definition, payload any, correlationID model.ID, timeout time.Duration) (isa.ExecuteResult, error)
}

// Config tunes the driver. Zero-value TickInterval, MaxConcurrency and
// MaxPending are replaced by their defaults in New; a zero
// ExpireEveryNTicks is kept and disables scheduled sweeping.
type Config struct {
	// TickInterval is the fixed cadence (spec.md §4.F default: 16ms).
	TickInterval time.Duration
	// MaxConcurrency bounds SCH's active set (spec.md §4.F default: 10).
	MaxConcurrency int
	// MaxPending bounds IF's pending queue (SPEC_FULL.md supplement
	// resolving spec.md §9's "unbounded pending queue" open question).
	MaxPending int
	// ExpireEveryNTicks schedules Correlation Registry TTL sweeps
	// (SPEC_FULL.md supplement resolving spec.md §4.B's unscheduled
	// expire()). Zero disables scheduled sweeping.
	ExpireEveryNTicks uint64
}

// DefaultConfig returns spec.md's stated defaults plus SPEC_FULL's
// supplemented tunables.
func DefaultConfig() Config {
	return Config{
		TickInterval:      16 * time.Millisecond,
		MaxConcurrency:    10,
		MaxPending:        1024,
		ExpireEveryNTicks: 64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	return c
}

// Pipeline is the single background driver running IF→SCH→EX→RES→WB
// every tick (spec.md §4.F). It is the sole writer of the Entity Store
// by way of the Transaction Processor and ISA optimistic hooks
// (spec.md I4): callers only ever reach the store through Dispatch.
type Pipeline struct {
	cfg      Config
	store    *store.Store
	registry *isa.Registry
	corr     *correlation.Registry
	txnProc  *txn.Processor
	executor Executor
	log      *slog.Logger

	incoming chan *instruction
	resolved chan *instruction
	nudge    chan struct{}

	mu              sync.Mutex
	pending         []*instruction
	active          map[model.ID]*instruction
	activeResources map[string]struct{}

	tickCount uint64
	driverCtx context.Context

	unregisterGauges func()
}

// New wires a Pipeline over its collaborating components. executor may
// be nil if every registered instruction uses Execute rather than a
// Request template.
func New(cfg Config, s *store.Store, registry *isa.Registry, corr *correlation.Registry, txnProc *txn.Processor, executor Executor, log *slog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:             cfg,
		store:           s,
		registry:        registry,
		corr:            corr,
		txnProc:         txnProc,
		executor:        executor,
		log:             log,
		incoming:        make(chan *instruction, cfg.MaxPending),
		resolved:        make(chan *instruction, cfg.MaxPending),
		nudge:           make(chan struct{}, 1),
		active:          make(map[model.ID]*instruction),
		activeResources: make(map[string]struct{}),
	}

	unregister, err := telemetry.RegisterGauges(telemetry.GaugeReaders{
		QueueDepth: func() int64 {
			p.mu.Lock()
			defer p.mu.Unlock()
			return int64(len(p.pending))
		},
		ActiveResourceCount: func() int64 {
			p.mu.Lock()
			defer p.mu.Unlock()
			return int64(len(p.activeResources))
		},
		CorrelationEntries: func() int64 {
			return int64(corr.Len())
		},
	})
	if err != nil {
		log.Warn("pipeline: telemetry gauges not registered", "error", err)
	} else {
		p.unregisterGauges = unregister
	}

	return p
}

// Close releases the Pipeline's telemetry registrations. Safe to call
// even if telemetry was never successfully registered.
func (p *Pipeline) Close() {
	if p.unregisterGauges != nil {
		p.unregisterGauges()
	}
}

// Dispatch submits (instructionType, payload) and blocks until the
// instruction reaches a terminal state. Per spec.md §5, external
// cancellation of this wait is not supported: the instruction always
// runs to completion regardless of whether a caller is still waiting.
func (p *Pipeline) Dispatch(instructionType string, payload any, callerTag string) (any, error) {
	def, ok := p.registry.Lookup(instructionType)
	if !ok {
		return nil, &Error{Kind: ErrValidation, Message: fmt.Sprintf("unknown instruction type %q", instructionType)}
	}

	instr := &instruction{
		id:              model.NewID(),
		instructionType: instructionType,
		payload:         payload,
		callerTag:       callerTag,
		correlationID:   p.corr.Allocate(),
		def:             def,
		resourceKeys:    def.Meta.ResourceIdentifier(payload),
		priority:        def.Meta.Priority,
		status:          StatusPending,
		resolveCh:       make(chan Result, 1),
	}

	p.mu.Lock()
	full := len(p.pending)+len(p.incoming) >= p.cfg.MaxPending
	p.mu.Unlock()
	if full {
		return nil, &Error{Kind: ErrRateLimited, Message: "pending queue is full"}
	}
	select {
	case p.incoming <- instr:
	default:
		return nil, &Error{Kind: ErrRateLimited, Message: "pending queue is full"}
	}
	p.Nudge()

	res := <-instr.resolveCh
	return res.Value, res.Err
}

// Nudge wakes the driver immediately instead of waiting for the next
// tick (SPEC_FULL.md's event-driven-wakeup supplement).
func (p *Pipeline) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Run drives the pipeline until ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	p.driverCtx = ctx
	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.nudge:
		}
		p.tick()
	}
}

func (p *Pipeline) tick() {
	p.stageIF()
	justIssued := p.stageSCH()
	p.stageEX(justIssued)
	p.stageRES()
	p.stageWB()

	p.tickCount++
	if p.cfg.ExpireEveryNTicks > 0 && p.tickCount%p.cfg.ExpireEveryNTicks == 0 {
		p.corr.Expire()
	}
}

// stageIF drains newly submitted instructions into the pending queue
// (spec.md §4.F IF).
func (p *Pipeline) stageIF() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		select {
		case instr := <-p.incoming:
			instr.timestamps.IF = now
			p.pending = append(p.pending, instr)
		default:
			return
		}
	}
}

// stageSCH runs the admission algorithm (spec.md §4.F SCH, I1): resource
// state is updated inside the issue step before the next candidate is
// considered, so two instructions sharing a key can never both issue in
// one tick. Candidates are scanned in descending priority order, with
// insertion order (FIFO) breaking ties between equal priorities.
func (p *Pipeline) stageSCH() []*instruction {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*instruction, len(p.pending))
	copy(candidates, p.pending)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	issued := make(map[model.ID]bool)
	var justIssued []*instruction
	for {
		issuedThisPass := false
		stopAdmitting := false

		for _, c := range candidates {
			if issued[c.id] {
				continue
			}
			if stopAdmitting || len(p.active) >= p.cfg.MaxConcurrency {
				stopAdmitting = true
				continue
			}
			if intersects(c.resourceKeys, p.activeResources) {
				continue
			}
			c.status = StatusIssued
			c.timestamps.SCH = now
			p.active[c.id] = c
			for _, k := range c.resourceKeys {
				p.activeResources[k] = struct{}{}
			}
			issued[c.id] = true
			justIssued = append(justIssued, c)
			issuedThisPass = true
		}
		if !issuedThisPass {
			break
		}
	}

	if len(issued) > 0 {
		remaining := p.pending[:0:0]
		for _, c := range p.pending {
			if !issued[c.id] {
				remaining = append(remaining, c)
			}
		}
		p.pending = remaining
	}
	return justIssued
}

func intersects(keys []string, active map[string]struct{}) bool {
	for _, k := range keys {
		if _, ok := active[k]; ok {
			return true
		}
	}
	return false
}

// stageEX launches each newly issued instruction (spec.md §4.F EX). It
// never blocks the tick loop: request completion is observed
// asynchronously on p.resolved.
func (p *Pipeline) stageEX(justIssued []*instruction) {
	for _, instr := range justIssued {
		now := time.Now()
		isaCtx := &isa.Context{
			Store:           p.store,
			CorrelationID:   instr.correlationID,
			CallerTag:       instr.callerTag,
			InstructionType: instr.instructionType,
		}

		if instr.def.Validate != nil {
			if err := instr.def.Validate(instr.payload, isaCtx); err != nil {
				instr.err = &Error{Kind: ErrValidation, Message: "payload rejected", Cause: err}
				instr.status = StatusFailed
				instr.timestamps.EX = now
				continue
			}
		}

		if instr.def.Optimistic != nil && instr.def.Optimistic.Apply != nil {
			snapshot, err := instr.def.Optimistic.Apply(instr.payload, isaCtx)
			if err != nil {
				instr.err = &Error{Kind: ErrApplyFailure, Message: "optimistic apply failed", Cause: err}
				instr.status = StatusFailed
				instr.timestamps.EX = now
				continue
			}
			instr.optimisticSnapshot = snapshot
			instr.hasSnapshot = true
			p.corr.Register(instr.correlationID, instr.instructionType)
		}

		ctx := p.driverCtx
		if ctx == nil {
			ctx = context.Background()
		}
		_, instr.span = telemetry.StartInstruction(ctx, instr.instructionType, instr.correlationID.String())

		instr.status = StatusExecuting
		instr.timestamps.EX = now
		p.launch(instr, isaCtx)
	}
}

func (p *Pipeline) launch(instr *instruction, isaCtx *isa.Context) {
	timeout := time.Duration(instr.def.Meta.TimeoutMS) * time.Millisecond
	ctx := p.driverCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		var result isa.ExecuteResult
		var err error
		switch {
		case instr.def.Request != nil:
			if p.executor == nil {
				err = fmt.Errorf("pipeline: instruction %q declares a request template but no executor is configured", instr.instructionType)
			} else {
				result, err = p.executor.Execute(ctx, instr.def, instr.payload, instr.correlationID, timeout)
			}
		case instr.def.Execute != nil:
			execCtx := ctx
			var cancel context.CancelFunc
			if timeout > 0 {
				execCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			result, err = instr.def.Execute(execCtx, instr.payload, isaCtx)
			if cancel != nil {
				cancel()
			}
		default:
			err = fmt.Errorf("pipeline: instruction %q has neither request nor execute", instr.instructionType)
		}

		instr.result = result.Raw
		instr.envelope = result.Envelope
		instr.err = err
		p.resolved <- instr
	}()
}

// stageRES drains completed executions (spec.md §4.F RES).
func (p *Pipeline) stageRES() {
	now := time.Now()
	for {
		select {
		case instr := <-p.resolved:
			if instr.err != nil {
				instr.err = classify(instr.err)
				instr.status = StatusFailed
			} else {
				if instr.envelope != nil {
					p.applyEnvelope(instr)
				}
				instr.status = StatusResolved
			}
			instr.timestamps.RES = now
		default:
			return
		}
	}
}

func (p *Pipeline) applyEnvelope(instr *instruction) {
	env := instr.envelope
	out := txn.Envelope{
		PrimaryKind:   env.PrimaryKind,
		Primary:       env.Primary,
		CorrelationID: instr.correlationID,
		EventID:       env.EventID,
	}
	for _, g := range env.SideEffects {
		out.SideEffects = append(out.SideEffects, txn.SideEffectGroup{
			Kind:           g.Kind,
			AddedOrUpdated: g.AddedOrUpdated,
			Removed:        g.Removed,
		})
	}
	p.txnProc.Apply(out, txn.Meta{
		CorrelationID: instr.correlationID,
		EventID:       env.EventID,
		Source:        txn.SourceHTTP,
	})
}

func classify(err error) error {
	var alreadyClassified *Error
	if errors.As(err, &alreadyClassified) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Message: "request exceeded its deadline", Cause: err}
	}
	kind := ErrTransport
	if hasStatusCode(err) {
		kind = ErrServer
	}
	return &Error{Kind: kind, Message: "execution failed", Cause: err}
}

// hasStatusCode reports whether err carries an HTTP status (a
// transport.ServerError), without pipeline importing internal/transport
// and risking a layering cycle — Go interface satisfaction is
// structural, so matching the method shape is enough.
func hasStatusCode(err error) bool {
	type statusError interface {
		StatusCode() int
	}
	var se statusError
	return errors.As(err, &se)
}

// stageWB finalizes every RESOLVED or FAILED instruction (spec.md §4.F
// WB). Resource release always happens strictly after revert, so a
// retried conflicting instruction never observes partially reverted
// state.
func (p *Pipeline) stageWB() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, instr := range p.active {
		switch instr.status {
		case StatusResolved:
			isaCtx := &isa.Context{Store: p.store, CorrelationID: instr.correlationID, CallerTag: instr.callerTag, InstructionType: instr.instructionType}
			if instr.def.OnSuccess != nil {
				instr.def.OnSuccess(isa.ExecuteResult{Raw: instr.result, Envelope: instr.envelope}, isaCtx)
			}
			p.release(instr)
			instr.status = StatusCompleted
			instr.timestamps.WB = now
			telemetry.EndInstruction(context.Background(), instr.span, wbLatencyMS(instr), nil)
			instr.resolveCh <- Result{Value: instr.result}
			delete(p.active, id)

		case StatusFailed:
			isaCtx := &isa.Context{Store: p.store, CorrelationID: instr.correlationID, CallerTag: instr.callerTag, InstructionType: instr.instructionType}
			if instr.hasSnapshot && instr.def.Optimistic != nil {
				instr.def.Optimistic.Revert(instr.optimisticSnapshot, isaCtx)
			}
			if instr.def.OnFailure != nil {
				instr.def.OnFailure(instr.err, isaCtx)
			}
			p.release(instr)
			instr.status = StatusRolledBack
			instr.timestamps.WB = now
			telemetry.EndInstruction(context.Background(), instr.span, wbLatencyMS(instr), instr.err)
			instr.resolveCh <- Result{Err: instr.err}
			delete(p.active, id)
		}
	}
}

// wbLatencyMS is the observed IF-to-WB span for an instruction, in
// milliseconds. IF is always stamped before WB; a zero IF timestamp
// (not expected in practice) reports zero rather than a bogus negative.
func wbLatencyMS(instr *instruction) float64 {
	if instr.timestamps.IF.IsZero() {
		return 0
	}
	return float64(instr.timestamps.WB.Sub(instr.timestamps.IF)) / float64(time.Millisecond)
}

func (p *Pipeline) release(instr *instruction) {
	for _, k := range instr.resourceKeys {
		delete(p.activeResources, k)
	}
}
