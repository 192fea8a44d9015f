// Package correlation implements the Correlation Registry (spec.md
// §4.B): it allocates opaque per-instruction tokens and tracks local
// in-flight writes so the Interrupt Controller can suppress the
// server-pushed echo of a write this process just made.
package correlation

import (
	"sync"
	"time"

	"github.com/corestack/taskpipe/internal/model"
)

// DefaultTTL is the default lifetime of a registered entry, per
// spec.md §3 ("default 30 s").
const DefaultTTL = 30 * time.Second

// Entry records one in-flight local write, keyed by its correlation id.
type Entry struct {
	CorrelationID   model.ID
	InstructionType string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Registry is never authoritative for correctness (spec.md §4.B): a
// missed register or consume is absorbed elsewhere (the Transaction
// Processor's own idempotence, and the at-worst-once double-apply it
// tolerates). Its only required primitive is an atomic test-and-remove.
type Registry struct {
	mu      sync.Mutex
	entries map[model.ID]Entry
	ttl     time.Duration
}

// New returns a Registry using ttl as the default entry lifetime. A
// zero ttl selects DefaultTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		entries: make(map[model.ID]Entry),
		ttl:     ttl,
	}
}

// Allocate returns a cryptographically unguessable id, unique within
// this process's lifetime. It does not register an entry; callers
// register once the optimistic write actually happens (spec.md §3:
// "inserted by WB-optimistic-write").
func (r *Registry) Allocate() model.ID {
	return model.NewID()
}

// Register records a local in-flight write under id. Called by the
// pipeline's EX stage right after the optimistic write (spec.md §4.B).
func (r *Registry) Register(id model.ID, instructionType string) {
	now := time.Now()
	r.mu.Lock()
	r.entries[id] = Entry{
		CorrelationID:   id,
		InstructionType: instructionType,
		CreatedAt:       now,
		ExpiresAt:       now.Add(r.ttl),
	}
	r.mu.Unlock()
}

// Consume atomically tests for and removes the entry for id. It is the
// Interrupt Controller's sole read of this registry: a hit means the
// incoming push event echoes a write this process already applied
// optimistically and must be dropped (spec.md §4.D).
func (r *Registry) Consume(id model.ID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, id)
	return e, true
}

// Expire sweeps entries older than their TTL. It is called periodically
// by the pipeline driver, not on a dedicated goroutine (SPEC_FULL.md
// §4 "TTL sweep scheduling"). A TTL-expired entry is not a failure: if
// its echo event never arrives (e.g. the server dropped it), no harm
// results (spec.md §9).
func (r *Registry) Expire() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := 0
	for id, e := range r.entries {
		if now.After(e.ExpiresAt) {
			delete(r.entries, id)
			expired++
		}
	}
	return expired
}

// Len reports the number of entries currently registered. Exposed for
// telemetry and tests; not part of the spec.md contract.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
