// Package txn implements the Transaction Processor (spec.md §4.C): the
// single path by which a server-returned (or server-pushed) envelope is
// applied to the Entity Store, exactly once per dedup token.
package txn

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
)

// DedupCapacity bounds the recently-applied token cache (spec.md §4.C:
// "capacity ~512").
const DedupCapacity = 512

// Processor applies TransactionEnvelopes to an Entity Store. All
// exported methods are safe for concurrent use. The internal lock
// guarding a single logical Apply is never held across I/O (spec.md
// §4.C) because Apply performs none: callers do their I/O first and
// pass the already-decoded envelope in.
type Processor struct {
	store *store.Store
	mu    sync.Mutex
	seen  *lru.Cache[string, struct{}]
}

// New returns a Processor writing into s.
func New(s *store.Store) *Processor {
	cache, err := lru.New[string, struct{}](DedupCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which DedupCapacity
		// never is.
		panic(err)
	}
	return &Processor{store: s, seen: cache}
}

// Apply applies envelope to the store, deduplicating on meta's
// correlation id or event id against a bounded LRU of recently applied
// tokens (spec.md §4.C step 1). Applying the same envelope twice under
// the same token is a no-op the second time (the idempotence contract
// spec.md and property P3 require).
//
// An envelope with neither a correlation id nor an event id is never
// deduplicated: every such Apply call executes in full.
func (p *Processor) Apply(env Envelope, meta Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if token, ok := meta.token(); ok {
		if _, seen := p.seen.Get(token); seen {
			return
		}
		defer p.seen.Add(token, struct{}{})
	}

	if env.Primary != nil {
		p.store.AddOrUpdate(env.PrimaryKind, env.Primary)
	}

	for _, group := range env.SideEffects {
		if len(group.AddedOrUpdated) > 0 {
			p.store.BatchAddOrUpdate(group.Kind, group.AddedOrUpdated)
		}
		for _, id := range group.Removed {
			p.store.Remove(group.Kind, id)
		}
	}
}

// Seen reports whether token (correlation id or event id) has already
// been applied. Exposed for tests and telemetry, not part of the
// spec.md contract.
func (p *Processor) Seen(id model.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen.Get("c:" + id.String()); ok {
		return true
	}
	_, ok := p.seen.Get("e:" + id.String())
	return ok
}
