// Package store implements the Entity Store (spec.md §4.A): the
// authoritative in-memory keyed collection of entities, with reactive
// read handles for the View Layer.
package store

import (
	"sync"

	"github.com/corestack/taskpipe/internal/model"
)

// Store holds one insertion-ordered collection per entity Kind. All
// exported methods are safe for concurrent use; writes are observable
// to all readers before the writing call returns (spec.md §4.A).
type Store struct {
	mu          sync.RWMutex
	collections map[model.Kind]*collection
}

// New returns an empty Store.
func New() *Store {
	return &Store{collections: make(map[model.Kind]*collection)}
}

func (s *Store) collectionFor(kind model.Kind) *collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[kind]
	if !ok {
		c = newCollection()
		s.collections[kind] = c
	}
	return c
}

// AddOrUpdate inserts a new record or replaces the existing one sharing
// its id (spec.md I1). Insertion order is preserved across updates: an
// update never moves a record.
func (s *Store) AddOrUpdate(kind model.Kind, record model.Entity) {
	s.collectionFor(kind).put(record)
}

// BatchAddOrUpdate applies records atomically at the granularity of this
// single kind: readers never observe a partially applied batch
// (spec.md §4.A).
func (s *Store) BatchAddOrUpdate(kind model.Kind, records []model.Entity) {
	s.collectionFor(kind).putBatch(records)
}

// Remove deletes a record by id. Removing an id that is not present is a
// no-op (idempotent, spec.md §4.A).
func (s *Store) Remove(kind model.Kind, id model.ID) {
	s.collectionFor(kind).remove(id)
}

// Get returns the record for id, or ok=false if absent.
func (s *Store) Get(kind model.Kind, id model.ID) (model.Entity, bool) {
	return s.collectionFor(kind).get(id)
}

// Iter returns a snapshot of the collection's current records, in
// insertion order. The returned slice is owned by the caller: mutating
// it does not affect the store.
func (s *Store) Iter(kind model.Kind) []model.Entity {
	return s.collectionFor(kind).snapshot()
}

// Subscribe returns a handle that a caller can wait on to learn that
// kind's collection has changed since the last observed version. It
// never blocks a write: a writer closes the previous generation channel
// (broadcasting to every waiter) and installs a new one.
func (s *Store) Subscribe(kind model.Kind) *Subscription {
	return s.collectionFor(kind).subscribe()
}

// collection is one kind's keyed, insertion-ordered, reactively
// observable map.
type collection struct {
	mu      sync.RWMutex
	order   []model.ID
	records map[model.ID]model.Entity
	version uint64
	changed chan struct{}
}

func newCollection() *collection {
	return &collection{
		records: make(map[model.ID]model.Entity),
		changed: make(chan struct{}),
	}
}

func (c *collection) put(record model.Entity) {
	c.mu.Lock()
	c.putLocked(record)
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *collection) putLocked(record model.Entity) {
	id := record.EntityID()
	if _, exists := c.records[id]; !exists {
		c.order = append(c.order, id)
	}
	c.records[id] = record
}

func (c *collection) putBatch(records []model.Entity) {
	c.mu.Lock()
	for _, r := range records {
		c.putLocked(r)
	}
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *collection) remove(id model.ID) {
	c.mu.Lock()
	if _, exists := c.records[id]; exists {
		delete(c.records, id)
		for i, existing := range c.order {
			if existing == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.notifyLocked()
	}
	c.mu.Unlock()
}

func (c *collection) get(id model.ID) (model.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	return r, ok
}

func (c *collection) snapshot() []model.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Entity, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

func (c *collection) notifyLocked() {
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
}

// Subscription is a reactive read handle: Changed() returns a channel
// that closes the next time the subscribed collection is written to.
type Subscription struct {
	c *collection
}

func (c *collection) subscribe() *Subscription {
	return &Subscription{c: c}
}

// Changed returns the channel to wait on for the next write. Call
// Changed again after it fires to keep watching; a stale reference from
// before a write has already fired and must not be reused.
func (sub *Subscription) Changed() <-chan struct{} {
	sub.c.mu.RLock()
	defer sub.c.mu.RUnlock()
	return sub.c.changed
}

// Version returns the collection's current write generation, useful for
// callers that want to detect whether a recompute is already stale.
func (sub *Subscription) Version() uint64 {
	sub.c.mu.RLock()
	defer sub.c.mu.RUnlock()
	return sub.c.version
}
