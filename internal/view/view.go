// Package view implements the View Layer (spec.md §4.G): named,
// filter-based projections over the Entity Store, with a per-view
// sorting overlay persisted as a ViewPreference.
package view

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/store"
	"github.com/corestack/taskpipe/internal/viewquery"
)

// Definition is a view identity: a view_key paired with the predicate
// and dedup/sort behavior that defines it (spec.md §4.G: "a view is an
// identity defined by (view_key, filter)").
type Definition struct {
	Key string

	// Filter selects which tasks belong to the view. Nil means every
	// non-deleted task.
	Filter viewquery.Predicate

	// Dedup applies the recurring-task dedup rule (spec.md §4.G) before
	// sorting: within a recurrence_id group, drop completed instances,
	// then keep only the incomplete instance with the lexicographically
	// smallest recurrence_original_date.
	Dedup bool

	// SortByDueDate orders the result ascending by DueDate before the
	// ViewPreference overlay is applied (used by the deadline view).
	SortByDueDate bool
}

// Layer evaluates registered view Definitions against a Store.
type Layer struct {
	store *store.Store

	mu    sync.RWMutex
	views map[string]Definition
}

// New returns a Layer backed by s, pre-registered with the built-in
// views spec.md §4.G names.
func New(s *store.Store) *Layer {
	l := &Layer{store: s, views: make(map[string]Definition)}
	for _, def := range builtinDefinitions() {
		l.Register(def)
	}
	return l
}

// Register installs or replaces def under def.Key.
func (l *Layer) Register(def Definition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views[def.Key] = def
}

// GetView recomputes viewKey's result reactively from the Entity Store
// plus the current ViewPreference overlay (P5: a pure function of
// those two snapshots — nothing else is consulted).
func (l *Layer) GetView(viewKey string) ([]*model.Task, error) {
	l.mu.RLock()
	def, ok := l.views[viewKey]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("view: unknown view_key %q", viewKey)
	}
	return l.evaluate(def)
}

// GetAdHoc evaluates def without registering it, for one-off filter
// expressions (e.g. a user-authored viewquery string) that never need a
// sort-overlay identity of their own.
func (l *Layer) GetAdHoc(def Definition) ([]*model.Task, error) {
	return l.evaluate(def)
}

// GetByQuery parses expr with the viewquery grammar, compiles it against
// now (the reference instant for relative date comparisons such as
// "due_date<1d"), and evaluates the resulting predicate as an ad-hoc view.
// This is the entry point a query-language filter string actually
// reaches production code through, mirroring the teacher's "bd query"
// command.
func (l *Layer) GetByQuery(expr string, now time.Time) ([]*model.Task, error) {
	node, err := viewquery.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("view: parse query: %w", err)
	}
	pred, err := viewquery.NewEvaluator(now).Compile(node)
	if err != nil {
		return nil, fmt.Errorf("view: compile query: %w", err)
	}
	return l.GetAdHoc(Definition{Key: "query:" + expr, Filter: pred})
}

func (l *Layer) evaluate(def Definition) ([]*model.Task, error) {
	candidates := make([]*model.Task, 0)
	for _, e := range l.store.Iter(model.KindTask) {
		t, ok := e.(*model.Task)
		if !ok || t.Deleted() {
			continue
		}
		if def.Filter != nil && !def.Filter(t) {
			continue
		}
		candidates = append(candidates, t)
	}

	if def.Dedup {
		candidates = dedupRecurring(candidates)
	}
	if def.SortByDueDate {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].DueDate.Before(candidates[j].DueDate)
		})
	}

	return l.applyOverlay(def.Key, candidates), nil
}

// dedupRecurring implements spec.md §4.G's recurring-task dedup rule:
// group by recurrence_id, drop completed instances within a group, then
// keep only the incomplete instance with the lexicographically
// smallest recurrence_original_date (P6: at most one incomplete
// instance per group survives).
func dedupRecurring(tasks []*model.Task) []*model.Task {
	groups := make(map[model.ID][]*model.Task)
	var ungrouped []*model.Task
	var groupOrder []model.ID

	for _, t := range tasks {
		if t.RecurrenceID.IsZero() {
			ungrouped = append(ungrouped, t)
			continue
		}
		if _, seen := groups[t.RecurrenceID]; !seen {
			groupOrder = append(groupOrder, t.RecurrenceID)
		}
		groups[t.RecurrenceID] = append(groups[t.RecurrenceID], t)
	}

	out := make([]*model.Task, 0, len(tasks))
	out = append(out, ungrouped...)
	for _, rid := range groupOrder {
		best := bestIncompleteInstance(groups[rid])
		if best != nil {
			out = append(out, best)
		}
	}
	return out
}

// bestIncompleteInstance returns the incomplete task in group with the
// lexicographically smallest RecurrenceOriginalDate, or nil if every
// instance in the group is completed.
func bestIncompleteInstance(group []*model.Task) *model.Task {
	var best *model.Task
	for _, t := range group {
		if t.IsCompleted {
			continue
		}
		if best == nil || t.RecurrenceOriginalDate < best.RecurrenceOriginalDate {
			best = t
		}
	}
	return best
}

// applyOverlay implements sorting overlay semantics (spec.md §4.G):
// entities whose ids appear in the ViewPreference ordering are emitted
// in that order; the rest follow in their existing (natural/insertion
// or due-date-sorted) order. Unknown overlay ids are ignored.
func (l *Layer) applyOverlay(viewKey string, candidates []*model.Task) []*model.Task {
	pref := l.findPreference(viewKey)
	if pref == nil || len(pref.OrderedID) == 0 {
		return candidates
	}

	byID := make(map[model.ID]*model.Task, len(candidates))
	for _, t := range candidates {
		byID[t.ID] = t
	}

	overlaid := make([]*model.Task, 0, len(candidates))
	used := make(map[model.ID]bool, len(candidates))
	for _, id := range pref.OrderedID {
		if t, ok := byID[id]; ok && !used[id] {
			overlaid = append(overlaid, t)
			used[id] = true
		}
	}
	for _, t := range candidates {
		if !used[t.ID] {
			overlaid = append(overlaid, t)
		}
	}
	return overlaid
}

func (l *Layer) findPreference(viewKey string) *model.ViewPreference {
	for _, e := range l.store.Iter(model.KindViewPreference) {
		vp, ok := e.(*model.ViewPreference)
		if !ok || vp.Deleted() {
			continue
		}
		if vp.ViewKey == viewKey {
			return vp
		}
	}
	return nil
}

// ApplySorting records orderedIDs as viewKey's sort overlay (spec.md
// §4.G). It upserts the existing ViewPreference entity for viewKey if
// one exists, preserving its id, or allocates a fresh one.
func (l *Layer) ApplySorting(viewKey string, orderedIDs []model.ID) {
	existing := l.findPreference(viewKey)
	id := model.NewID()
	if existing != nil {
		id = existing.ID
	}
	l.store.AddOrUpdate(model.KindViewPreference, &model.ViewPreference{
		ID:        id,
		ViewKey:   viewKey,
		OrderedID: orderedIDs,
	})
}
