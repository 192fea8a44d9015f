package txn

import "github.com/corestack/taskpipe/internal/model"

// Source identifies where an envelope's application was triggered from
// (spec.md §4.C meta.source).
type Source string

const (
	SourceHTTP Source = "http"
	SourcePush Source = "push"
)

// SideEffectGroup is one kind's worth of side effects carried by an
// envelope, applied in the order the envelope declares (spec.md §4.C
// step 3).
type SideEffectGroup struct {
	Kind           model.Kind
	AddedOrUpdated []model.Entity
	Removed        []model.ID
}

// Envelope is the TransactionEnvelope wire shape of spec.md §3/§6: one
// primary mutation plus zero or more ordered side-effect groups.
type Envelope struct {
	PrimaryKind   model.Kind
	Primary       model.Entity
	SideEffects   []SideEffectGroup
	CorrelationID model.ID // zero value means absent
	EventID       model.ID // zero value means absent
}

// Meta carries the dedup tokens and source for a single Apply call
// (spec.md §4.C).
type Meta struct {
	CorrelationID model.ID
	EventID       model.ID
	Source        Source
}

// token returns the dedup key this Meta contributes, or ("", false) if
// it carries neither a correlation id nor an event id.
func (m Meta) token() (string, bool) {
	switch {
	case !m.CorrelationID.IsZero():
		return "c:" + m.CorrelationID.String(), true
	case !m.EventID.IsZero():
		return "e:" + m.EventID.String(), true
	default:
		return "", false
	}
}
