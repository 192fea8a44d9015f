package interrupt

import (
	"encoding/json"
	"fmt"

	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/txn"
)

// wireEnvelope is the raw JSON shape of a TransactionEnvelope (spec.md
// §6). The entity/side-effect payloads stay as json.RawMessage because
// the wire format does not self-describe which Go type an entity
// decodes to; EntityDecoders (supplied per Kind by the caller) resolve
// that, keeping this package itself agnostic of concrete entity kinds.
type wireEnvelope struct {
	Entity        json.RawMessage    `json:"entity"`
	SideEffects   []wireSideEffectSet `json:"side_effects,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	EventID       string             `json:"event_id,omitempty"`
}

// wireSideEffectSet is one kind's worth of side effects. It carries its
// own Kind so that side_effects can be an ordered JSON array rather
// than an object keyed by kind: spec.md §4.C step 3 requires groups to
// apply "in the order declared by the envelope", an order a Go map
// cannot preserve.
type wireSideEffectSet struct {
	Kind           model.Kind        `json:"kind"`
	AddedOrUpdated []json.RawMessage `json:"added_or_updated,omitempty"`
	Removed        []string          `json:"removed,omitempty"`
}

// wirePushEvent is a push-stream event (spec.md §6): {event_id,
// event_type, correlation_id?, payload}.
type wirePushEvent struct {
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Payload       wireEnvelope `json:"payload"`
}

// decodeEnvelope resolves a wireEnvelope into a txn.Envelope using
// primaryKind (carried on the wire event's type, e.g. "task.updated"
// implies kind "task") and decoders keyed by kind.
func decodeEnvelope(primaryKind model.Kind, w wireEnvelope, decoders model.Decoders) (txn.Envelope, error) {
	decode, ok := decoders[primaryKind]
	if !ok {
		return txn.Envelope{}, fmt.Errorf("interrupt: no entity decoder registered for kind %q", primaryKind)
	}
	primary, err := decode(w.Entity)
	if err != nil {
		return txn.Envelope{}, fmt.Errorf("interrupt: decode primary entity: %w", err)
	}

	env := txn.Envelope{
		PrimaryKind: primaryKind,
		Primary:     primary,
	}
	if w.CorrelationID != "" {
		id, err := model.ParseID(w.CorrelationID)
		if err != nil {
			return txn.Envelope{}, fmt.Errorf("interrupt: correlation_id: %w", err)
		}
		env.CorrelationID = id
	}
	if w.EventID != "" {
		id, err := model.ParseID(w.EventID)
		if err != nil {
			return txn.Envelope{}, fmt.Errorf("interrupt: event_id: %w", err)
		}
		env.EventID = id
	}

	for _, set := range w.SideEffects {
		group := txn.SideEffectGroup{Kind: set.Kind}
		decodeKind, ok := decoders[set.Kind]
		if !ok {
			return txn.Envelope{}, fmt.Errorf("interrupt: no entity decoder registered for side-effect kind %q", set.Kind)
		}
		for _, raw := range set.AddedOrUpdated {
			e, err := decodeKind(raw)
			if err != nil {
				return txn.Envelope{}, fmt.Errorf("interrupt: decode side effect entity (%s): %w", set.Kind, err)
			}
			group.AddedOrUpdated = append(group.AddedOrUpdated, e)
		}
		for _, rawID := range set.Removed {
			id, err := model.ParseID(rawID)
			if err != nil {
				return txn.Envelope{}, fmt.Errorf("interrupt: side effect removed id (%s): %w", set.Kind, err)
			}
			group.Removed = append(group.Removed, id)
		}
		env.SideEffects = append(env.SideEffects, group)
	}
	return env, nil
}
