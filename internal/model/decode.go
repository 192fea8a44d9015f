package model

import "encoding/json"

// EntityDecoder turns a kind's raw wire JSON into its concrete Go type.
// Both the push-event stream (internal/interrupt) and the HTTP
// transport (internal/transport) need this: the wire formats spec.md §6
// describes carry no type tag, so whichever Kind is already known from
// context (the event_type, or the instruction that issued the request)
// picks the decoder.
type EntityDecoder func(raw json.RawMessage) (Entity, error)

// Decoders is a convenience registry mapping Kind to its EntityDecoder,
// built once at startup from the concrete Entity types the application
// defines.
type Decoders map[Kind]EntityDecoder

// DefaultDecoders returns decoders for the nine built-in kinds.
func DefaultDecoders() Decoders {
	return Decoders{
		KindTask:           decodeInto(func() Entity { return &Task{} }),
		KindTimeBlock:      decodeInto(func() Entity { return &TimeBlock{} }),
		KindArea:           decodeInto(func() Entity { return &Area{} }),
		KindProject:        decodeInto(func() Entity { return &Project{} }),
		KindProjectSection: decodeInto(func() Entity { return &ProjectSection{} }),
		KindTemplate:       decodeInto(func() Entity { return &Template{} }),
		KindRecurrence:     decodeInto(func() Entity { return &Recurrence{} }),
		KindViewPreference: decodeInto(func() Entity { return &ViewPreference{} }),
		KindSetting:        decodeInto(func() Entity { return &Setting{} }),
	}
}

func decodeInto(zero func() Entity) EntityDecoder {
	return func(raw json.RawMessage) (Entity, error) {
		e := zero()
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, err
		}
		return e, nil
	}
}
