// Package model defines the entity and value types that flow through the
// Entity Store, the Transaction Processor, and the View Layer.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 16-byte opaque identifier shared by every entity kind and by
// correlation tokens. Two IDs compare equal only if every byte matches;
// callers must never parse structure out of an ID.
type ID uuid.UUID

// NewID allocates a fresh, globally-unique ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("model: parse id %q: %w", s, err)
	}
	return ID(u), nil
}

// IsZero reports whether id is the zero value (never a valid allocated ID).
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
