package hub

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ID identifies users, hubs, channels and messages.
type ID = uuid.UUID

// Nil is the zero ID.
var Nil = uuid.Nil

// NewID returns a fresh random ID.
func NewID() ID {
	return uuid.New()
}

// ParseID parses the canonical string form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, errors.Wrapf(err, "invalid id %q", s)
	}
	return id, nil
}

// MustParseID is like ParseID but panics on malformed input. It is meant
// for constants and tests.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}
