// Package idgen mints the opaque 128-bit identifiers used for every
// entity. Identifiers are UUIDv7 so that, incidentally, they sort
// close to creation order without being relied upon for ordering
// anywhere in the domain logic.
package idgen

import "github.com/google/uuid"

// ID is an opaque 128-bit identifier rendered as its canonical string
// form on the wire and in the database.
type ID = uuid.UUID

// Nil is the zero-value identifier, used to signal "unset" in contexts
// where a pointer would otherwise be required.
var Nil = uuid.Nil

// New mints a fresh identifier.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the runtime's random source is broken;
		// a random v4 fallback keeps callers panic-free.
		return uuid.New()
	}
	return id
}

// Parse parses the canonical string form of an identifier.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}
