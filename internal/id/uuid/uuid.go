// Package uuid generates the time-ordered identifiers used for sessions and
// persisted result rows.
package uuid

import (
	"github.com/google/uuid"
)

// New returns a UUIDv7 string, falling back to a random UUIDv4 if the v7
// clock sequence cannot be read.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
