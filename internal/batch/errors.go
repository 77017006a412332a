package batch

import (
	"errors"
	"fmt"
)

// ErrInvariant indicates the persisted batch state or an externally supplied
// item reference no longer lines up with the authoritative item list. It is
// fatal for the pass: something outside the driver corrupted state, and
// silently skipping would hide it.
var ErrInvariant = errors.New("batch invariant violated")

// ErrNotFound indicates a batch id that has no persisted record.
var ErrNotFound = errors.New("batch not found")

func wrapInvariant(batchID string, index int, message string) error {
	return fmt.Errorf("%w: batch %s item %d: %s", ErrInvariant, batchID, index, message)
}
