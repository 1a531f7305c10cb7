// Package checkpoint persists conversation state between turns.
//
// Every store implements a compare-and-swap Save keyed on State.Version, so a
// second writer of the same session fails with ErrVersionConflict instead of
// silently overwriting a turn.
package checkpoint
