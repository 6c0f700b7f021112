// Package lpmerr defines the sentinel errors shared by every engine and by
// the root façade, so callers can use errors.Is regardless of which engine
// or layer produced the failure.
package lpmerr

import "errors"

var (
	// ErrArg is returned for malformed input: a prefix length outside the
	// address family's range, a zero/over-limit route capacity, or an
	// unknown engine or family selector.
	ErrArg = errors.New("lpmtable: invalid argument")

	// ErrNotFound is returned by exact-match Get/Set/Delete and by LPM
	// when no route matches.
	ErrNotFound = errors.New("lpmtable: route not found")

	// ErrExists is returned by Add when the (prefix, length) key is
	// already present.
	ErrExists = errors.New("lpmtable: route already exists")

	// ErrCapacity is returned by Add once the table's configured
	// max_routes has been reached.
	ErrCapacity = errors.New("lpmtable: capacity exceeded")
)
