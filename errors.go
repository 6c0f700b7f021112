package lpmtable

import "github.com/flowbase/lpmtable/internal/lpmerr"

// Sentinel errors returned by every Table operation, matching spec.md §7's
// ArgError/NotFound/AlreadyExists/CapacityExceeded result codes. Callers
// compare with errors.Is.
var (
	ErrArg      = lpmerr.ErrArg
	ErrNotFound = lpmerr.ErrNotFound
	ErrExists   = lpmerr.ErrExists
	ErrCapacity = lpmerr.ErrCapacity
)
