package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrVersionConflict is returned when a guarded write lost a race: the
// route's version changed between read and write. Callers reload and retry
// or surface the conflict.
var ErrVersionConflict = errors.New("storage: version conflict")
