package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when an update loses a compare-and-set race,
// e.g. writing a result that is already terminal.
var ErrConflict = errors.New("storage: conflict")
