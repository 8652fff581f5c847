package store

import "errors"

// Sentinel errors returned by every entity store, following the
// teacher's repositories package convention of wrapping gorm's
// ErrRecordNotFound behind a package-level sentinel so callers never
// import gorm directly.
var (
	// ErrNotFound is returned when a lookup by primary key finds nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists marks a primary-key collision on Create. The
	// GORM-backed stores in this package do not return it; they wrap the
	// database driver's constraint error instead.
	ErrAlreadyExists = errors.New("store: already exists")
)
