package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is the cause of not_found errors returned by job stores.
	ErrJobNotFound = errors.New("job not found")
	// ErrVersionConflict is the cause of persistence_conflict errors returned by Save.
	ErrVersionConflict = errors.New("job version changed since it was loaded")
	// ErrJobExists is returned by Create when the id is already taken.
	ErrJobExists = errors.New("job already exists")
)
