package location

import "errors"

var (
	// ErrInvalidPosition is returned for coordinates outside ±90/±180 degrees.
	ErrInvalidPosition = errors.New("location: invalid position")

	// ErrMissingSource is returned for updates without a source.
	ErrMissingSource = errors.New("location: update has no source")

	// ErrNotFound is returned when no entry exists for a source key.
	ErrNotFound = errors.New("location: not found")
)
