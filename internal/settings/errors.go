package settings

import "errors"

var (
	// ErrEmptyKey is returned when a setting key is empty.
	ErrEmptyKey = errors.New("settings: key is empty")

	// ErrNotFound is returned when a repository has no value for a key.
	ErrNotFound = errors.New("settings: key not found")

	// ErrUnknownKey is returned when a key may not be set remotely.
	ErrUnknownKey = errors.New("settings: unknown key")

	// ErrInvalidValue is returned when a value cannot be JSON-encoded.
	ErrInvalidValue = errors.New("settings: value is not JSON-encodable")
)
