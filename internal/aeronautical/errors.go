package aeronautical

import "errors"

var (
	// ErrMissingField is returned when a required message field is absent.
	ErrMissingField = errors.New("aeronautical: missing field")

	// ErrFieldType is returned when a message field has an unexpected type.
	ErrFieldType = errors.New("aeronautical: unexpected field type")
)
