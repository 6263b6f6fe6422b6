package transform

import "errors"

var (
	// ErrMalformedInput is returned for frames the transforms cannot read:
	// nil frames, ragged frames, frames without a time field.
	ErrMalformedInput = errors.New("malformed input")

	// ErrSchemaConflict is returned when two frames disagree on the type of a
	// same-named field.
	ErrSchemaConflict = errors.New("schema conflict")

	ErrInvalidOptions   = errors.New("invalid transform options")
	ErrUnknownTransform = errors.New("unknown transform")
)
