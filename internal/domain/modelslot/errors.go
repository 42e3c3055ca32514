package modelslot

import "errors"

// Sentinel error kinds for model handling.
var (
	ErrInvalidRange = errors.New("invalid model range")
	// ErrNotModified is returned by a Source when the model has not changed.
	ErrNotModified = errors.New("model not modified")
	ErrEmptyModel  = errors.New("empty model")
)
