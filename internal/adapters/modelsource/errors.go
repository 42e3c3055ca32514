package modelsource

import "errors"

// Sentinel kinds for model source errors.
var (
	ErrInvalidSource = errors.New("invalid model source")
	ErrFetch         = errors.New("model fetch failed")
)
