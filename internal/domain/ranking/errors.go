package ranking

import "errors"

// Sentinel error kinds for rankers. The client falls back to the default
// ranking on any of them.
var (
	ErrNoModel   = errors.New("no model loaded")
	ErrBadModel  = errors.New("model could not be parsed")
	ErrNoActions = errors.New("no actions to rank")
)
