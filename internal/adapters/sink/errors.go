package sink

import "errors"

// Sentinel kinds for sink errors.
var (
	ErrInvalidSink = errors.New("invalid sink configuration")
	ErrTransport   = errors.New("sink transport error")
)
