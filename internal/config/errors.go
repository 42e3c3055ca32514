package config

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for decision client configuration. Every validation
// failure wraps ErrInvalidConfig.
var (
	ErrInvalidConfig = errors.New("invalid decision client config")
	ErrLoadConfig    = errors.New("load decision client config")

	// ErrModelSourceConflict is returned when both model_path and model_url
	// are set.
	ErrModelSourceConflict = fmt.Errorf("%w: conflicting model sources", ErrInvalidConfig)
)
