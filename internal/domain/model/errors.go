package model

import "errors"

// Sentinel error kinds for domain records. These allow errors.Is from callers.
var (
	ErrInvalidRecord   = errors.New("invalid record")
	ErrInvalidReward   = errors.New("invalid reward")
	ErrIndexOutOfRange = errors.New("index out of range")
)
